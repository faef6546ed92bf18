package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ys7zTS/sandbox/tools/errs"
)

func dispatch(d *Dispatcher, sess *Session, typ, data, echo string) *Frame {
	req := &Request{Type: typ, Data: json.RawMessage(data)}
	if echo != "" {
		req.Echo = json.RawMessage(echo)
	}
	return d.Dispatch(context.Background(), nil, sess, req)
}

func TestDispatchEchoesAndReturnsData(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.RegisterFunc("ping", func(c *Context, data json.RawMessage) (any, error) {
		assert.Equal(t, int64(0), c.UserID())
		return string(data), nil
	})

	f := dispatch(d, newSession(1, "", 1, time.Now()), "ping", `{"a":1}`, `"e-1"`)
	assert.Nil(t, f.Error)
	assert.Equal(t, "ping", f.Type)
	assert.Equal(t, `{"a":1}`, f.Data)
	assert.JSONEq(t, `"e-1"`, string(f.Echo))

	b, err := EncodeFrame(dispatch(d, newSession(2, "", 1, time.Now()), "ping", `{}`, ""))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "echo")
}

func TestDispatchUnknownAction(t *testing.T) {
	d := NewDispatcher(time.Second)
	f := dispatch(d, newSession(1, "", 1, time.Now()), "fly", `{}`, `7`)
	require.NotNil(t, f.Error)
	assert.Equal(t, "UnknownAction", f.Error.Kind)
	assert.Equal(t, errs.UnknownActionCode, f.Error.Code)
	assert.JSONEq(t, `7`, string(f.Echo))
}

func TestDispatchHandlerError(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.RegisterFunc("get", func(*Context, json.RawMessage) (any, error) {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "userId", 5)
	})
	f := dispatch(d, newSession(1, "", 1, time.Now()), "get", `{}`, "")
	require.NotNil(t, f.Error)
	assert.Equal(t, "NotFound", f.Error.Kind)
	assert.Contains(t, f.Error.Message, "user not found")
}

func TestDispatchRecoversPanic(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.RegisterFunc("boom", func(*Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})
	f := dispatch(d, newSession(1, "", 1, time.Now()), "boom", `{}`, "")
	require.NotNil(t, f.Error)
	assert.Equal(t, "Internal", f.Error.Kind)
}

func TestDispatchTimesOutButHandlerFinishes(t *testing.T) {
	d := NewDispatcher(20 * time.Millisecond)
	release := make(chan struct{})
	finished := make(chan error, 1)
	d.RegisterFunc("slow", func(c *Context, _ json.RawMessage) (any, error) {
		<-release
		finished <- c.Err()
		return "late", nil
	})

	f := dispatch(d, newSession(1, "", 1, time.Now()), "slow", `{}`, `"x"`)
	require.NotNil(t, f.Error)
	assert.Equal(t, "TransportTimeout", f.Error.Kind)
	assert.JSONEq(t, `"x"`, string(f.Echo))

	close(release)
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler did not finish")
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"type":"heartbeat","echo":{"id":3}}`))
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", req.Type)
	assert.JSONEq(t, `{"id":3}`, string(req.Echo))

	_, err = ParseRequest([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = ParseRequest([]byte(`not json`))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
