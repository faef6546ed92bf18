package errs

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrNotFound.WrapMsg("user not found", "userId", 42)
	wrapped := pkgerrors.Wrap(err, "load user")

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrInvalidArgument))

	ce := AsCode(wrapped)
	require.NotNil(t, ce)
	assert.Equal(t, NotFoundCode, ce.Code)
	assert.Equal(t, "NotFound", ce.Msg)
	assert.Equal(t, "user not found, userId=42", ce.Message())
	assert.Empty(t, ErrNotFound.Detail)
}

func TestAsCodeFallsBackToInternal(t *testing.T) {
	ce := AsCode(errors.New("disk full"))
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "disk full", ce.Message())
	assert.Nil(t, AsCode(nil))
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("boom")
	assert.True(t, errors.Is(err, ErrInternal))
	assert.Equal(t, "boom", AsCode(err).Detail)
	assert.Equal(t, "Internal", AsCode(err).Msg)
	assert.Equal(t, ServerInternalError, AsCode(err).Code)
}

func TestWithDetailAppends(t *testing.T) {
	e := ErrInvalidArgument.WithDetail("a").WithDetail("b")
	assert.Equal(t, "a, b", e.Detail)
	assert.Equal(t, "1001 InvalidArgument a, b", e.Error())
}
