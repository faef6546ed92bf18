package chat

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/tools/errs"
)

// Dispatcher routes actions to handlers. A failed or unknown action yields
// an error frame; it never closes the connection.
type Dispatcher struct {
	handlers map[string]Handler
	timeout  time.Duration
	log      *zap.Logger
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{handlers: make(map[string]Handler), timeout: timeout, log: logger.Named("dispatcher")}
}

func (d *Dispatcher) Register(action string, h Handler) { d.handlers[action] = h }

func (d *Dispatcher) RegisterFunc(action string, f func(c *Context, data json.RawMessage) (any, error)) {
	d.Register(action, HandlerFunc(f))
}

func (d *Dispatcher) GetHandler(action string) Handler {
	return d.handlers[action]
}

type outcome struct {
	data any
	err  error
}

// Dispatch runs the handler detached from the connection's lifetime. The
// response waits at most the request timeout; past it the caller gets
// TransportTimeout while the handler runs to completion and its result is
// discarded.
func (d *Dispatcher) Dispatch(parent context.Context, s *Server, sess *Session, req *Request) *Frame {
	h := d.handlers[req.Type]
	if h == nil {
		d.log.Warn("unknown action", zap.String("type", req.Type), zap.Int64("connId", sess.ID))
		return ErrorFrame(req.Type, req.Echo, errs.ErrUnknownAction.WrapMsg("unknown action", "type", req.Type))
	}

	ctx := context.WithoutCancel(parent)
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("handler panicked", zap.String("type", req.Type), zap.Any("panic", r))
				done <- outcome{err: errs.ErrPanic(r)}
			}
		}()
		data, err := h.Handle(&Context{Context: ctx, Server: s, Session: sess}, req.Data)
		done <- outcome{data: data, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return d.respond(req, out)
	case <-timer.C:
		select {
		case out := <-done:
			return d.respond(req, out)
		default:
		}
		return ErrorFrame(req.Type, req.Echo, errs.ErrTransportTimeout.WrapMsg("action timed out", "type", req.Type, "timeout", d.timeout))
	}
}

func (d *Dispatcher) respond(req *Request, out outcome) *Frame {
	if out.err != nil {
		d.log.Debug("action failed", zap.String("type", req.Type), zap.Error(out.err))
		return ErrorFrame(req.Type, req.Echo, out.err)
	}
	return &Frame{Type: req.Type, Data: out.data, Echo: req.Echo}
}
