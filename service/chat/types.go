package chat

import (
	"context"
	"encoding/json"
)

// Handler serves one action. The returned value becomes the response data.
type Handler interface {
	Handle(c *Context, data json.RawMessage) (any, error)
}

type HandlerFunc func(c *Context, data json.RawMessage) (any, error)

func (f HandlerFunc) Handle(c *Context, data json.RawMessage) (any, error) { return f(c, data) }

// Context carries a context detached from the connection plus the server
// and the requesting session.
type Context struct {
	context.Context
	Server  *Server
	Session *Session
}

// UserID is the identity the session is bound to; 0 for a guest.
func (c *Context) UserID() int64 {
	if c.Session == nil {
		return 0
	}
	return c.Session.UserID()
}
