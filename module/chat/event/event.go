// Package event carries domain events from the write path to whoever
// delivers them: the live broadcaster and the optional relays.
package event

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/tools/errs"
)

// Event is one of MessagePersisted, MessageRecalled or MembershipChanged.
type Event interface {
	// Name is a stable identifier usable as a subject or topic suffix.
	Name() string
	sealed()
}

// MessagePersisted follows a successful append. Message.TempID carries the
// sender's correlation id when one was given.
type MessagePersisted struct {
	Message *model.Message `json:"message"`
}

// MessageRecalled follows a recall; Message has IsRevoked set.
type MessageRecalled struct {
	Message *model.Message `json:"message"`
}

// MembershipChanged is raised when a group's member set or roles change.
// UserIDs are the users affected, including ones who just left.
type MembershipChanged struct {
	GroupID   int64   `json:"groupId"`
	UserIDs   []int64 `json:"userIds"`
	Dissolved bool    `json:"dissolved,omitempty"`
}

func (MessagePersisted) Name() string  { return "message" }
func (MessageRecalled) Name() string   { return "recall" }
func (MembershipChanged) Name() string { return "group_member_update" }

func (MessagePersisted) sealed()  {}
func (MessageRecalled) sealed()   {}
func (MembershipChanged) sealed() {}

type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Publisher is what the services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Bus delivers every event synchronously to its handlers in subscription
// order. A panicking handler is logged and does not stop the others.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *zap.Logger
}

func NewBus(handlers ...Handler) *Bus {
	return &Bus{handlers: handlers, log: logger.Named("event")}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers))
	copy(hs, b.handlers)
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(ctx, h, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", zap.String("event", ev.Name()), zap.Error(errs.ErrPanic(r)))
		}
	}()
	h.HandleEvent(ctx, ev)
}

// Discard drops every event.
var Discard Publisher = HandlerFuncPublisher(func(context.Context, Event) {})

// HandlerFuncPublisher adapts a function to Publisher.
type HandlerFuncPublisher func(ctx context.Context, ev Event)

func (f HandlerFuncPublisher) Publish(ctx context.Context, ev Event) { f(ctx, ev) }
