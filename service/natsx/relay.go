// Package natsx mirrors chat events onto NATS subjects.
package natsx

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/module/chat/event"
)

// Publisher is satisfied by *Client.
type Publisher interface {
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
}

// EventNames are the biz names the relay publishes under.
var EventNames = []string{
	event.MessagePersisted{}.Name(),
	event.MessageRecalled{}.Name(),
	event.MembershipChanged{}.Name(),
}

// RegisterEventRoutes routes every event to <prefix>.<event name>.
func RegisterEventRoutes(c *Client, prefix string, mode Mode) error {
	if prefix == "" {
		prefix = "sandbox"
	}
	for _, name := range EventNames {
		if err := c.RegisterRoute(Route{Biz: name, Subject: prefix + "." + name, Mode: mode}); err != nil {
			return err
		}
	}
	return nil
}

// Relay publishes each event as a JSON envelope.
type Relay struct {
	pub Publisher
	now func() time.Time
	log *zap.Logger
}

var _ event.Handler = (*Relay)(nil)

func NewRelay(pub Publisher) *Relay {
	return &Relay{pub: pub, now: time.Now, log: logger.Named("natsx")}
}

func (r *Relay) HandleEvent(ctx context.Context, ev event.Event) {
	data, err := event.Encode(ev, r.now())
	if err != nil {
		r.log.Error("encode event", zap.String("event", ev.Name()), zap.Error(err))
		return
	}
	hdr := map[string]string{"Event": ev.Name(), "Key": event.Key(ev)}
	if id := event.ID(ev); id != "" {
		hdr[nats.MsgIdHdr] = id
	}
	if err := r.pub.Publish(ctx, ev.Name(), data, hdr); err != nil {
		r.log.Warn("publish event", zap.String("event", ev.Name()), zap.Error(err))
	}
}

