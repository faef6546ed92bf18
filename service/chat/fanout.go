package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/module/chat/event"
	"github.com/ys7zTS/sandbox/module/chat/model"
)

// MemberLister resolves the current members of a group.
type MemberLister interface {
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// Broadcaster turns domain events into pushed frames for every open
// session of the recipients. Delivery is at most once: a full queue drops.
type Broadcaster struct {
	reg     *Registry
	members MemberLister
	log     *zap.Logger
}

var _ event.Handler = (*Broadcaster)(nil)

func NewBroadcaster(reg *Registry, members MemberLister) *Broadcaster {
	return &Broadcaster{reg: reg, members: members, log: logger.Named("broadcast")}
}

func (b *Broadcaster) HandleEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.MessagePersisted:
		b.deliver(b.recipients(ctx, e.Message), &Frame{Type: EventMessage, Data: e.Message})
	case event.MessageRecalled:
		m := e.Message
		b.deliver(b.recipients(ctx, m), &Frame{Type: EventRecall, Data: RecallPush{
			Type:     string(m.Type),
			TargetID: m.TargetID,
			PeerID:   m.PeerID,
			Seq:      m.Seq,
			SenderID: m.SenderID,
		}})
	case event.MembershipChanged:
		users := append([]int64{}, e.UserIDs...)
		if !e.Dissolved {
			current, err := b.members.MemberIDs(ctx, e.GroupID)
			if err != nil {
				b.log.Warn("resolve group members", zap.Int64("groupId", e.GroupID), zap.Error(err))
			}
			users = append(users, current...)
		}
		b.deliver(users, &Frame{Type: EventGroupMemberUpdate, Data: MemberUpdatePush{
			GroupID:   e.GroupID,
			UserIDs:   e.UserIDs,
			Dissolved: e.Dissolved,
		}})
	}
}

// recipients: private goes to both participants, group to its current members.
func (b *Broadcaster) recipients(ctx context.Context, m *model.Message) []int64 {
	if m == nil {
		return nil
	}
	if m.Type == model.ConvPrivate {
		return []int64{m.SenderID, m.TargetID}
	}
	ids, err := b.members.MemberIDs(ctx, m.TargetID)
	if err != nil {
		b.log.Warn("resolve group members", zap.Int64("groupId", m.TargetID), zap.Error(err))
		return nil
	}
	return ids
}

func (b *Broadcaster) deliver(userIDs []int64, f *Frame) {
	if len(userIDs) == 0 {
		return
	}
	sessions := b.reg.ByUsers(userIDs)
	if len(sessions) == 0 {
		return
	}
	payload, err := EncodeFrame(f)
	if err != nil {
		b.log.Error("encode push frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	for _, s := range sessions {
		if !s.Enqueue(payload) {
			b.log.Warn("drop push frame", zap.String("type", f.Type), zap.Int64("connId", s.ID), zap.Int64("userId", s.UserID()))
		}
	}
}
