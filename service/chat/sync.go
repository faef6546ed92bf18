package chat

import (
	"context"
	"errors"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/readstate"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

// Snapshot is the full state pushed as sync_all.
type Snapshot struct {
	Me       *model.User `json:"me"`
	Contacts []Contact   `json:"contacts"`
}

// Contact is one conversation entry: a user (private) or a group. The
// record itself is embedded so its fields sit beside the summary.
type Contact struct {
	*model.User
	*model.Group

	Type        model.ConvType `json:"type"`
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	LastMessage *model.Message `json:"lastMessage"`
	// lastMsg 为网页端读取的字段名
	LastMsg     *model.Message `json:"lastMsg"`
	UnreadCount int64          `json:"unreadCount"`
}

// Syncer builds snapshots from the stores.
type Syncer struct {
	ids   store.IdentityStore
	conv  store.ConversationStore
	reads *readstate.Tracker
}

func NewSyncer(ids store.IdentityStore, conv store.ConversationStore, reads *readstate.Tracker) *Syncer {
	return &Syncer{ids: ids, conv: conv, reads: reads}
}

// Snapshot builds the view of userID. A user that no longer exists is
// reported as the guest; the caller should rebind the session.
func (s *Syncer) Snapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	me := model.Guest()
	if userID != model.GuestUserID {
		u, err := s.ids.GetUser(ctx, userID)
		switch {
		case err == nil:
			me = u
		case errors.Is(err, errs.ErrNotFound):
			userID = model.GuestUserID
		default:
			return nil, err
		}
	}

	users, err := s.ids.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.ids.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	contacts := make([]Contact, 0, len(users)+len(groups))
	// 自己也在列表里，自聊分区为 p:U:U
	for _, u := range users {
		c := Contact{User: u, Type: model.ConvPrivate, ID: u.UserID, Name: u.Nickname}
		// 游客没有私聊视角
		if userID != model.GuestUserID {
			if err := s.fill(ctx, &c, userID, model.PrivatePartition(userID, u.UserID)); err != nil {
				return nil, err
			}
		}
		contacts = append(contacts, c)
	}
	for _, g := range groups {
		c := Contact{Group: g, Type: model.ConvGroup, ID: g.GroupID, Name: g.GroupName}
		if err := s.fill(ctx, &c, userID, model.GroupPartition(g.GroupID)); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return &Snapshot{Me: me, Contacts: contacts}, nil
}

func (s *Syncer) fill(ctx context.Context, c *Contact, userID int64, p model.Partition) error {
	last, st, err := s.conv.Latest(ctx, p)
	if err != nil {
		return err
	}
	c.LastMessage, c.LastMsg = last, last
	c.UnreadCount, err = s.reads.Unread(ctx, userID, c.Type, c.ID, st)
	return err
}
