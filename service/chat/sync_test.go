package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/readstate"
	"github.com/ys7zTS/sandbox/module/chat/store/sqlstore"
)

func newSyncFixture(t *testing.T) (*sqlstore.Stores, *Syncer) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlstore.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	st := sqlstore.New(db)
	for _, u := range []*model.User{{UserID: 10001, Nickname: "Alice"}, {UserID: 20002, Nickname: "Bob"}} {
		require.NoError(t, st.Identities.SaveUser(ctx, u))
	}
	require.NoError(t, st.Identities.SaveGroup(ctx, &model.Group{
		GroupID: 100001, GroupName: "g", OwnerID: 10001,
		MemberList: []model.GroupMember{{UserID: 20002}},
	}))
	return st, NewSyncer(st.Identities, st.Conversations, readstate.New(st.ReadStates))
}

func contactOf(snap *Snapshot, kind model.ConvType, id int64) *Contact {
	for i := range snap.Contacts {
		if c := &snap.Contacts[i]; c.Type == kind && c.ID == id {
			return c
		}
	}
	return nil
}

func TestSnapshotUnreadAndLastMessage(t *testing.T) {
	ctx := context.Background()
	st, syncer := newSyncFixture(t)
	for i := 0; i < 3; i++ {
		_, err := st.Conversations.Append(ctx, &model.Message{
			Type: model.ConvPrivate, SenderID: 10001, TargetID: 20002, Content: model.TextContent("hi"),
		})
		require.NoError(t, err)
	}
	_, err := st.ReadStates.Advance(ctx, 20002, model.ConvPrivate, 10001, 1)
	require.NoError(t, err)

	snap, err := syncer.Snapshot(ctx, 20002)
	require.NoError(t, err)
	assert.Equal(t, "Bob", snap.Me.Nickname)
	self := contactOf(snap, model.ConvPrivate, 20002)
	require.NotNil(t, self)
	assert.Nil(t, self.LastMessage)

	alice := contactOf(snap, model.ConvPrivate, 10001)
	require.NotNil(t, alice)
	assert.Equal(t, int64(2), alice.UnreadCount)
	require.NotNil(t, alice.LastMessage)
	assert.Equal(t, int64(3), alice.LastMessage.Seq)
	assert.Same(t, alice.LastMessage, alice.LastMsg)
	require.NotNil(t, alice.User)
	assert.Equal(t, "Alice", alice.User.Nickname)
	assert.Nil(t, alice.Group)

	group := contactOf(snap, model.ConvGroup, 100001)
	require.NotNil(t, group)
	assert.Nil(t, group.LastMessage)
	assert.Zero(t, group.UnreadCount)
	require.NotNil(t, group.Group)
	assert.Equal(t, int64(10001), group.Group.OwnerID)
}

func TestSnapshotIncludesSelfConversation(t *testing.T) {
	ctx := context.Background()
	st, syncer := newSyncFixture(t)
	for i := 0; i < 2; i++ {
		_, err := st.Conversations.Append(ctx, &model.Message{
			Type: model.ConvPrivate, SenderID: 20002, TargetID: 20002, Content: model.TextContent("note"),
		})
		require.NoError(t, err)
	}

	snap, err := syncer.Snapshot(ctx, 20002)
	require.NoError(t, err)
	assert.Len(t, snap.Contacts, 3)

	self := contactOf(snap, model.ConvPrivate, 20002)
	require.NotNil(t, self)
	require.NotNil(t, self.LastMessage)
	assert.Equal(t, int64(2), self.LastMessage.Seq)
	assert.Equal(t, int64(2), self.UnreadCount)
	assert.Nil(t, contactOf(snap, model.ConvPrivate, 10001).LastMessage)
}

func TestContactJSONCarriesRecord(t *testing.T) {
	_, syncer := newSyncFixture(t)
	snap, err := syncer.Snapshot(context.Background(), 10001)
	require.NoError(t, err)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var out struct {
		Contacts []map[string]any `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Contacts, 3)

	var group map[string]any
	for _, c := range out.Contacts {
		if c["type"] == "group" {
			group = c
		}
	}
	require.NotNil(t, group)
	assert.EqualValues(t, 100001, group["groupId"])
	assert.EqualValues(t, 10001, group["ownerId"])
	assert.Contains(t, group, "memberList")
	assert.Contains(t, group, "lastMsg")
	assert.NotContains(t, group, "userId")
}

func TestSnapshotGuestAndVanishedUser(t *testing.T) {
	ctx := context.Background()
	st, syncer := newSyncFixture(t)
	_, err := st.Conversations.Append(ctx, &model.Message{
		Type: model.ConvGroup, SenderID: 10001, TargetID: 100001, Content: model.TextContent("hi"),
	})
	require.NoError(t, err)

	for _, uid := range []int64{model.GuestUserID, 99999} {
		snap, err := syncer.Snapshot(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, model.GuestUserID, snap.Me.UserID)
		assert.Len(t, snap.Contacts, 3)

		alice := contactOf(snap, model.ConvPrivate, 10001)
		require.NotNil(t, alice)
		assert.Nil(t, alice.LastMessage)

		group := contactOf(snap, model.ConvGroup, 100001)
		require.NotNil(t, group)
		require.NotNil(t, group.LastMessage)
		assert.Zero(t, group.UnreadCount)
	}
}
