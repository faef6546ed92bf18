package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

func newStores(t *testing.T) *Stores {
	t.Helper()
	db, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db)
}

func text(s string) model.Content { return model.TextContent(s) }

func privateMsg(from, to int64, body string) *model.Message {
	return &model.Message{Type: model.ConvPrivate, SenderID: from, TargetID: to, Content: text(body)}
}

func groupMsg(from, group int64, body string) *model.Message {
	return &model.Message{Type: model.ConvGroup, SenderID: from, TargetID: group, Content: text(body)}
}

func TestAppendSequencesAreDenseAndUnique(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations

	const workers, per = 4, 25
	var (
		mu   sync.Mutex
		seqs []int64
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				from, to := int64(10001), int64(20002)
				if w%2 == 1 {
					from, to = to, from
				}
				m, err := s.Append(ctx, privateMsg(from, to, "x"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seqs = append(seqs, m.Seq)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seqs, workers*per)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestPartitionSymmetryAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations

	m1, err := s.Append(ctx, privateMsg(10001, 20002, "hi"))
	require.NoError(t, err)
	m2, err := s.Append(ctx, privateMsg(20002, 10001, "hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), m1.Seq)
	assert.Equal(t, int64(2), m2.Seq)
	assert.Equal(t, "10001:20002", m2.PeerID)

	g, err := s.Append(ctx, groupMsg(10001, 30001, "group"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.Seq, "partitions have independent counters")

	fromA, err := s.Read(ctx, model.ConvPrivate, 20002, 10001, 0)
	require.NoError(t, err)
	fromB, err := s.Read(ctx, model.ConvPrivate, 10001, 20002, 0)
	require.NoError(t, err)
	require.Len(t, fromA, 2)
	assert.Equal(t, fromA, fromB)
	assert.Equal(t, "hi", fromA[0].Content.PlainText())
	assert.Equal(t, "hello", fromA[1].Content.PlainText())
}

func TestReadReturnsNewestOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, groupMsg(10001, 30001, "m"))
		require.NoError(t, err)
	}

	got, err := s.Read(ctx, model.ConvGroup, 30001, 0, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})

	guest, err := s.Read(ctx, model.ConvPrivate, 10001, model.GuestUserID, 10)
	require.NoError(t, err)
	assert.Empty(t, guest)

	empty, err := s.Read(ctx, model.ConvGroup, 99999, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAppendStampsTimeAndIgnoresClientFields(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations
	at := time.Unix(1700000000, 0)
	s.WithClock(func() time.Time { return at })

	in := groupMsg(10001, 30001, "x")
	in.Seq, in.Timestamp, in.IsRevoked = 99, 1, true
	out, err := s.Append(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Seq)
	assert.Equal(t, at.Unix(), out.Timestamp)
	assert.False(t, out.IsRevoked)
}

func TestRecallIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations
	m, err := s.Append(ctx, privateMsg(10001, 20002, "oops"))
	require.NoError(t, err)
	p := model.PrivatePartition(10001, 20002)

	first, err := s.Recall(ctx, p, m.Seq)
	require.NoError(t, err)
	second, err := s.Recall(ctx, p, m.Seq)
	require.NoError(t, err)
	assert.True(t, first.IsRevoked)
	assert.Equal(t, first, second)

	rows, err := s.Read(ctx, model.ConvPrivate, 20002, 10001, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsRevoked)
	assert.Equal(t, "oops", rows[0].Content.PlainText())

	_, err = s.Recall(ctx, p, 42)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestClearKeepsCounter(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations
	p := model.PrivatePartition(10001, 20002)
	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, privateMsg(10001, 20002, "m"))
		require.NoError(t, err)
	}

	require.NoError(t, s.ClearConversation(ctx, p))
	rows, err := s.Read(ctx, model.ConvPrivate, 20002, 10001, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	last, st, err := s.Latest(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Equal(t, store.PartitionState{LastSeq: 3, MinSeq: 3}, st)

	next, err := s.Append(ctx, privateMsg(20002, 10001, "again"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Seq)
}

func TestClearSender(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations
	_, err := s.Append(ctx, privateMsg(10001, 20002, "a"))
	require.NoError(t, err)
	_, err = s.Append(ctx, privateMsg(30003, 20002, "keep"))
	require.NoError(t, err)
	_, err = s.Append(ctx, groupMsg(10001, 30001, "gone"))
	require.NoError(t, err)
	_, err = s.Append(ctx, groupMsg(20002, 30001, "stays"))
	require.NoError(t, err)

	require.NoError(t, s.ClearSender(ctx, 10001))

	rows, err := s.Read(ctx, model.ConvPrivate, 10001, 20002, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = s.Read(ctx, model.ConvPrivate, 30003, 20002, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	rows, err = s.Read(ctx, model.ConvGroup, 30001, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(20002), rows[0].SenderID)
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Conversations
	p := model.GroupPartition(30001)

	last, st, err := s.Latest(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Zero(t, st.LastSeq)

	_, err = s.Append(ctx, groupMsg(10001, 30001, "one"))
	require.NoError(t, err)
	_, err = s.Append(ctx, groupMsg(10001, 30001, "two"))
	require.NoError(t, err)

	last, st, err = s.Latest(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "two", last.Content.PlainText())
	assert.Equal(t, int64(2), st.LastSeq)
}

func seedUsers(t *testing.T, s *IdentityStore, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.SaveUser(context.Background(), &model.User{UserID: id}))
	}
}

func TestSaveUserAndFriendships(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Identities
	seedUsers(t, s, 10001, 20002, 30003)

	u, err := s.GetUser(ctx, 10001)
	require.NoError(t, err)
	assert.Equal(t, "User 10001", u.Nickname)
	assert.Equal(t, model.GenderUnknown, u.Gender)
	assert.Empty(t, u.FriendList)

	require.NoError(t, s.SetFriendship(ctx, 10001, 20002, store.FriendAdd))
	require.NoError(t, s.SetFriendship(ctx, 10001, 20002, store.FriendAdd))
	a, err := s.GetUser(ctx, 10001)
	require.NoError(t, err)
	b, err := s.GetUser(ctx, 20002)
	require.NoError(t, err)
	assert.Equal(t, []int64{20002}, a.FriendList)
	assert.Equal(t, []int64{10001}, b.FriendList)

	// nil friend list keeps friendships
	require.NoError(t, s.SaveUser(ctx, &model.User{UserID: 10001, Nickname: "Alice", Gender: "female"}))
	a, err = s.GetUser(ctx, 10001)
	require.NoError(t, err)
	assert.Equal(t, "Alice", a.Nickname)
	assert.Equal(t, []int64{20002}, a.FriendList)

	// explicit list replaces them, both directions
	require.NoError(t, s.SaveUser(ctx, &model.User{UserID: 10001, FriendList: []int64{30003}}))
	b, err = s.GetUser(ctx, 20002)
	require.NoError(t, err)
	assert.Empty(t, b.FriendList)
	c, err := s.GetUser(ctx, 30003)
	require.NoError(t, err)
	assert.Equal(t, []int64{10001}, c.FriendList)

	err = s.SetFriendship(ctx, 10001, 99999, store.FriendAdd)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	err = s.SetFriendship(ctx, 10001, 10001, store.FriendAdd)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	require.NoError(t, s.SetFriendship(ctx, 10001, 30003, store.FriendRemove))
	c, err = s.GetUser(ctx, 30003)
	require.NoError(t, err)
	assert.Empty(t, c.FriendList)
}

func ownerCount(g *model.Group) int {
	n := 0
	for _, m := range g.MemberList {
		if m.Role == model.RoleOwner {
			n++
		}
	}
	return n
}

func TestGroupOwnershipInvariant(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Identities
	seedUsers(t, s, 10001, 20002, 30003)

	require.NoError(t, s.SaveGroup(ctx, &model.Group{
		GroupID: 30001,
		OwnerID: 10001,
		MemberList: []model.GroupMember{
			{UserID: 20002, Card: "Bobby"},
			{UserID: 30003},
		},
		AdminList: []int64{20002},
	}))
	g, err := s.GetGroup(ctx, 30001)
	require.NoError(t, err)
	assert.Equal(t, "Group 30001", g.GroupName)
	assert.Equal(t, 1, ownerCount(g))
	assert.Equal(t, []int64{20002}, g.AdminList)
	m, ok := g.Member(20002)
	require.True(t, ok)
	assert.Equal(t, "Bobby", m.DisplayName())

	err = s.RemoveMember(ctx, 30001, 10001)
	assert.True(t, errors.Is(err, errs.ErrInvalidRoleTransition))

	_, err = s.TransferOwnership(ctx, 30001, 30003)
	assert.True(t, errors.Is(err, errs.ErrInvalidRoleTransition), "plain members cannot become owner")

	old, err := s.TransferOwnership(ctx, 30001, 20002)
	require.NoError(t, err)
	assert.Equal(t, int64(10001), old)
	g, err = s.GetGroup(ctx, 30001)
	require.NoError(t, err)
	assert.Equal(t, int64(20002), g.OwnerID)
	assert.Equal(t, 1, ownerCount(g))
	prev, _ := g.Member(10001)
	assert.Equal(t, model.RoleAdmin, prev.Role)

	err = s.SetAdmin(ctx, 30001, 20002, false)
	assert.True(t, errors.Is(err, errs.ErrInvalidRoleTransition))
	require.NoError(t, s.SetAdmin(ctx, 30001, 30003, true))

	// saving with a new owner demotes the old one
	require.NoError(t, s.SaveGroup(ctx, &model.Group{GroupID: 30001, GroupName: "Renamed", OwnerID: 30003}))
	g, err = s.GetGroup(ctx, 30001)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", g.GroupName)
	assert.Equal(t, 1, ownerCount(g))
	assert.ElementsMatch(t, []int64{10001, 20002}, g.AdminList)
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Identities
	seedUsers(t, s, 10001, 20002)
	require.NoError(t, s.SaveGroup(ctx, &model.Group{GroupID: 30001, OwnerID: 10001}))

	added, err := s.AddMember(ctx, 30001, 20002, "")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddMember(ctx, 30001, 20002, "")
	require.NoError(t, err)
	assert.False(t, added)

	ids, err := s.MemberIDs(ctx, 30001)
	require.NoError(t, err)
	assert.Equal(t, []int64{10001, 20002}, ids)
	groups, err := s.UserGroups(ctx, 20002)
	require.NoError(t, err)
	assert.Equal(t, []int64{30001}, groups)

	title := "Helper"
	require.NoError(t, s.UpdateMember(ctx, 30001, 20002, nil, &title))
	g, err := s.GetGroup(ctx, 30001)
	require.NoError(t, err)
	m, _ := g.Member(20002)
	assert.Equal(t, "Helper", m.Title)

	require.NoError(t, s.RemoveMember(ctx, 30001, 20002))
	err = s.RemoveMember(ctx, 30001, 20002)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = s.AddMember(ctx, 40004, 20002, "")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestRemoveUserAndGroup(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Identities
	seedUsers(t, s, 10001, 20002)
	require.NoError(t, s.SetFriendship(ctx, 10001, 20002, store.FriendAdd))
	require.NoError(t, s.SaveGroup(ctx, &model.Group{GroupID: 30001, OwnerID: 10001, MemberList: []model.GroupMember{{UserID: 20002}}}))

	err := s.RemoveUser(ctx, 10001)
	assert.True(t, errors.Is(err, errs.ErrInvalidRoleTransition))

	require.NoError(t, s.RemoveUser(ctx, 20002))
	_, err = s.GetUser(ctx, 20002)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	a, err := s.GetUser(ctx, 10001)
	require.NoError(t, err)
	assert.Empty(t, a.FriendList)
	ids, err := s.MemberIDs(ctx, 30001)
	require.NoError(t, err)
	assert.Equal(t, []int64{10001}, ids)

	require.NoError(t, s.RemoveGroup(ctx, 30001))
	_, err = s.GetGroup(ctx, 30001)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.True(t, errors.Is(s.RemoveGroup(ctx, 30001), errs.ErrNotFound))
}

func TestCreateGroupAllocatesFreshIDs(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Identities
	seedUsers(t, s, 10001, 20002)

	id, err := s.CreateGroup(ctx, &model.Group{OwnerID: 10001})
	require.NoError(t, err)
	assert.Equal(t, FirstGroupID, id)

	require.NoError(t, s.SaveGroup(ctx, &model.Group{GroupID: 200000, GroupName: "kept", OwnerID: 10001}))
	id, err = s.CreateGroup(ctx, &model.Group{OwnerID: 20002})
	require.NoError(t, err)
	assert.Equal(t, int64(200001), id)

	kept, err := s.GetGroup(ctx, 200000)
	require.NoError(t, err)
	assert.Equal(t, "kept", kept.GroupName)
	assert.Equal(t, int64(10001), kept.OwnerID)

	_, err = s.CreateGroup(ctx, &model.Group{OwnerID: 99999})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCreateGroupConcurrentCreatorsGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).Identities
	seedUsers(t, s, 10001, 20002)

	const n = 16
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := int64(10001)
			if i%2 == 1 {
				owner = 20002
			}
			id, err := s.CreateGroup(ctx, &model.Group{OwnerID: owner, GroupName: fmt.Sprintf("g%d", i)})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "group id %d handed out twice", id)
		seen[id] = true
	}
	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, n)
}

func TestReadStateIsRaiseOnly(t *testing.T) {
	ctx := context.Background()
	s := newStores(t).ReadStates

	w, err := s.Watermark(ctx, 10001, model.ConvGroup, 30001)
	require.NoError(t, err)
	assert.Zero(t, w)

	w, err = s.Advance(ctx, 10001, model.ConvGroup, 30001, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), w)
	w, err = s.Advance(ctx, 10001, model.ConvGroup, 30001, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), w)
	w, err = s.Advance(ctx, 10001, model.ConvGroup, 30001, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), w)

	_, err = s.Advance(ctx, 20002, model.ConvPrivate, 10001, 2)
	require.NoError(t, err)
	require.NoError(t, s.DropUser(ctx, 10001))
	w, err = s.Watermark(ctx, 10001, model.ConvGroup, 30001)
	require.NoError(t, err)
	assert.Zero(t, w)
	w, err = s.Watermark(ctx, 20002, model.ConvPrivate, 10001)
	require.NoError(t, err)
	assert.Zero(t, w)
}
