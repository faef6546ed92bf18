package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ys7zTS/sandbox/tools/errs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type presenceCall struct {
	online bool
	userID int64
}

type fakePresence struct {
	mu        sync.Mutex
	calls     []presenceCall
	refreshed [][]int64
}

func (p *fakePresence) Refresh(_ context.Context, userIDs []int64) error {
	p.mu.Lock()
	p.refreshed = append(p.refreshed, userIDs)
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) Online(_ context.Context, userID, _ int64) error {
	p.mu.Lock()
	p.calls = append(p.calls, presenceCall{online: true, userID: userID})
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) Offline(_ context.Context, userID, _ int64) error {
	p.mu.Lock()
	p.calls = append(p.calls, presenceCall{online: false, userID: userID})
	p.mu.Unlock()
	return nil
}

func TestRegistryBindMovesIndex(t *testing.T) {
	pres := &fakePresence{}
	r := NewRegistry(RegistryConf{}, pres)

	s := r.Add("127.0.0.1:1")
	assert.Equal(t, int64(0), s.UserID())
	assert.Len(t, r.ByUser(0), 1)

	prev, err := r.Bind(s.ID, 10001)
	require.NoError(t, err)
	assert.Equal(t, int64(0), prev)
	assert.Empty(t, r.ByUser(0))
	assert.Len(t, r.ByUser(10001), 1)

	prev, err = r.Bind(s.ID, 20002)
	require.NoError(t, err)
	assert.Equal(t, int64(10001), prev)
	assert.Empty(t, r.ByUser(10001))

	// guest transitions are not mirrored
	assert.Equal(t, []presenceCall{
		{online: true, userID: 10001},
		{online: false, userID: 10001},
		{online: true, userID: 20002},
	}, pres.calls)

	_, err = r.Bind(42, 10001)
	assert.True(t, errors.Is(err, errs.ErrConnectionLost))
}

func TestRegistryRemoveClosesQueue(t *testing.T) {
	r := NewRegistry(RegistryConf{SendQueue: 4}, nil)
	s := r.Add("")
	_, err := r.Bind(s.ID, 10001)
	require.NoError(t, err)
	require.True(t, s.Enqueue([]byte("x")))

	r.Remove(s.ID)
	r.Remove(s.ID)

	_, ok := r.Get(s.ID)
	assert.False(t, ok)
	assert.Empty(t, r.ByUser(10001))
	assert.True(t, s.Closed())
	assert.False(t, s.Enqueue([]byte("y")))

	// 已排队的帧仍可被写协程取走，之后通道关闭
	got, open := <-s.Outbound()
	assert.True(t, open)
	assert.Equal(t, "x", string(got))
	_, open = <-s.Outbound()
	assert.False(t, open)
}

func TestRegistryByUsersDedupes(t *testing.T) {
	r := NewRegistry(RegistryConf{}, nil)
	a1, a2, b := r.Add(""), r.Add(""), r.Add("")
	for _, bind := range []struct {
		s   *Session
		uid int64
	}{{a1, 10001}, {a2, 10001}, {b, 20002}} {
		_, err := r.Bind(bind.s.ID, bind.uid)
		require.NoError(t, err)
	}

	assert.Len(t, r.ByUsers([]int64{10001, 10001, 20002, 30003}), 3)
	assert.Len(t, r.All(), 3)
	assert.Equal(t, 3, r.Len())
}

func TestSweepClosesIdleSessions(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(RegistryConf{IdleTimeout: time.Minute, Clock: clock.Now}, nil)

	idle := r.Add("")
	busy := r.Add("")

	clock.Advance(45 * time.Second)
	r.Touch(busy.ID)
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, r.SweepOnce(clock.Now()))
	assert.True(t, idle.Closed())
	assert.False(t, busy.Closed())

	_, ok := r.Get(busy.ID)
	assert.True(t, ok)
	assert.Equal(t, 0, r.SweepOnce(clock.Now()))
}

func TestSweepRenewsPresenceOfLiveUsers(t *testing.T) {
	clock := newFakeClock()
	pres := &fakePresence{}
	r := NewRegistry(RegistryConf{IdleTimeout: time.Minute, Clock: clock.Now}, pres)

	a1, a2, b, guest := r.Add(""), r.Add(""), r.Add(""), r.Add("")
	_, err := r.Bind(a1.ID, 20002)
	require.NoError(t, err)
	_, err = r.Bind(a2.ID, 20002)
	require.NoError(t, err)
	_, err = r.Bind(b.ID, 10001)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	assert.Equal(t, 0, r.SweepOnce(clock.Now()))
	require.Len(t, pres.refreshed, 1)
	assert.Equal(t, []int64{10001, 20002}, pres.refreshed[0])

	// b goes quiet and is swept; the others keep renewing
	clock.Advance(45 * time.Second)
	r.Touch(a1.ID)
	r.Touch(a2.ID)
	r.Touch(guest.ID)
	assert.Equal(t, 1, r.SweepOnce(clock.Now()))
	require.Len(t, pres.refreshed, 2)
	assert.Equal(t, []int64{20002}, pres.refreshed[1])

	r.Remove(a1.ID)
	r.Remove(a2.ID)
	r.SweepOnce(clock.Now())
	assert.Len(t, pres.refreshed, 2, "nothing to renew")
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	s := newSession(1, "", 2, time.Now())
	assert.True(t, s.Enqueue([]byte("1")))
	assert.True(t, s.Enqueue([]byte("2")))
	assert.False(t, s.Enqueue([]byte("3")))
}

func TestRegistryCloseClosesAll(t *testing.T) {
	r := NewRegistry(RegistryConf{SweepEvery: time.Millisecond}, nil)
	r.Start()
	a, b := r.Add(""), r.Add("")
	r.Close()
	r.Close()

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, r.Len())
}
