package readstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/module/chat/store/sqlstore"
	"github.com/ys7zTS/sandbox/tools/errs"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := sqlstore.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	return New(sqlstore.NewReadStateStore(db))
}

func TestUnreadCount(t *testing.T) {
	assert.Equal(t, int64(0), UnreadCount(5, 5))
	assert.Equal(t, int64(0), UnreadCount(9, 5))
	assert.Equal(t, int64(5), UnreadCount(0, 5))
	assert.Equal(t, int64(2), UnreadCount(3, 5))
}

func TestUnreadAfterAcknowledge(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)
	st := store.PartitionState{LastSeq: 5}

	n, err := tr.Unread(ctx, 20002, model.ConvPrivate, 10001, st)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	w, err := tr.Acknowledge(ctx, 20002, model.ConvPrivate, 10001, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w)
	n, err = tr.Unread(ctx, 20002, model.ConvPrivate, 10001, st)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// stale acknowledgements do not lower the watermark
	w, err = tr.Acknowledge(ctx, 20002, model.ConvPrivate, 10001, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w)
}

func TestUnreadIgnoresClearedHistory(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)

	n, err := tr.Unread(ctx, 10001, model.ConvGroup, 30001, store.PartitionState{LastSeq: 7, MinSeq: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGuestHasNoReadState(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)

	n, err := tr.Unread(ctx, model.GuestUserID, model.ConvGroup, 30001, store.PartitionState{LastSeq: 7})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = tr.Acknowledge(ctx, model.GuestUserID, model.ConvGroup, 30001, 1)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	_, err = tr.Acknowledge(ctx, 10001, model.ConvGroup, 30001, -1)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}
