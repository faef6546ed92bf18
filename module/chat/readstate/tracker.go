package readstate

import (
	"context"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

// Tracker 维护用户在各会话里的已读水位，并据此计算未读数。
type Tracker struct {
	store store.ReadStateStore
}

func New(s store.ReadStateStore) *Tracker {
	return &Tracker{store: s}
}

// Acknowledge raises the user's watermark for the conversation to seq. A
// lower seq leaves it unchanged. It returns the watermark after the call.
func (t *Tracker) Acknowledge(ctx context.Context, userID int64, kind model.ConvType, targetID, seq int64) (int64, error) {
	if userID == model.GuestUserID {
		return 0, errs.ErrInvalidArgument.WrapMsg("a guest cannot acknowledge messages")
	}
	if !kind.Valid() {
		return 0, errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", kind)
	}
	if seq < 0 {
		return 0, errs.ErrInvalidArgument.WrapMsg("seq must not be negative", "seq", seq)
	}
	return t.store.Advance(ctx, userID, kind, targetID, seq)
}

// UnreadCount is max(0, latest - watermark).
func UnreadCount(watermark, latest int64) int64 {
	if latest <= watermark {
		return 0
	}
	return latest - watermark
}

// Unread counts the user's unread messages given the conversation counters.
// A watermark below MinSeq is lifted to it, so cleared history is never unread.
func (t *Tracker) Unread(ctx context.Context, userID int64, kind model.ConvType, targetID int64, st store.PartitionState) (int64, error) {
	if userID == model.GuestUserID || st.LastSeq == 0 {
		return 0, nil
	}
	readSeq, err := t.store.Watermark(ctx, userID, kind, targetID)
	if err != nil {
		return 0, err
	}
	if readSeq < st.MinSeq {
		readSeq = st.MinSeq
	}
	return UnreadCount(readSeq, st.LastSeq), nil
}
