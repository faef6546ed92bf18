package sqlstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

type ConversationStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.ConversationStore = (*ConversationStore)(nil)

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db, now: time.Now}
}

// WithClock replaces the timestamp source, for tests.
func (s *ConversationStore) WithClock(now func() time.Time) *ConversationStore {
	s.now = now
	return s
}

func (s *ConversationStore) Append(ctx context.Context, m *model.Message) (*model.Message, error) {
	if m == nil || !m.Type.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("append needs a private or group message")
	}
	p := model.PartitionOf(m)
	out := *m
	out.Timestamp = s.now().Unix()
	out.IsRevoked = false
	out.PeerID = p.PeerID()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSeq(tx, p.Key())
		if err != nil {
			return err
		}
		out.Seq = seq
		row := toMessageRow(p, &out)
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, errors.Wrapf(err, "append to %s", p.Key())
	}
	return &out, nil
}

// nextSeq 在同一事务内原子发号：不存在则插入 1，存在则 last_seq + 1。
func nextSeq(tx *gorm.DB, key string) (int64, error) {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partition_key"}},
		DoUpdates: clause.Assignments(map[string]any{"last_seq": gorm.Expr("last_seq + 1")}),
	}).Create(&partitionSeqRow{PartitionKey: key, LastSeq: 1}).Error
	if err != nil {
		return 0, errors.Wrap(err, "allocate seq")
	}
	var st partitionSeqRow
	if err := tx.Where("partition_key = ?", key).Take(&st).Error; err != nil {
		return 0, errors.Wrap(err, "read seq")
	}
	return st.LastSeq, nil
}

func (s *ConversationStore) Read(ctx context.Context, kind model.ConvType, targetID, viewerID int64, limit int) ([]*model.Message, error) {
	if !kind.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", kind)
	}
	if kind == model.ConvPrivate && viewerID == model.GuestUserID {
		return []*model.Message{}, nil
	}
	p := model.Resolve(kind, targetID, viewerID)

	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("partition_key = ?", p.Key()).
		Order("seq DESC").
		Limit(store.NormalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p.Key())
	}

	out := make([]*model.Message, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].toModel(p)
	}
	return out, nil
}

func (s *ConversationStore) Get(ctx context.Context, p model.Partition, seq int64) (*model.Message, error) {
	row, err := takeMessage(s.db.WithContext(ctx), p, seq)
	if err != nil {
		return nil, err
	}
	return row.toModel(p), nil
}

func (s *ConversationStore) Recall(ctx context.Context, p model.Partition, seq int64) (*model.Message, error) {
	var out *model.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := takeMessage(tx, p, seq)
		if err != nil {
			return err
		}
		if !row.IsRevoked {
			if err := tx.Model(&messageRow{}).Where("id = ?", row.ID).Update("is_revoked", true).Error; err != nil {
				return errors.Wrap(err, "mark revoked")
			}
			row.IsRevoked = true
		}
		out = row.toModel(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func takeMessage(db *gorm.DB, p model.Partition, seq int64) (*messageRow, error) {
	var rows []messageRow
	if err := db.Where("partition_key = ? AND seq = ?", p.Key(), seq).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "get %s#%d", p.Key(), seq)
	}
	if len(rows) == 0 {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "partition", p.Key(), "seq", seq)
	}
	return &rows[0], nil
}

func (s *ConversationStore) ClearConversation(ctx context.Context, p model.Partition) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return clearPartitions(tx, []string{p.Key()})
	})
	return errors.Wrapf(err, "clear %s", p.Key())
}

// clearPartitions deletes rows and lifts min_seq to last_seq; the counter stays.
func clearPartitions(tx *gorm.DB, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := tx.Where("partition_key IN ?", keys).Delete(&messageRow{}).Error; err != nil {
		return err
	}
	return tx.Model(&partitionSeqRow{}).
		Where("partition_key IN ?", keys).
		Update("min_seq", gorm.Expr("last_seq")).Error
}

func (s *ConversationStore) ClearSender(ctx context.Context, userID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var keys []string
		err := tx.Model(&messageRow{}).
			Distinct("partition_key").
			Where("type = ? AND (sender_id = ? OR target_id = ?)", string(model.ConvPrivate), userID, userID).
			Pluck("partition_key", &keys).Error
		if err != nil {
			return err
		}
		if err := clearPartitions(tx, keys); err != nil {
			return err
		}
		return tx.Where("type = ? AND sender_id = ?", string(model.ConvGroup), userID).Delete(&messageRow{}).Error
	})
	return errors.Wrapf(err, "clear messages of user %d", userID)
}

func (s *ConversationStore) Latest(ctx context.Context, p model.Partition) (*model.Message, store.PartitionState, error) {
	db := s.db.WithContext(ctx)
	var state store.PartitionState

	var seqs []partitionSeqRow
	if err := db.Where("partition_key = ?", p.Key()).Limit(1).Find(&seqs).Error; err != nil {
		return nil, state, errors.Wrapf(err, "state of %s", p.Key())
	}
	if len(seqs) == 0 {
		return nil, state, nil
	}
	state = store.PartitionState{LastSeq: seqs[0].LastSeq, MinSeq: seqs[0].MinSeq}

	var rows []messageRow
	if err := db.Where("partition_key = ?", p.Key()).Order("seq DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, state, errors.Wrapf(err, "latest of %s", p.Key())
	}
	if len(rows) == 0 {
		return nil, state, nil
	}
	return rows[0].toModel(p), state, nil
}

func toMessageRow(p model.Partition, m *model.Message) messageRow {
	return messageRow{
		PartitionKey: p.Key(),
		Seq:          m.Seq,
		Type:         string(m.Type),
		SenderID:     m.SenderID,
		TargetID:     m.TargetID,
		Content:      m.Content,
		Timestamp:    m.Timestamp,
		IsRevoked:    m.IsRevoked,
	}
}

func (r *messageRow) toModel(p model.Partition) *model.Message {
	return &model.Message{
		Seq:       r.Seq,
		Type:      model.ConvType(r.Type),
		SenderID:  r.SenderID,
		TargetID:  r.TargetID,
		PeerID:    p.PeerID(),
		Content:   r.Content,
		Timestamp: r.Timestamp,
		IsRevoked: r.IsRevoked,
	}
}
