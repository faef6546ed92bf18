package sqlstore

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
)

type ReadStateStore struct {
	db *gorm.DB
}

var _ store.ReadStateStore = (*ReadStateStore)(nil)

func NewReadStateStore(db *gorm.DB) *ReadStateStore {
	return &ReadStateStore{db: db}
}

func (s *ReadStateStore) Watermark(ctx context.Context, userID int64, kind model.ConvType, targetID int64) (int64, error) {
	var rows []readStateRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND target_id = ?", userID, string(kind), targetID).
		Limit(1).Find(&rows).Error
	if err != nil {
		return 0, errors.Wrap(err, "load watermark")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].LastSeq, nil
}

// Advance 只升不降：先确保行存在，再以 last_seq < ? 为条件推进。
func (s *ReadStateStore) Advance(ctx context.Context, userID int64, kind model.ConvType, targetID, seq int64) (int64, error) {
	var out int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&readStateRow{UserID: userID, Type: string(kind), TargetID: targetID, LastSeq: seq}).Error
		if err != nil {
			return err
		}
		err = tx.Model(&readStateRow{}).
			Where("user_id = ? AND type = ? AND target_id = ? AND last_seq < ?", userID, string(kind), targetID, seq).
			Update("last_seq", seq).Error
		if err != nil {
			return err
		}
		var row readStateRow
		if err := tx.Where("user_id = ? AND type = ? AND target_id = ?", userID, string(kind), targetID).Take(&row).Error; err != nil {
			return err
		}
		out = row.LastSeq
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "advance read state of user %d", userID)
	}
	return out, nil
}

func (s *ReadStateStore) DropUser(ctx context.Context, userID int64) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? OR (type = ? AND target_id = ?)", userID, string(model.ConvPrivate), userID).
		Delete(&readStateRow{}).Error
	return errors.Wrapf(err, "drop read state of user %d", userID)
}

func (s *ReadStateStore) DropConversation(ctx context.Context, kind model.ConvType, targetID int64) error {
	err := s.db.WithContext(ctx).
		Where("type = ? AND target_id = ?", string(kind), targetID).
		Delete(&readStateRow{}).Error
	return errors.Wrapf(err, "drop read state of %s %d", kind, targetID)
}
