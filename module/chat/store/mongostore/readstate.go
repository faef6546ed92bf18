package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
)

// readStateDoc 用户在某个会话里的已读游标，单调不降。
type readStateDoc struct {
	UserID     int64  `bson:"user_id"`
	Type       string `bson:"type"`
	TargetID   int64  `bson:"target_id"`
	ReadSeq    int64  `bson:"read_seq"`
	UpdateTime int64  `bson:"update_time"`
}

type ReadStateStore struct {
	coll *mongo.Collection
}

var _ store.ReadStateStore = (*ReadStateStore)(nil)

func NewReadStateStore(db *mongo.Database) *ReadStateStore {
	return &ReadStateStore{coll: db.Collection(collReadState)}
}

func convFilter(userID int64, kind model.ConvType, targetID int64) bson.M {
	return bson.M{fieldUserID: userID, fieldType: string(kind), fieldTargetID: targetID}
}

func (s *ReadStateStore) Watermark(ctx context.Context, userID int64, kind model.ConvType, targetID int64) (int64, error) {
	var doc readStateDoc
	err := s.coll.FindOne(ctx, convFilter(userID, kind, targetID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "load watermark")
	}
	return doc.ReadSeq, nil
}

func (s *ReadStateStore) Advance(ctx context.Context, userID int64, kind model.ConvType, targetID, seq int64) (int64, error) {
	var doc readStateDoc
	err := s.coll.FindOneAndUpdate(ctx,
		convFilter(userID, kind, targetID),
		bson.M{
			"$max": bson.M{fieldReadSeq: seq},
			"$set": bson.M{fieldUpdateTime: time.Now().UnixMilli()},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrapf(err, "advance read state of user %d", userID)
	}
	return doc.ReadSeq, nil
}

func (s *ReadStateStore) DropUser(ctx context.Context, userID int64) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{fieldUserID: userID},
		bson.M{fieldType: string(model.ConvPrivate), fieldTargetID: userID},
	}})
	return errors.Wrapf(err, "drop read state of user %d", userID)
}

func (s *ReadStateStore) DropConversation(ctx context.Context, kind model.ConvType, targetID int64) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{fieldType: string(kind), fieldTargetID: targetID})
	return errors.Wrapf(err, "drop read state of %s %d", kind, targetID)
}
