package mongostore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

// seqDoc 会话级水位：last_seq 已发出的最大序号；min_seq 清理后的下界，读范围为 (min_seq, last_seq]。
type seqDoc struct {
	PartitionKey string    `bson:"partition_key"`
	LastSeq      int64     `bson:"last_seq"`
	MinSeq       int64     `bson:"min_seq"`
	CreateTime   time.Time `bson:"create_time"`
	UpdateTime   time.Time `bson:"update_time"`
}

type messageDoc struct {
	PartitionKey string `bson:"partition_key"`
	Seq          int64  `bson:"seq"`
	Type         string `bson:"type"`
	SenderID     int64  `bson:"sender_id"`
	TargetID     int64  `bson:"target_id"`
	// Content is the JSON form of model.Content.
	Content   string `bson:"content"`
	Timestamp int64  `bson:"timestamp"`
	IsRevoked bool   `bson:"is_revoked"`
}

type ConversationStore struct {
	seqs  *mongo.Collection
	msgs  *mongo.Collection
	locks partitionLocks
	now   func() time.Time
}

var _ store.ConversationStore = (*ConversationStore)(nil)

func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{
		seqs: db.Collection(collSeq),
		msgs: db.Collection(collMessages),
		now:  time.Now,
	}
}

func (s *ConversationStore) Append(ctx context.Context, m *model.Message) (*model.Message, error) {
	if m == nil || !m.Type.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("append needs a private or group message")
	}
	p := model.PartitionOf(m)
	content, err := json.Marshal(m.Content)
	if err != nil {
		return nil, errors.Wrap(err, "encode content")
	}

	unlock := s.locks.lock(p.Key())
	defer unlock()

	seq, err := s.allocSeq(ctx, p.Key())
	if err != nil {
		return nil, err
	}
	out := *m
	out.Seq = seq
	out.Timestamp = s.now().Unix()
	out.IsRevoked = false
	out.PeerID = p.PeerID()

	_, err = s.msgs.InsertOne(ctx, messageDoc{
		PartitionKey: p.Key(),
		Seq:          seq,
		Type:         string(out.Type),
		SenderID:     out.SenderID,
		TargetID:     out.TargetID,
		Content:      string(content),
		Timestamp:    out.Timestamp,
	})
	if err != nil {
		err = errors.Wrapf(err, "insert %s#%d", p.Key(), seq)
		if rerr := s.releaseSeq(ctx, p.Key(), seq); rerr != nil {
			return nil, errors.Wrapf(err, "release seq: %v", rerr)
		}
		return nil, err
	}
	return &out, nil
}

// releaseSeq 插入失败时归还刚发出的序号，避免分区出现空洞。仅当 last_seq
// 仍等于 seq 时回退，调用方持有分区锁。
func (s *ConversationStore) releaseSeq(ctx context.Context, key string, seq int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := s.seqs.UpdateOne(ctx,
		bson.M{fieldPartitionKey: key, fieldLastSeq: seq},
		bson.M{"$inc": bson.M{fieldLastSeq: int64(-1)}, "$set": bson.M{fieldUpdateTime: s.now()}},
	)
	return err
}

// allocSeq 原子发号：last_seq += 1，首次写入时创建水位文档。
func (s *ConversationStore) allocSeq(ctx context.Context, key string) (int64, error) {
	now := s.now()
	update := bson.M{
		"$inc":         bson.M{fieldLastSeq: int64(1)},
		"$setOnInsert": bson.M{fieldMinSeq: int64(0), fieldCreateTime: now},
		"$set":         bson.M{fieldUpdateTime: now},
	}
	var after seqDoc
	err := s.seqs.FindOneAndUpdate(ctx,
		bson.M{fieldPartitionKey: key},
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&after)
	if err != nil {
		return 0, errors.Wrapf(err, "allocate seq for %s", key)
	}
	return after.LastSeq, nil
}

func (s *ConversationStore) Read(ctx context.Context, kind model.ConvType, targetID, viewerID int64, limit int) ([]*model.Message, error) {
	if !kind.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", kind)
	}
	if kind == model.ConvPrivate && viewerID == model.GuestUserID {
		return []*model.Message{}, nil
	}
	p := model.Resolve(kind, targetID, viewerID)

	cur, err := s.msgs.Find(ctx,
		bson.M{fieldPartitionKey: p.Key()},
		options.Find().SetSort(bson.D{{Key: fieldSeq, Value: -1}}).SetLimit(int64(store.NormalizeLimit(limit))),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p.Key())
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode %s", p.Key())
	}

	out := make([]*model.Message, len(docs))
	for i := range docs {
		m, err := docs[i].toModel(p)
		if err != nil {
			return nil, err
		}
		out[len(docs)-1-i] = m
	}
	return out, nil
}

func (s *ConversationStore) Get(ctx context.Context, p model.Partition, seq int64) (*model.Message, error) {
	var doc messageDoc
	err := s.msgs.FindOne(ctx, bson.M{fieldPartitionKey: p.Key(), fieldSeq: seq}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "partition", p.Key(), "seq", seq)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s#%d", p.Key(), seq)
	}
	return doc.toModel(p)
}

func (s *ConversationStore) Recall(ctx context.Context, p model.Partition, seq int64) (*model.Message, error) {
	res, err := s.msgs.UpdateOne(ctx,
		bson.M{fieldPartitionKey: p.Key(), fieldSeq: seq},
		bson.M{"$set": bson.M{fieldIsRevoked: true}},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "recall %s#%d", p.Key(), seq)
	}
	if res.MatchedCount == 0 {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "partition", p.Key(), "seq", seq)
	}
	return s.Get(ctx, p, seq)
}

func (s *ConversationStore) ClearConversation(ctx context.Context, p model.Partition) error {
	return s.clear(ctx, p.Key())
}

// clear 删除消息并把 min_seq 推到 last_seq；发号器不回退。
func (s *ConversationStore) clear(ctx context.Context, key string) error {
	unlock := s.locks.lock(key)
	defer unlock()

	if _, err := s.msgs.DeleteMany(ctx, bson.M{fieldPartitionKey: key}); err != nil {
		return errors.Wrapf(err, "clear %s", key)
	}
	var st seqDoc
	err := s.seqs.FindOne(ctx, bson.M{fieldPartitionKey: key}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "state of %s", key)
	}
	_, err = s.seqs.UpdateOne(ctx,
		bson.M{fieldPartitionKey: key},
		bson.M{"$max": bson.M{fieldMinSeq: st.LastSeq}, "$set": bson.M{fieldUpdateTime: s.now()}},
	)
	return errors.Wrapf(err, "advance min seq of %s", key)
}

func (s *ConversationStore) ClearSender(ctx context.Context, userID int64) error {
	keys, err := s.msgs.Distinct(ctx, fieldPartitionKey, bson.M{
		fieldType: string(model.ConvPrivate),
		"$or":     bson.A{bson.M{fieldSenderID: userID}, bson.M{fieldTargetID: userID}},
	})
	if err != nil {
		return errors.Wrapf(err, "private partitions of user %d", userID)
	}
	for _, k := range keys {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if err := s.clear(ctx, key); err != nil {
			return err
		}
	}
	_, err = s.msgs.DeleteMany(ctx, bson.M{fieldType: string(model.ConvGroup), fieldSenderID: userID})
	return errors.Wrapf(err, "clear group messages of user %d", userID)
}

func (s *ConversationStore) Latest(ctx context.Context, p model.Partition) (*model.Message, store.PartitionState, error) {
	var state store.PartitionState
	var st seqDoc
	err := s.seqs.FindOne(ctx, bson.M{fieldPartitionKey: p.Key()}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, state, nil
	}
	if err != nil {
		return nil, state, errors.Wrapf(err, "state of %s", p.Key())
	}
	state = store.PartitionState{LastSeq: st.LastSeq, MinSeq: st.MinSeq}

	var doc messageDoc
	err = s.msgs.FindOne(ctx,
		bson.M{fieldPartitionKey: p.Key()},
		options.FindOne().SetSort(bson.D{{Key: fieldSeq, Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, state, nil
	}
	if err != nil {
		return nil, state, errors.Wrapf(err, "latest of %s", p.Key())
	}
	m, err := doc.toModel(p)
	return m, state, err
}

func (d *messageDoc) toModel(p model.Partition) (*model.Message, error) {
	var content model.Content
	if err := json.Unmarshal([]byte(d.Content), &content); err != nil {
		return nil, errors.Wrapf(err, "decode content of %s#%d", d.PartitionKey, d.Seq)
	}
	return &model.Message{
		Seq:       d.Seq,
		Type:      model.ConvType(d.Type),
		SenderID:  d.SenderID,
		TargetID:  d.TargetID,
		PeerID:    p.PeerID(),
		Content:   content,
		Timestamp: d.Timestamp,
		IsRevoked: d.IsRevoked,
	}, nil
}
