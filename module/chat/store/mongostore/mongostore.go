// Package mongostore keeps the conversation log and read state in MongoDB.
// Identity data stays in sqlstore.
package mongostore

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collSeq       = "partition_seq"
	collMessages  = "messages"
	collReadState = "read_state"
)

const (
	fieldPartitionKey = "partition_key"
	fieldSeq          = "seq"
	fieldLastSeq      = "last_seq"
	fieldMinSeq       = "min_seq"
	fieldType         = "type"
	fieldSenderID     = "sender_id"
	fieldTargetID     = "target_id"
	fieldIsRevoked    = "is_revoked"
	fieldUserID       = "user_id"
	fieldReadSeq      = "read_seq"
	fieldCreateTime   = "create_time"
	fieldUpdateTime   = "update_time"
)

// EnsureIndexes creates the unique indexes the stores rely on. Existing
// indexes with the same name are left alone.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		collSeq: {{
			Keys:    bson.D{{Key: fieldPartitionKey, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_partition"),
		}},
		collMessages: {
			{
				Keys:    bson.D{{Key: fieldPartitionKey, Value: 1}, {Key: fieldSeq, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("ix_partition_seq"),
			},
			{
				Keys:    bson.D{{Key: fieldSenderID, Value: 1}, {Key: fieldType, Value: 1}},
				Options: options.Index().SetName("ix_sender"),
			},
		},
		collReadState: {{
			Keys:    bson.D{{Key: fieldUserID, Value: 1}, {Key: fieldType, Value: 1}, {Key: fieldTargetID, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_user_conv"),
		}},
	}

	for collName, indexes := range collections {
		coll := db.Collection(collName)

		existing, err := coll.Indexes().ListSpecifications(ctx)
		if err != nil {
			return errors.Wrapf(err, "list indexes for %s", collName)
		}
		existingNames := make(map[string]struct{}, len(existing))
		for _, spec := range existing {
			existingNames[spec.Name] = struct{}{}
		}

		// 只创建不存在的
		for _, idx := range indexes {
			if _, ok := existingNames[*idx.Options.Name]; ok {
				continue
			}
			if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
				return errors.Wrapf(err, "create index %s on %s", *idx.Options.Name, collName)
			}
		}
	}
	return nil
}

// partitionLocks serializes seq allocation and insert per partition inside
// this process. Distinct partitions rarely share a stripe.
type partitionLocks struct {
	stripes [256]sync.Mutex
}

func (l *partitionLocks) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
