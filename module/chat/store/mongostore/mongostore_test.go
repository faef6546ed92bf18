package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/service/mgo"
	"github.com/ys7zTS/sandbox/tools/errs"
)

func TestPartitionLocksSerializeSameKey(t *testing.T) {
	var (
		locks   partitionLocks
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("p:1:2")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

// testDB connects to SANDBOX_TEST_MONGO_URI; the integration tests are
// skipped when it is unset.
func testDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("SANDBOX_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SANDBOX_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := mgo.Connect(ctx, mgo.Config{URI: uri, Database: fmt.Sprintf("sandbox_test_%d", time.Now().UnixNano()), MaxRetry: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = db.Client().Disconnect(context.Background())
	})
	require.NoError(t, EnsureIndexes(ctx, db))
	return db
}

func TestMongoConversationLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := NewConversationStore(db)

	for i := 0; i < 3; i++ {
		from, to := int64(10001), int64(20002)
		if i%2 == 1 {
			from, to = to, from
		}
		m, err := s.Append(ctx, &model.Message{Type: model.ConvPrivate, SenderID: from, TargetID: to, Content: model.TextContent("x")})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), m.Seq)
	}
	p := model.PrivatePartition(10001, 20002)

	rows, err := s.Read(ctx, model.ConvPrivate, 10001, 20002, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].Seq)

	r1, err := s.Recall(ctx, p, 2)
	require.NoError(t, err)
	r2, err := s.Recall(ctx, p, 2)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	_, err = s.Recall(ctx, p, 9)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	require.NoError(t, s.ClearConversation(ctx, p))
	last, st, err := s.Latest(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Equal(t, int64(3), st.MinSeq)
	next, err := s.Append(ctx, &model.Message{Type: model.ConvPrivate, SenderID: 10001, TargetID: 20002, Content: model.TextContent("y")})
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Seq)
}

func TestMongoReadStateRaiseOnly(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := NewReadStateStore(db)

	w, err := s.Advance(ctx, 10001, model.ConvGroup, 30001, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), w)
	w, err = s.Advance(ctx, 10001, model.ConvGroup, 30001, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), w)

	require.NoError(t, s.DropConversation(ctx, model.ConvGroup, 30001))
	w, err = s.Watermark(ctx, 10001, model.ConvGroup, 30001)
	require.NoError(t, err)
	assert.Zero(t, w)
}
