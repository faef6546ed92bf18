// Package storage mirrors connection presence to Redis so other processes
// can see who is online.
package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultPresenceTTL = 5 * time.Minute

// RedisPresence keeps one set of connection ids per user.
// Key: sandbox:presence:<user>. The TTL is renewed on every bind and by
// Refresh while the user keeps a live session.
type RedisPresence struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisPresence(rdb redis.Cmdable, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &RedisPresence{rdb: rdb, ttl: ttl, prefix: "sandbox:presence:"}
}

func (p *RedisPresence) key(userID int64) string {
	return p.prefix + strconv.FormatInt(userID, 10)
}

func (p *RedisPresence) Online(ctx context.Context, userID, connID int64) error {
	k := p.key(userID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, k, connID)
		pipe.Expire(ctx, k, p.ttl)
		return nil
	})
	return errors.Wrap(err, "presence online")
}

func (p *RedisPresence) Offline(ctx context.Context, userID, connID int64) error {
	return errors.Wrap(p.rdb.SRem(ctx, p.key(userID), connID).Err(), "presence offline")
}

// Refresh extends the TTL of every listed user's set in one round trip.
func (p *RedisPresence) Refresh(ctx context.Context, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, uid := range userIDs {
			pipe.Expire(ctx, p.key(uid), p.ttl)
		}
		return nil
	})
	return errors.Wrap(err, "presence refresh")
}

// Connections returns the live connection ids of a user.
func (p *RedisPresence) Connections(ctx context.Context, userID int64) ([]int64, error) {
	vals, err := p.rdb.SMembers(ctx, p.key(userID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence lookup")
	}
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}
