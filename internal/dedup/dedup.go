// Package dedup provides a Redis-backed cache for publisher-confirm
// deduplication: a publisher that retries a confirmed-but-unacknowledged
// publish must not have it delivered twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "amq-core:dedup:"

// Store deduplicates publisher confirmation keys across retries.
type Store interface {
	// Seen records key as processed and reports whether it was already
	// present (true = duplicate, caller should skip redelivery).
	Seen(ctx context.Context, key string) (bool, error)
	// Forget releases the dedup entry, e.g. after a txn rollback unwinds a
	// publish that was tentatively marked seen.
	Forget(ctx context.Context, key string) error
}

// RedisStore is the real Store: SETNX with a TTL, so an entry expires on
// its own if nobody calls Forget.
type RedisStore struct {
	client *goredis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Store that marks keys seen for ttl.
func NewRedisStore(client *goredis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup seen: %w", err)
	}
	return !ok, nil
}

func (r *RedisStore) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: dedup forget: %w", err)
	}
	return nil
}
