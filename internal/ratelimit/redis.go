package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "monitorhub:ratelimit:"
	// maxTxAttempts bounds optimistic transaction retries under contention
	maxTxAttempts = 16
)

// RedisStore persists counters in Redis, one JSON-encoded counter per key.
// Updates run inside a WATCH/MULTI transaction and retry on write conflict,
// so concurrent increments never lose updates even across process instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) redisKey(k Key) string {
	return redisKeyPrefix + k.LimitType + ":" + k.Identifier
}

// Update implements Store. fn may run more than once when a concurrent writer
// touches the key between our read and write.
func (s *RedisStore) Update(ctx context.Context, key Key, fn func(prev *Counter) *Counter) error {
	rkey := s.redisKey(key)

	txf := func(tx *redis.Tx) error {
		var prev *Counter
		raw, err := tx.Get(ctx, rkey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var c Counter
			// A value that fails to decode is treated as absent; the next
			// write replaces it with a fresh window.
			if uerr := json.Unmarshal(raw, &c); uerr == nil {
				prev = &c
			}
		}

		next := fn(prev)
		if next == nil {
			return nil
		}

		buf, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode counter: %w", err)
		}

		// Expire shortly after the window so stale counters clean themselves up.
		ttl := time.Until(next.WindowEnd) + time.Second
		if ttl < time.Second {
			ttl = time.Second
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, buf, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, txf, rkey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: gave up after %d conflicting writes", rkey, maxTxAttempts)
}
