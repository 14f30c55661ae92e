// Package cache provides the advisory read cache in front of the durable
// store. Entries are strictly time-bounded and the engine functions fully
// with this layer disabled or unavailable; every error returned here is
// logged and swallowed by callers, never surfaced as an operation failure.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the advisory key/value layer. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Flush drops every entry. Used after a restore.
	Flush(ctx context.Context) error
	// Close releases the underlying connection, if any.
	Close() error
}

// GoalKey is the cache key for a goal.
func GoalKey(id int64) string { return fmt.Sprintf("goal:%d", id) }

// TaskKey is the cache key for a task.
func TaskKey(id int64) string { return fmt.Sprintf("task:%d", id) }

// Redis implements Cache on a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis connects a Redis-backed cache. The connection is lazy; a dead
// server degrades reads to the durable store rather than failing Open.
func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Flush(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

// Disabled is the no-op cache used when caching is turned off. Every read
// misses and every write succeeds.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Disabled) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Disabled) Delete(context.Context, ...string) error { return nil }

func (Disabled) Flush(context.Context) error { return nil }

func (Disabled) Close() error { return nil }
