package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c := NewRedis(srv.Addr())
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestRedisRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, GoalKey(1))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, GoalKey(1), []byte(`{"id":1}`), time.Minute))
	val, ok, err := c.Get(ctx, GoalKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"id":1}`, string(val))
}

func TestRedisTTLExpiry(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, TaskKey(2), []byte("x"), time.Second))
	srv.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, TaskKey(2))
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire")
}

func TestRedisDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, GoalKey(1), []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, TaskKey(2), []byte("b"), time.Minute))
	require.NoError(t, c.Delete(ctx, GoalKey(1), TaskKey(2), "missing"))

	_, ok, _ := c.Get(ctx, GoalKey(1))
	assert.False(t, ok)
	assert.NoError(t, c.Delete(ctx), "empty key set is a no-op")
}

func TestRedisFlush(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, GoalKey(1), []byte("a"), time.Minute))
	require.NoError(t, c.Flush(ctx))
	_, ok, _ := c.Get(ctx, GoalKey(1))
	assert.False(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	srv := miniredis.RunT(t)
	c := NewRedis(srv.Addr())
	srv.Close()

	_, _, err := c.Get(context.Background(), GoalKey(1))
	assert.Error(t, err, "callers log and swallow this")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "goal:42", GoalKey(42))
	assert.Equal(t, "task:7", TaskKey(7))
}

func TestDisabled(t *testing.T) {
	var c Cache = Disabled{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "disabled cache always misses")
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Flush(ctx))
	assert.NoError(t, c.Close())
}
