// Package engine implements the goal/task orchestration core: entity
// creation and mutation under a single mutation lock, dependency-aware
// planning queries, and coordination between the durable store (the system
// of record) and the advisory cache.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"orchard/internal/cache"
	"orchard/internal/config"
	"orchard/internal/errs"
	"orchard/internal/events"
	"orchard/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Cache  cache.Cache
	Events events.Writer
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time

	// mu serializes every mutation so dependency-graph validation always
	// sees a consistent state. Reads go straight to the cache/store and
	// rely on transaction isolation.
	mu sync.Mutex
}

func New(db *sql.DB, cfg *config.Config, c cache.Cache, log zerolog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if c == nil {
		c = cache.Disabled{}
	}
	e := &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Cache:  c,
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
	// Audit rows share the engine clock so entity and event timestamps agree.
	e.Events = events.Writer{DB: db, Now: e.now}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// storeCtx bounds a durable-store call with the configured timeout.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.Config.Storage.Timeout)
}

// cacheCtx bounds a cache call with the configured timeout.
func (e *Engine) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.Config.Cache.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return context.WithTimeout(ctx, timeout)
}

// storeErr maps a raw store failure onto the taxonomy. Deadline overruns
// become retryable timeouts with unknown outcome; everything else is a
// persistence failure.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Timeoutf(err, "%s exceeded store timeout", op)
	}
	return errs.Persistencef(err, "%s", op)
}

// --- cache coordination (cache-aside with invalidation) ---
//
// Every helper below swallows cache failures: the durable store has already
// committed and a cold cache only costs a re-read.

func (e *Engine) cacheGet(ctx context.Context, key string, dst any) bool {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	data, ok, err := e.Cache.Get(cctx, key)
	if err != nil {
		e.Log.Warn().Err(errs.Cachef(err, "get %s", key)).Msg("cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		e.Log.Warn().Str("key", key).Err(err).Msg("cache entry corrupt; dropping")
		e.cacheInvalidate(ctx, key)
		return false
	}
	return true
}

func (e *Engine) cachePut(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	if err := e.Cache.Set(cctx, key, data, e.Config.Cache.TTL); err != nil {
		e.Log.Warn().Err(errs.Cachef(err, "set %s", key)).Msg("cache write failed")
	}
}

func (e *Engine) cacheInvalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	if err := e.Cache.Delete(cctx, keys...); err != nil {
		e.Log.Warn().Err(errs.Cachef(err, "delete %d keys", len(keys))).Msg("cache invalidation failed")
	}
}

func (e *Engine) cacheFlush(ctx context.Context) {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	if err := e.Cache.Flush(cctx); err != nil {
		e.Log.Warn().Err(errs.Cachef(err, "flush")).Msg("cache flush failed")
	}
}

// taskCacheKeys builds the invalidation set for a task mutation: the task
// itself and its owning goal (whose derived fields may have changed).
func taskCacheKeys(taskID, goalID int64) []string {
	return []string{cache.TaskKey(taskID), cache.GoalKey(goalID)}
}
