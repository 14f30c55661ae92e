package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"orchard/internal/cache"
	"orchard/internal/config"
	"orchard/internal/db"
	"orchard/internal/domain"
	"orchard/internal/engine"
	"orchard/internal/migrate"
)

func newCachedEnv(t *testing.T) (testEnv, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Cache.Enabled = true
	cfg.Cache.Addr = srv.Addr()
	c := cache.NewRedis(srv.Addr())
	t.Cleanup(func() { c.Close() })
	eng := engine.New(conn, cfg, c, zerolog.Nop())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}, srv
}

func TestCachePopulatedOnRead(t *testing.T) {
	env, srv := newCachedEnv(t)
	g := mustGoal(t, env)

	if srv.Exists(cache.GoalKey(g.ID)) {
		t.Fatalf("create must not populate the cache")
	}
	if _, err := env.Engine.GetGoal(env.Ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if !srv.Exists(cache.GoalKey(g.ID)) {
		t.Fatalf("read must populate the cache")
	}
}

func TestCacheInvalidatedAfterMutation(t *testing.T) {
	env, srv := newCachedEnv(t)
	g := mustGoal(t, env)
	task := mustTask(t, env, g.ID, "work")

	// Warm both entries.
	if _, err := env.Engine.GetGoal(env.Ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskStatusInProgress, nil); err != nil {
		t.Fatal(err)
	}
	if srv.Exists(cache.TaskKey(task.ID)) {
		t.Fatalf("task entry must be invalidated after its mutation")
	}
	if srv.Exists(cache.GoalKey(g.ID)) {
		t.Fatalf("owning goal entry must be invalidated too")
	}

	// A fresh read never serves the stale status.
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskStatusInProgress {
		t.Fatalf("read-after-write status = %s", got.Status)
	}
}

func TestCacheFailureDegradesToStore(t *testing.T) {
	env, srv := newCachedEnv(t)
	g := mustGoal(t, env)
	srv.Close()

	// With the cache dead, reads and writes still succeed off the store.
	got, err := env.Engine.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("read with dead cache: %v", err)
	}
	if got.ID != g.ID {
		t.Fatalf("got goal %d", got.ID)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{GoalID: g.ID, Description: "still works"}); err != nil {
		t.Fatalf("write with dead cache: %v", err)
	}
}

func TestCacheFlushedOnRestore(t *testing.T) {
	env, srv := newCachedEnv(t)
	g := mustGoal(t, env)
	if _, err := env.Engine.GetGoal(env.Ctx, g.ID); err != nil {
		t.Fatal(err)
	}

	snap, err := env.Engine.SnapshotState(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RestoreState(env.Ctx, snap); err != nil {
		t.Fatal(err)
	}
	if srv.Exists(cache.GoalKey(g.ID)) {
		t.Fatalf("restore must flush the cache")
	}
}

func TestCorruptCacheEntryDropped(t *testing.T) {
	env, srv := newCachedEnv(t)
	g := mustGoal(t, env)
	if err := srv.Set(cache.GoalKey(g.ID), "{not json"); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("corrupt entry must fall through to the store: %v", err)
	}
	if got.Description != g.Description {
		t.Fatalf("got %+v", got)
	}
}
