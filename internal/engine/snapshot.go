package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"orchard/internal/domain"
	"orchard/internal/events"
	"orchard/internal/repo"
)

// Snapshot is a full copy of the orchestration state. Restoring it
// reproduces every goal and task under its original id.
type Snapshot struct {
	ID      string        `json:"id"`
	TakenAt time.Time     `json:"taken_at"`
	Goals   []domain.Goal `json:"goals"`
	Tasks   []domain.Task `json:"tasks"`
}

// SnapshotState captures all goals and tasks in one read transaction so the
// snapshot is internally consistent even while other operations run.
func (e *Engine) SnapshotState(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{ID: uuid.NewString(), TakenAt: e.now()}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return snap, storeErr(err, "begin snapshot")
	}
	defer tx.Rollback()

	// ListGoals/ListTasks read through the transaction's querier, so both
	// collections come from the same point in time.
	goals, err := e.snapshotGoals(sctx, tx)
	if err != nil {
		return snap, err
	}
	tasks, err := e.Repo.ListTasksTx(sctx, tx, repo.TaskFilters{})
	if err != nil {
		return snap, storeErr(err, "snapshot tasks")
	}

	snap.Goals = goals
	snap.Tasks = tasks
	e.Log.Info().Str("snapshot_id", snap.ID).Int("goals", len(goals)).Int("tasks", len(tasks)).Msg("snapshot taken")
	return snap, nil
}

func (e *Engine) snapshotGoals(ctx context.Context, tx *sql.Tx) ([]domain.Goal, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM goals ORDER BY id ASC`)
	if err != nil {
		return nil, storeErr(err, "snapshot goals")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(err, "snapshot goals")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "snapshot goals")
	}
	goals := make([]domain.Goal, 0, len(ids))
	for _, id := range ids {
		g, err := e.Repo.GetGoalTx(ctx, tx, id)
		if err != nil {
			return nil, storeErr(err, "snapshot goal")
		}
		goals = append(goals, g)
	}
	return goals, nil
}

// RestoreCounts reports what a restore wrote.
type RestoreCounts struct {
	Goals int `json:"goals"`
	Tasks int `json:"tasks"`
}

// RestoreState replaces the entire state with the snapshot's contents,
// preserving original ids. The wipe and reload run in one transaction, so a
// failed restore leaves the previous state intact. The cache is flushed
// after commit.
func (e *Engine) RestoreState(ctx context.Context, snap Snapshot) (RestoreCounts, error) {
	var counts RestoreCounts

	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return counts, storeErr(err, "begin restore")
	}
	defer tx.Rollback()

	if err := e.Repo.Wipe(sctx, tx); err != nil {
		return counts, storeErr(err, "wipe state")
	}
	for _, g := range snap.Goals {
		if err := e.Repo.InsertGoalWithID(sctx, tx, g); err != nil {
			return counts, storeErr(err, "restore goal")
		}
	}
	for _, t := range snap.Tasks {
		if err := e.Repo.InsertTaskWithID(sctx, tx, t); err != nil {
			return counts, storeErr(err, "restore task")
		}
	}
	if err := e.Repo.BumpSequences(sctx, tx); err != nil {
		return counts, storeErr(err, "bump sequences")
	}
	if err := e.Events.Append(sctx, tx, "state.restored", "snapshot", 0, events.EventPayload{
		"snapshot_id": snap.ID,
		"goals":       len(snap.Goals),
		"tasks":       len(snap.Tasks),
	}); err != nil {
		return counts, storeErr(err, "append state.restored")
	}
	if err := tx.Commit(); err != nil {
		return counts, storeErr(err, "commit restore")
	}

	e.cacheFlush(ctx)
	counts = RestoreCounts{Goals: len(snap.Goals), Tasks: len(snap.Tasks)}
	e.Log.Info().Str("snapshot_id", snap.ID).Int("goals", counts.Goals).Int("tasks", counts.Tasks).Msg("state restored")
	return counts, nil
}
