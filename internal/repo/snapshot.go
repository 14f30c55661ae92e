package repo

import (
	"context"
	"database/sql"

	"orchard/internal/domain"
)

// Wipe removes all entities and dependency edges. Used by restore.
func (r Repo) Wipe(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`DELETE FROM task_deps`,
		`DELETE FROM tasks`,
		`DELETE FROM goals`,
		`DELETE FROM sqlite_sequence WHERE name IN ('goals','tasks')`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertGoalWithID inserts a goal preserving its original id.
func (r Repo) InsertGoalWithID(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	repos, err := marshalJSON(g.Repos)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(g.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO goals(id,description,priority,status,repos_json,metadata_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		g.ID, g.Description, string(g.Priority), string(g.Status), repos, metadata,
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	return err
}

// InsertTaskWithID inserts a task preserving its original id, including its
// dependency edges.
func (r Repo) InsertTaskWithID(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	tools, err := marshalJSON(t.AssignedTools)
	if err != nil {
		return err
	}
	result, err := marshalJSON(t.Result)
	if err != nil {
		return err
	}
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,goal_id,description,type,priority,status,repo,estimated_effort,assigned_tools_json,result_json,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.GoalID, t.Description, nullable(t.Type), string(t.Priority), string(t.Status),
		nullable(t.Repo), nullable(t.EstimatedEffort), tools, result,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), completedAt)
	if err != nil {
		return err
	}
	return r.AddDependencies(ctx, tx, t.ID, t.Dependencies)
}

// BumpSequences advances the id allocators past the highest restored ids so
// future inserts never collide with restored entities.
func (r Repo) BumpSequences(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"goals", "tasks"} {
		_, err := tx.ExecContext(ctx, `INSERT INTO sqlite_sequence(name, seq)
SELECT ?, COALESCE(MAX(id),0) FROM `+table+`
WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = ?)`, table, table)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = (SELECT COALESCE(MAX(id),0) FROM `+table+`) WHERE name = ?`, table); err != nil {
			return err
		}
	}
	return nil
}
