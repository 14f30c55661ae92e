// Package repo implements durable-store operations for goals, tasks and
// their dependency edges. The SQLite database is the system of record;
// callers compose these operations inside transactions.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"orchard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func marshalJSON(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case []int64:
		if len(t) == 0 {
			return nil, nil
		}
	case domain.Metadata:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

// querier abstracts *sql.DB and *sql.Tx so reads can run either directly
// or inside a mutating transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const goalColumns = `id,description,priority,status,repos_json,metadata_json,created_at,updated_at`

func scanGoal(scan func(dest ...any) error) (domain.Goal, error) {
	var g domain.Goal
	var repos, metadata sql.NullString
	var createdAt, updatedAt string
	err := scan(&g.ID, &g.Description, &g.Priority, &g.Status, &repos, &metadata, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if err := unmarshalJSON(repos, &g.Repos); err != nil {
		return g, fmt.Errorf("goal %d repos: %w", g.ID, err)
	}
	if err := unmarshalJSON(metadata, &g.Metadata); err != nil {
		return g, fmt.Errorf("goal %d metadata: %w", g.ID, err)
	}
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return g, nil
}

// InsertGoal inserts a goal and returns the assigned id.
func (r Repo) InsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) (int64, error) {
	repos, err := marshalJSON(g.Repos)
	if err != nil {
		return 0, err
	}
	metadata, err := marshalJSON(g.Metadata)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO goals(description,priority,status,repos_json,metadata_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)`,
		g.Description, string(g.Priority), string(g.Status), repos, metadata,
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) getGoal(ctx context.Context, q querier, id int64) (domain.Goal, error) {
	g, err := scanGoal(q.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id).Scan)
	if err != nil {
		return g, err
	}
	g.TaskIDs, err = listGoalTaskIDs(ctx, q, id)
	return g, err
}

func (r Repo) GetGoal(ctx context.Context, id int64) (domain.Goal, error) {
	return r.getGoal(ctx, r.DB, id)
}

func (r Repo) GetGoalTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Goal, error) {
	return r.getGoal(ctx, tx, id)
}

func listGoalTaskIDs(ctx context.Context, q querier, goalID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM tasks WHERE goal_id=? ORDER BY id ASC`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type GoalFilters struct {
	Status   string
	Priority string
}

func (r Repo) ListGoals(ctx context.Context, f GoalFilters) ([]domain.Goal, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].TaskIDs, err = listGoalTaskIDs(ctx, r.DB, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateGoal rewrites the mutable goal columns.
func (r Repo) UpdateGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	repos, err := marshalJSON(g.Repos)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(g.Metadata)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE goals SET description=?, priority=?, status=?, repos_json=?, metadata_json=?, updated_at=? WHERE id=?`,
		g.Description, string(g.Priority), string(g.Status), repos, metadata, formatTime(g.UpdatedAt), g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGoal removes a goal; owned tasks cascade via the foreign key.
func (r Repo) DeleteGoal(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksByStatus groups a goal's tasks by status.
func (r Repo) CountTasksByStatus(ctx context.Context, goalID int64) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE goal_id=? GROUP BY status`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
