package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"orchard/internal/domain"
)

const taskColumns = `id,goal_id,description,type,priority,status,repo,estimated_effort,assigned_tools_json,result_json,created_at,updated_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var typ, repo, effort, tools, result, completedAt sql.NullString
	var createdAt, updatedAt string
	err := scan(&t.ID, &t.GoalID, &t.Description, &typ, &t.Priority, &t.Status,
		&repo, &effort, &tools, &result, &createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if typ.Valid {
		t.Type = typ.String
	}
	if repo.Valid {
		t.Repo = repo.String
	}
	if effort.Valid {
		t.EstimatedEffort = effort.String
	}
	if err := unmarshalJSON(tools, &t.AssignedTools); err != nil {
		return t, fmt.Errorf("task %d assigned tools: %w", t.ID, err)
	}
	if err := unmarshalJSON(result, &t.Result); err != nil {
		return t, fmt.Errorf("task %d result: %w", t.ID, err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		ct := parseTime(completedAt.String)
		t.CompletedAt = &ct
	}
	return t, nil
}

// InsertTask inserts a task and returns the assigned id. Dependencies are
// stored separately via AddDependencies.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	tools, err := marshalJSON(t.AssignedTools)
	if err != nil {
		return 0, err
	}
	result, err := marshalJSON(t.Result)
	if err != nil {
		return 0, err
	}
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(goal_id,description,type,priority,status,repo,estimated_effort,assigned_tools_json,result_json,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.GoalID, t.Description, nullable(t.Type), string(t.Priority), string(t.Status),
		nullable(t.Repo), nullable(t.EstimatedEffort), tools, result,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), completedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateTask rewrites the mutable task columns.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
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
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET description=?, type=?, priority=?, status=?, repo=?, estimated_effort=?, assigned_tools_json=?, result_json=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Description, nullable(t.Type), string(t.Priority), string(t.Status),
		nullable(t.Repo), nullable(t.EstimatedEffort), tools, result,
		formatTime(t.UpdatedAt), completedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) getTask(ctx context.Context, q querier, id int64) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
	if err != nil {
		return t, err
	}
	t.Dependencies, err = listTaskDependencies(ctx, q, id)
	return t, err
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

// DeleteTask removes a single task row; its outgoing dependency edges
// cascade. Incoming references are the caller's responsibility.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	GoalID   int64
	Status   string
	Priority string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	return r.listTasks(ctx, r.DB, f)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	return r.listTasks(ctx, tx, f)
}

func (r Repo) listTasks(ctx context.Context, q querier, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.GoalID != 0 {
		clauses = append(clauses, "goal_id=?")
		args = append(args, f.GoalID)
	}
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
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Dependencies, err = listTaskDependencies(ctx, q, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func listTaskDependencies(ctx context.Context, q querier, taskID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY depends_on_task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []int64
	for rows.Next() {
		var dep int64
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func (r Repo) ListTaskDependencies(ctx context.Context, taskID int64) ([]int64, error) {
	return listTaskDependencies(ctx, r.DB, taskID)
}

// AddDependencies records dependency edges for a task.
func (r Repo) AddDependencies(ctx context.Context, tx *sql.Tx, taskID int64, deps []int64) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, depends_on_task_id) VALUES (?,?)`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}

// ListDependents returns ids of tasks that directly depend on taskID.
func (r Repo) ListDependents(ctx context.Context, tx *sql.Tx, taskID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT task_id FROM task_deps WHERE depends_on_task_id=? ORDER BY task_id ASC`, taskID)
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

// RemoveDependencyRefs drops every edge pointing at the given task, so no
// dependent is left referencing a deleted id.
func (r Repo) RemoveDependencyRefs(ctx context.Context, tx *sql.Tx, taskID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE depends_on_task_id=?`, taskID)
	return err
}

// RemoveDependencyRefsToGoal drops every edge from tasks outside the goal
// pointing at tasks inside it. Used by cascade goal deletion when cross-goal
// references are allowed.
func (r Repo) RemoveDependencyRefsToGoal(ctx context.Context, tx *sql.Tx, goalID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE depends_on_task_id IN (SELECT id FROM tasks WHERE goal_id=?)`, goalID)
	return err
}

// ListExternalDependents returns ids of tasks outside the goal that depend
// on any task inside it.
func (r Repo) ListExternalDependents(ctx context.Context, tx *sql.Tx, goalID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT d.task_id FROM task_deps d
JOIN tasks dep ON dep.id = d.depends_on_task_id
JOIN tasks t ON t.id = d.task_id
WHERE dep.goal_id = ? AND t.goal_id != ?
ORDER BY d.task_id ASC`, goalID, goalID)
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
