package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"orchard/internal/cache"
	"orchard/internal/domain"
	"orchard/internal/errs"
	"orchard/internal/events"
	"orchard/internal/planner"
	"orchard/internal/repo"
)

type CreateTaskOptions struct {
	GoalID          int64
	Description     string
	Type            string
	Priority        domain.Priority
	Dependencies    []int64
	Repo            string
	EstimatedEffort string
	AssignedTools   []string
}

// CreateTask creates a pending task under an existing goal. Every declared
// dependency must exist, and the resulting graph must stay acyclic; a
// mutation that would violate either is rejected before anything commits.
func (e *Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	var zero domain.Task
	if strings.TrimSpace(opts.Description) == "" {
		return zero, errs.Validationf("task description must not be empty")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return zero, errs.Validationf("unknown priority %q", opts.Priority)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return zero, storeErr(err, "begin create task")
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetGoalTx(sctx, tx, opts.GoalID); errors.Is(err, repo.ErrNotFound) {
		return zero, errs.NotFoundf("goal", opts.GoalID)
	} else if err != nil {
		return zero, storeErr(err, "get goal")
	}
	if err := e.validateDependencies(sctx, tx, opts.GoalID, opts.Dependencies); err != nil {
		return zero, err
	}

	now := e.now()
	t := domain.Task{
		GoalID:          opts.GoalID,
		Description:     strings.TrimSpace(opts.Description),
		Type:            opts.Type,
		Priority:        opts.Priority,
		Status:          domain.TaskStatusPending,
		Dependencies:    opts.Dependencies,
		Repo:            opts.Repo,
		EstimatedEffort: opts.EstimatedEffort,
		AssignedTools:   opts.AssignedTools,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	t.ID, err = e.Repo.InsertTask(sctx, tx, t)
	if err != nil {
		return zero, storeErr(err, "insert task")
	}
	if err := e.Repo.AddDependencies(sctx, tx, t.ID, t.Dependencies); err != nil {
		return zero, storeErr(err, "add dependencies")
	}

	if err := e.checkAcyclic(sctx, tx, opts.GoalID); err != nil {
		return zero, err
	}

	if err := e.Events.Append(sctx, tx, "task.created", "task", t.ID, events.EventPayload{
		"goal_id": opts.GoalID,
	}); err != nil {
		return zero, storeErr(err, "append task.created")
	}
	if err := tx.Commit(); err != nil {
		return zero, storeErr(err, "commit create task")
	}

	e.cacheInvalidate(ctx, cache.GoalKey(opts.GoalID))
	e.Log.Info().Int64("task_id", t.ID).Int64("goal_id", opts.GoalID).Msg("task created")
	return t, nil
}

// validateDependencies checks that every dependency id exists and, unless
// cross-goal references are enabled, lives in the same goal. Runs inside the
// mutating transaction so the check and the insert see the same state.
func (e *Engine) validateDependencies(ctx context.Context, tx *sql.Tx, goalID int64, deps []int64) error {
	for _, dep := range deps {
		dt, err := e.Repo.GetTaskTx(ctx, tx, dep)
		if errors.Is(err, repo.ErrNotFound) {
			return errs.NotFoundf("task", dep)
		}
		if err != nil {
			return storeErr(err, "get dependency")
		}
		if dt.GoalID != goalID && !e.Config.Graph.AllowCrossGoalDeps {
			return errs.Validationf("dependency %d belongs to goal %d; cross-goal dependencies are disabled", dep, dt.GoalID)
		}
	}
	return nil
}

// checkAcyclic verifies the dependency graph after a mutation, before it
// commits. With cross-goal references enabled the whole graph is checked,
// otherwise the goal's own tasks suffice.
func (e *Engine) checkAcyclic(ctx context.Context, tx *sql.Tx, goalID int64) error {
	filters := repo.TaskFilters{GoalID: goalID}
	if e.Config.Graph.AllowCrossGoalDeps {
		filters.GoalID = 0
	}
	tasks, err := e.Repo.ListTasksTx(ctx, tx, filters)
	if err != nil {
		return storeErr(err, "list tasks for cycle check")
	}
	if cycle := planner.FindCycle(tasks); cycle != nil {
		return errs.Cyclic(cycle)
	}
	return nil
}

// GetTask returns a task by id, consulting the cache first.
func (e *Engine) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var t domain.Task
	if e.cacheGet(ctx, cache.TaskKey(id), &t) {
		return t, nil
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	t, err := e.Repo.GetTask(sctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, errs.NotFoundf("task", id)
	}
	if err != nil {
		return t, storeErr(err, "get task")
	}
	e.cachePut(ctx, cache.TaskKey(id), t)
	return t, nil
}

type TaskFilter struct {
	GoalID   int64
	Status   domain.TaskStatus
	Priority domain.Priority
}

// ListTasks returns tasks matching the filter, ordered by id.
func (e *Engine) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.Validationf("unknown task status %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, errs.Validationf("unknown priority %q", f.Priority)
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tasks, err := e.Repo.ListTasks(sctx, repo.TaskFilters{
		GoalID:   f.GoalID,
		Status:   string(f.Status),
		Priority: string(f.Priority),
	})
	if err != nil {
		return nil, storeErr(err, "list tasks")
	}
	return tasks, nil
}

// UpdateTaskStatus moves a task along the transition table. Reaching
// completed stamps CompletedAt and records the result payload; when the last
// task of a goal completes, the goal is promoted to completed in the same
// transaction. The first task to start promotes a planned goal to
// in_progress.
func (e *Engine) UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskStatus, result map[string]any) (domain.Task, error) {
	var zero domain.Task
	if !status.Valid() {
		return zero, errs.Validationf("unknown task status %q", status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return zero, storeErr(err, "begin update task status")
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(sctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return zero, errs.NotFoundf("task", id)
	}
	if err != nil {
		return zero, storeErr(err, "get task")
	}

	from := t.Status
	if !from.CanTransition(status) {
		return zero, errs.Transition("task", id, from.String(), status.String())
	}

	now := e.now()
	t.Status = status
	t.UpdatedAt = now
	switch status {
	case domain.TaskStatusCompleted, domain.TaskStatusFailed:
		t.CompletedAt = &now
		if result != nil {
			t.Result = result
		}
	default:
		t.CompletedAt = nil
	}

	if err := e.Repo.UpdateTask(sctx, tx, t); err != nil {
		return zero, storeErr(err, "update task")
	}
	if err := e.Events.Append(sctx, tx, "task.status_changed", "task", id, events.EventPayload{
		"from": from.String(),
		"to":   status.String(),
	}); err != nil {
		return zero, storeErr(err, "append task.status_changed")
	}

	goalPromoted, err := e.syncGoalStatus(sctx, tx, t.GoalID, status)
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(); err != nil {
		return zero, storeErr(err, "commit update task status")
	}

	e.cacheInvalidate(ctx, taskCacheKeys(id, t.GoalID)...)
	evt := e.Log.Info().Int64("task_id", id).Str("from", from.String()).Str("to", status.String())
	if goalPromoted != "" {
		evt = evt.Str("goal_status", goalPromoted)
	}
	evt.Msg("task status changed")
	return t, nil
}

// syncGoalStatus applies the derived goal transitions after a task status
// change: planned goals start when their first task starts, and a goal
// completes when its last task completes. Goals with zero tasks never
// complete automatically. Returns the new goal status, or "" if unchanged.
func (e *Engine) syncGoalStatus(ctx context.Context, tx *sql.Tx, goalID int64, taskStatus domain.TaskStatus) (string, error) {
	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return "", storeErr(err, "get goal for status sync")
	}

	var next domain.GoalStatus
	switch taskStatus {
	case domain.TaskStatusInProgress:
		if g.Status == domain.GoalStatusPlanned {
			next = domain.GoalStatusInProgress
		}
	case domain.TaskStatusCompleted:
		if g.Status.Terminal() || len(g.TaskIDs) == 0 {
			return "", nil
		}
		tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{GoalID: goalID})
		if err != nil {
			return "", storeErr(err, "list tasks for status sync")
		}
		allDone := true
		for _, t := range tasks {
			if t.Status != domain.TaskStatusCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			next = domain.GoalStatusCompleted
		}
	}
	if next == "" || !g.Status.CanTransition(next) {
		return "", nil
	}

	from := g.Status
	g.Status = next
	g.UpdatedAt = e.now()
	if err := e.Repo.UpdateGoal(ctx, tx, g); err != nil {
		return "", storeErr(err, "update goal status")
	}
	if err := e.Events.Append(ctx, tx, "goal.status_changed", "goal", goalID, events.EventPayload{
		"from": from.String(),
		"to":   next.String(),
	}); err != nil {
		return "", storeErr(err, "append goal.status_changed")
	}
	return next.String(), nil
}

// DeletedTask reports what a task deletion removed or touched.
type DeletedTask struct {
	TaskID     int64   `json:"task_id"`
	Dependents []int64 `json:"dependents,omitempty"`
}

// DeleteTask removes a task. When other tasks depend on it the delete is
// rejected unless cascade is set, in which case the dependents lose the
// edge but are otherwise untouched.
func (e *Engine) DeleteTask(ctx context.Context, id int64, cascade bool) (DeletedTask, error) {
	var res DeletedTask

	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return res, storeErr(err, "begin delete task")
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(sctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return res, errs.NotFoundf("task", id)
	}
	if err != nil {
		return res, storeErr(err, "get task")
	}

	dependents, err := e.Repo.ListDependents(sctx, tx, id)
	if err != nil {
		return res, storeErr(err, "list dependents")
	}
	if len(dependents) > 0 {
		if !cascade {
			return res, errs.Dependents(id, dependents)
		}
		if err := e.Repo.RemoveDependencyRefs(sctx, tx, id); err != nil {
			return res, storeErr(err, "remove dependency refs")
		}
	}

	if err := e.Repo.DeleteTask(sctx, tx, id); err != nil {
		return res, storeErr(err, "delete task")
	}
	if err := e.Events.Append(sctx, tx, "task.deleted", "task", id, events.EventPayload{
		"goal_id":    t.GoalID,
		"dependents": len(dependents),
	}); err != nil {
		return res, storeErr(err, "append task.deleted")
	}
	if err := tx.Commit(); err != nil {
		return res, storeErr(err, "commit delete task")
	}

	keys := taskCacheKeys(id, t.GoalID)
	for _, dep := range dependents {
		keys = append(keys, cache.TaskKey(dep))
	}
	e.cacheInvalidate(ctx, keys...)

	e.Log.Info().Int64("task_id", id).Int("dependents", len(dependents)).Msg("task deleted")
	return DeletedTask{TaskID: id, Dependents: dependents}, nil
}

// NextReadyTasks returns the tasks eligible to run now: pending with every
// dependency completed, ordered by priority then age. goalID 0 means all
// goals.
//
// With cross-goal dependencies enabled, a dependency may live outside the
// requested goal, so readiness is computed over the whole graph and the
// result narrowed to the goal afterwards.
func (e *Engine) NextReadyTasks(ctx context.Context, goalID int64) ([]domain.Task, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	wholeGraph := goalID == 0 || e.Config.Graph.AllowCrossGoalDeps
	filter := repo.TaskFilters{GoalID: goalID}
	if wholeGraph {
		filter = repo.TaskFilters{}
	}
	tasks, err := e.Repo.ListTasks(sctx, filter)
	if err != nil {
		return nil, storeErr(err, "list tasks")
	}
	if goalID != 0 && (wholeGraph || len(tasks) == 0) {
		if _, err := e.Repo.GetGoal(sctx, goalID); errors.Is(err, repo.ErrNotFound) {
			return nil, errs.NotFoundf("goal", goalID)
		} else if err != nil {
			return nil, storeErr(err, "get goal")
		}
	}

	ready := planner.Ready(tasks)
	if goalID != 0 && wholeGraph {
		scoped := make([]domain.Task, 0, len(ready))
		for _, t := range ready {
			if t.GoalID == goalID {
				scoped = append(scoped, t)
			}
		}
		ready = scoped
	}
	return ready, nil
}

// ExecutionPlan is the phase-ordered plan for a goal. When the graph holds a
// cycle the placeable phases are still returned and Cycle carries the ids
// that could not be placed; planning never fails on a cycle.
type ExecutionPlan struct {
	GoalID      int64     `json:"goal_id"`
	Phases      [][]int64 `json:"phases"`
	TotalPhases int       `json:"total_phases"`
	Cycle       []int64   `json:"cycle,omitempty"`
}

// GenerateExecutionPlan layers a goal's tasks into dependency-ordered
// phases.
func (e *Engine) GenerateExecutionPlan(ctx context.Context, goalID int64) (ExecutionPlan, error) {
	plan := ExecutionPlan{GoalID: goalID}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if _, err := e.Repo.GetGoal(sctx, goalID); errors.Is(err, repo.ErrNotFound) {
		return plan, errs.NotFoundf("goal", goalID)
	} else if err != nil {
		return plan, storeErr(err, "get goal")
	}
	tasks, err := e.Repo.ListTasks(sctx, repo.TaskFilters{GoalID: goalID})
	if err != nil {
		return plan, storeErr(err, "list tasks")
	}

	p := planner.Build(tasks)
	plan.Phases = p.Phases
	plan.TotalPhases = len(p.Phases)
	plan.Cycle = p.Unplaced
	if !p.Complete() {
		e.Log.Warn().Int64("goal_id", goalID).Ints64("unplaced", p.Unplaced).Msg("execution plan incomplete: dependency cycle")
	}
	return plan, nil
}
