package engine

import (
	"context"
	"errors"
	"strings"

	"orchard/internal/cache"
	"orchard/internal/domain"
	"orchard/internal/errs"
	"orchard/internal/events"
	"orchard/internal/repo"
)

type CreateGoalOptions struct {
	Description string
	Priority    domain.Priority
	Repos       []string
	Metadata    domain.Metadata
}

// CreateGoal creates a goal in status planned with no tasks.
func (e *Engine) CreateGoal(ctx context.Context, opts CreateGoalOptions) (domain.Goal, error) {
	var g domain.Goal
	if strings.TrimSpace(opts.Description) == "" {
		return g, errs.Validationf("goal description must not be empty")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return g, errs.Validationf("unknown priority %q", opts.Priority)
	}
	if err := opts.Metadata.Validate(); err != nil {
		return g, errs.Validationf("metadata: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	g = domain.Goal{
		Description: strings.TrimSpace(opts.Description),
		Priority:    opts.Priority,
		Status:      domain.GoalStatusPlanned,
		Repos:       opts.Repos,
		Metadata:    opts.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return g, storeErr(err, "begin create goal")
	}
	defer tx.Rollback()

	g.ID, err = e.Repo.InsertGoal(sctx, tx, g)
	if err != nil {
		return g, storeErr(err, "insert goal")
	}
	if err := e.Events.Append(sctx, tx, "goal.created", "goal", g.ID, events.EventPayload{
		"priority": g.Priority.String(),
	}); err != nil {
		return g, storeErr(err, "append goal.created")
	}
	if err := tx.Commit(); err != nil {
		return g, storeErr(err, "commit create goal")
	}

	e.Log.Info().Int64("goal_id", g.ID).Str("priority", g.Priority.String()).Msg("goal created")
	return g, nil
}

// GetGoal returns a goal by id, consulting the cache first.
func (e *Engine) GetGoal(ctx context.Context, id int64) (domain.Goal, error) {
	var g domain.Goal
	if e.cacheGet(ctx, cache.GoalKey(id), &g) {
		return g, nil
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	g, err := e.Repo.GetGoal(sctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return g, errs.NotFoundf("goal", id)
	}
	if err != nil {
		return g, storeErr(err, "get goal")
	}
	e.cachePut(ctx, cache.GoalKey(id), g)
	return g, nil
}

type GoalFilter struct {
	Status   domain.GoalStatus
	Priority domain.Priority
}

// ListGoals returns goals matching the filter, ordered by id.
func (e *Engine) ListGoals(ctx context.Context, f GoalFilter) ([]domain.Goal, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.Validationf("unknown goal status %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, errs.Validationf("unknown priority %q", f.Priority)
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	goals, err := e.Repo.ListGoals(sctx, repo.GoalFilters{
		Status:   string(f.Status),
		Priority: string(f.Priority),
	})
	if err != nil {
		return nil, storeErr(err, "list goals")
	}
	return goals, nil
}

// GoalPatch carries the fields UpdateGoal may change. Nil pointers leave a
// field untouched.
type GoalPatch struct {
	Description *string
	Priority    *domain.Priority
	Status      *domain.GoalStatus
	Repos       *[]string
	Metadata    domain.Metadata
}

// UpdateGoal applies a partial update. Status changes must follow the goal
// transition table; all validation happens before anything is written.
func (e *Engine) UpdateGoal(ctx context.Context, id int64, patch GoalPatch) (domain.Goal, error) {
	var zero domain.Goal
	if patch.Description != nil && strings.TrimSpace(*patch.Description) == "" {
		return zero, errs.Validationf("goal description must not be empty")
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return zero, errs.Validationf("unknown priority %q", *patch.Priority)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return zero, errs.Validationf("unknown goal status %q", *patch.Status)
	}
	if err := patch.Metadata.Validate(); err != nil {
		return zero, errs.Validationf("metadata: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return zero, storeErr(err, "begin update goal")
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(sctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return zero, errs.NotFoundf("goal", id)
	}
	if err != nil {
		return zero, storeErr(err, "get goal")
	}

	payload := events.EventPayload{}
	if patch.Status != nil && *patch.Status != g.Status {
		if !g.Status.CanTransition(*patch.Status) {
			return zero, errs.Transition("goal", id, g.Status.String(), patch.Status.String())
		}
		payload["from"] = g.Status.String()
		payload["to"] = patch.Status.String()
		g.Status = *patch.Status
	}
	if patch.Description != nil {
		g.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Priority != nil {
		g.Priority = *patch.Priority
	}
	if patch.Repos != nil {
		g.Repos = *patch.Repos
	}
	if patch.Metadata != nil {
		g.Metadata = patch.Metadata
	}
	g.UpdatedAt = e.now()

	if err := e.Repo.UpdateGoal(sctx, tx, g); err != nil {
		return zero, storeErr(err, "update goal")
	}
	if err := e.Events.Append(sctx, tx, "goal.updated", "goal", id, payload); err != nil {
		return zero, storeErr(err, "append goal.updated")
	}
	if err := tx.Commit(); err != nil {
		return zero, storeErr(err, "commit update goal")
	}

	e.cacheInvalidate(ctx, cache.GoalKey(id))
	e.Log.Info().Int64("goal_id", id).Msg("goal updated")
	return g, nil
}

// DeletedGoal reports what a goal deletion removed.
type DeletedGoal struct {
	GoalID  int64   `json:"goal_id"`
	TaskIDs []int64 `json:"task_ids,omitempty"`
}

// DeleteGoal removes a goal and every task it owns. When tasks in other
// goals depend on tasks inside this goal, the delete is rejected unless
// cascade is set, in which case the dangling edges are dropped too.
func (e *Engine) DeleteGoal(ctx context.Context, id int64, cascade bool) (DeletedGoal, error) {
	var res DeletedGoal

	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return res, storeErr(err, "begin delete goal")
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(sctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return res, errs.NotFoundf("goal", id)
	}
	if err != nil {
		return res, storeErr(err, "get goal")
	}

	external, err := e.Repo.ListExternalDependents(sctx, tx, id)
	if err != nil {
		return res, storeErr(err, "list external dependents")
	}
	if len(external) > 0 {
		if !cascade {
			return res, errs.Dependents(id, external)
		}
		if err := e.Repo.RemoveDependencyRefsToGoal(sctx, tx, id); err != nil {
			return res, storeErr(err, "remove dependency refs")
		}
	}

	if err := e.Repo.DeleteGoal(sctx, tx, id); err != nil {
		return res, storeErr(err, "delete goal")
	}
	if err := e.Events.Append(sctx, tx, "goal.deleted", "goal", id, events.EventPayload{
		"task_count": len(g.TaskIDs),
	}); err != nil {
		return res, storeErr(err, "append goal.deleted")
	}
	if err := tx.Commit(); err != nil {
		return res, storeErr(err, "commit delete goal")
	}

	keys := []string{cache.GoalKey(id)}
	for _, tid := range g.TaskIDs {
		keys = append(keys, cache.TaskKey(tid))
	}
	for _, tid := range external {
		keys = append(keys, cache.TaskKey(tid))
	}
	e.cacheInvalidate(ctx, keys...)

	e.Log.Info().Int64("goal_id", id).Int("tasks", len(g.TaskIDs)).Msg("goal deleted")
	return DeletedGoal{GoalID: id, TaskIDs: g.TaskIDs}, nil
}

// TaskSpec describes one task inside a BreakDownGoal call. DependsOn names
// existing task ids; DependsOnPrev indexes earlier specs in the same call.
type TaskSpec struct {
	Description     string
	Type            string
	Priority        domain.Priority
	DependsOn       []int64
	DependsOnPrev   []int
	Repo            string
	EstimatedEffort string
	AssignedTools   []string
}

// BreakDownGoal creates a batch of tasks under one goal in a single
// transaction: either every task lands or none do. Intra-batch dependencies
// reference earlier specs by index, so the batch itself cannot form a cycle;
// the combined graph is still checked before commit.
func (e *Engine) BreakDownGoal(ctx context.Context, goalID int64, specs []TaskSpec) (domain.Goal, []domain.Task, error) {
	var zero domain.Goal
	if len(specs) == 0 {
		return zero, nil, errs.Validationf("at least one task spec is required")
	}
	for i := range specs {
		if strings.TrimSpace(specs[i].Description) == "" {
			return zero, nil, errs.Validationf("task spec %d: description must not be empty", i)
		}
		if specs[i].Priority == "" {
			specs[i].Priority = domain.PriorityMedium
		}
		if !specs[i].Priority.Valid() {
			return zero, nil, errs.Validationf("task spec %d: unknown priority %q", i, specs[i].Priority)
		}
		for _, prev := range specs[i].DependsOnPrev {
			if prev < 0 || prev >= i {
				return zero, nil, errs.Validationf("task spec %d: depends_on_prev %d out of range", i, prev)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	tx, err := e.DB.BeginTx(sctx, nil)
	if err != nil {
		return zero, nil, storeErr(err, "begin break down goal")
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetGoalTx(sctx, tx, goalID); errors.Is(err, repo.ErrNotFound) {
		return zero, nil, errs.NotFoundf("goal", goalID)
	} else if err != nil {
		return zero, nil, storeErr(err, "get goal")
	}

	now := e.now()
	created := make([]domain.Task, 0, len(specs))
	for i, spec := range specs {
		deps := append([]int64{}, spec.DependsOn...)
		for _, prev := range spec.DependsOnPrev {
			deps = append(deps, created[prev].ID)
		}
		t := domain.Task{
			GoalID:          goalID,
			Description:     strings.TrimSpace(spec.Description),
			Type:            spec.Type,
			Priority:        spec.Priority,
			Status:          domain.TaskStatusPending,
			Dependencies:    deps,
			Repo:            spec.Repo,
			EstimatedEffort: spec.EstimatedEffort,
			AssignedTools:   spec.AssignedTools,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.validateDependencies(sctx, tx, goalID, deps); err != nil {
			return zero, nil, err
		}
		t.ID, err = e.Repo.InsertTask(sctx, tx, t)
		if err != nil {
			return zero, nil, storeErr(err, "insert task")
		}
		if err := e.Repo.AddDependencies(sctx, tx, t.ID, deps); err != nil {
			return zero, nil, storeErr(err, "add dependencies")
		}
		if err := e.Events.Append(sctx, tx, "task.created", "task", t.ID, events.EventPayload{
			"goal_id": goalID,
			"spec":    i,
		}); err != nil {
			return zero, nil, storeErr(err, "append task.created")
		}
		created = append(created, t)
	}

	if err := e.checkAcyclic(sctx, tx, goalID); err != nil {
		return zero, nil, err
	}

	if err := tx.Commit(); err != nil {
		return zero, nil, storeErr(err, "commit break down goal")
	}

	e.cacheInvalidate(ctx, cache.GoalKey(goalID))
	e.Log.Info().Int64("goal_id", goalID).Int("tasks", len(created)).Msg("goal broken down")

	g, err := e.GetGoal(ctx, goalID)
	if err != nil {
		return zero, created, err
	}
	return g, created, nil
}
