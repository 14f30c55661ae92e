// Package planner computes ready-to-run task sets and phase-ordered
// execution plans from a snapshot of tasks. All functions are pure and
// perform no I/O; callers pass a consistent snapshot taken from the store.
package planner

import (
	"sort"

	"orchard/internal/domain"
)

// Ready returns the tasks that are eligible to run now: status pending with
// every dependency completed. The result is ordered by priority (high
// first), then creation time, then id, so repeated calls on the same
// snapshot are deterministic.
//
// Dependencies that are absent from the snapshot are treated as
// unsatisfied; a task cannot be ready while a dependency is unknown.
func Ready(tasks []domain.Task) []domain.Task {
	status := make(map[int64]domain.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	var ready []domain.Task
	for _, t := range tasks {
		if t.Status != domain.TaskStatusPending {
			continue
		}
		eligible := true
		for _, dep := range t.Dependencies {
			if status[dep] != domain.TaskStatusCompleted {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority.Rank() != ready[j].Priority.Rank() {
			return ready[i].Priority.Rank() < ready[j].Priority.Rank()
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// Plan is a phase-ordered execution plan. Each phase holds tasks whose
// dependencies are fully satisfied by earlier phases; tasks within a phase
// may run in parallel. Unplaced is non-empty when a dependency cycle
// prevents some tasks from ever being placed.
type Plan struct {
	Phases   [][]int64
	Unplaced []int64
}

// Complete reports whether every task was placed in a phase.
func (p Plan) Complete() bool { return len(p.Unplaced) == 0 }

// Build layers the dependency graph into phases: phase k+1 holds every
// not-yet-placed task whose dependencies all live in phases 1..k. When an
// iteration places nothing while tasks remain, the remainder forms a cycle
// and is reported rather than looped on. Dependencies pointing outside the
// snapshot are treated as already satisfied so a partial snapshot still
// layers cleanly.
//
// Phase-internal order is priority rank then id ascending; the whole result
// is deterministic and stable across repeated calls on identical input.
func Build(tasks []domain.Task) Plan {
	inSnapshot := make(map[int64]bool, len(tasks))
	for _, t := range tasks {
		inSnapshot[t.ID] = true
	}

	placed := make(map[int64]bool, len(tasks))
	remaining := make([]domain.Task, len(tasks))
	copy(remaining, tasks)

	var plan Plan
	for len(remaining) > 0 {
		var phase []domain.Task
		var next []domain.Task
		for _, t := range remaining {
			satisfied := true
			for _, dep := range t.Dependencies {
				if inSnapshot[dep] && !placed[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				phase = append(phase, t)
			} else {
				next = append(next, t)
			}
		}
		if len(phase) == 0 {
			// No progress: everything left participates in a cycle.
			ids := make([]int64, 0, len(remaining))
			for _, t := range remaining {
				ids = append(ids, t.ID)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			plan.Unplaced = ids
			return plan
		}
		sort.SliceStable(phase, func(i, j int) bool {
			if phase[i].Priority.Rank() != phase[j].Priority.Rank() {
				return phase[i].Priority.Rank() < phase[j].Priority.Rank()
			}
			return phase[i].ID < phase[j].ID
		})
		ids := make([]int64, 0, len(phase))
		for _, t := range phase {
			placed[t.ID] = true
			ids = append(ids, t.ID)
		}
		plan.Phases = append(plan.Phases, ids)
		remaining = next
	}
	return plan
}

// FindCycle walks the dependency graph from each task and returns the first
// cycle it encounters as a path whose first id is repeated last, or nil when
// the graph is acyclic. Edges leaving the snapshot are ignored.
func FindCycle(tasks []domain.Task) []int64 {
	deps := make(map[int64][]int64, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Dependencies
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[int64]int, len(tasks))
	var stack []int64
	var cycle []int64

	var visit func(id int64) bool
	visit = func(id int64) bool {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if _, ok := deps[dep]; !ok {
				continue
			}
			switch state[dep] {
			case visiting:
				// Slice the stack from the first occurrence of dep.
				for i, v := range stack {
					if v == dep {
						cycle = append(append([]int64{}, stack[i:]...), dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	// Deterministic traversal order.
	ordered := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		ordered = append(ordered, t.ID)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, id := range ordered {
		if state[id] == unvisited {
			stack = stack[:0]
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
