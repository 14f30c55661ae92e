package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchard/internal/domain"
)

func task(id int64, status domain.TaskStatus, priority domain.Priority, deps ...int64) domain.Task {
	return domain.Task{
		ID:           id,
		Status:       status,
		Priority:     priority,
		Dependencies: deps,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, int(id), 0, time.UTC),
	}
}

func TestReady(t *testing.T) {
	tasks := []domain.Task{
		task(1, domain.TaskStatusCompleted, domain.PriorityMedium),
		task(2, domain.TaskStatusPending, domain.PriorityLow, 1),
		task(3, domain.TaskStatusPending, domain.PriorityHigh),
		task(4, domain.TaskStatusPending, domain.PriorityMedium, 5), // dep in progress
		task(5, domain.TaskStatusInProgress, domain.PriorityMedium),
	}

	ready := Ready(tasks)
	require.Len(t, ready, 2)
	assert.Equal(t, int64(3), ready[0].ID, "high priority first")
	assert.Equal(t, int64(2), ready[1].ID)
}

func TestReadyUnknownDependency(t *testing.T) {
	ready := Ready([]domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium, 99),
	})
	assert.Empty(t, ready, "a task with an unknown dependency is never ready")
}

func TestReadyTieBreaksByAge(t *testing.T) {
	a := task(7, domain.TaskStatusPending, domain.PriorityMedium)
	b := task(3, domain.TaskStatusPending, domain.PriorityMedium)
	a.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	ready := Ready([]domain.Task{b, a})
	require.Len(t, ready, 2)
	assert.Equal(t, int64(7), ready[0].ID, "older task first")
}

func TestBuildPhases(t *testing.T) {
	// a <- b, a <- c: two phases.
	tasks := []domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium),
		task(2, domain.TaskStatusPending, domain.PriorityMedium, 1),
		task(3, domain.TaskStatusPending, domain.PriorityHigh, 1),
	}

	plan := Build(tasks)
	require.True(t, plan.Complete())
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, []int64{1}, plan.Phases[0])
	assert.Equal(t, []int64{3, 2}, plan.Phases[1], "phase order is priority rank then id")
}

func TestBuildDiamond(t *testing.T) {
	tasks := []domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium),
		task(2, domain.TaskStatusPending, domain.PriorityMedium, 1),
		task(3, domain.TaskStatusPending, domain.PriorityMedium, 1),
		task(4, domain.TaskStatusPending, domain.PriorityMedium, 2, 3),
	}

	plan := Build(tasks)
	require.Len(t, plan.Phases, 3)
	assert.Equal(t, []int64{1}, plan.Phases[0])
	assert.Equal(t, []int64{2, 3}, plan.Phases[1])
	assert.Equal(t, []int64{4}, plan.Phases[2])
}

func TestBuildFullCycle(t *testing.T) {
	tasks := []domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium, 3),
		task(2, domain.TaskStatusPending, domain.PriorityMedium, 1),
		task(3, domain.TaskStatusPending, domain.PriorityMedium, 2),
	}

	plan := Build(tasks)
	assert.Empty(t, plan.Phases, "nothing placeable")
	assert.False(t, plan.Complete())
	assert.Equal(t, []int64{1, 2, 3}, plan.Unplaced)
}

func TestBuildPartialCycle(t *testing.T) {
	tasks := []domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium),
		task(2, domain.TaskStatusPending, domain.PriorityMedium, 3),
		task(3, domain.TaskStatusPending, domain.PriorityMedium, 2),
	}

	plan := Build(tasks)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, []int64{1}, plan.Phases[0])
	assert.Equal(t, []int64{2, 3}, plan.Unplaced)
}

func TestBuildExternalDepsSatisfied(t *testing.T) {
	// Dependency 99 is outside the snapshot; Build treats it as done.
	plan := Build([]domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium, 99),
	})
	require.True(t, plan.Complete())
	assert.Equal(t, [][]int64{{1}}, plan.Phases)
}

func TestBuildDeterministic(t *testing.T) {
	tasks := []domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium),
		task(2, domain.TaskStatusPending, domain.PriorityMedium, 1),
		task(3, domain.TaskStatusPending, domain.PriorityHigh, 1),
		task(4, domain.TaskStatusPending, domain.PriorityLow),
	}
	first := Build(tasks)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build(tasks))
	}
}

func TestFindCycle(t *testing.T) {
	assert.Nil(t, FindCycle([]domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium),
		task(2, domain.TaskStatusPending, domain.PriorityMedium, 1),
	}))

	cycle := FindCycle([]domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium, 3),
		task(2, domain.TaskStatusPending, domain.PriorityMedium, 1),
		task(3, domain.TaskStatusPending, domain.PriorityMedium, 2),
	})
	require.NotNil(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1], "first id repeated last")
	assert.Len(t, cycle, 4)
}

func TestFindCycleSelfLoop(t *testing.T) {
	cycle := FindCycle([]domain.Task{
		task(1, domain.TaskStatusPending, domain.PriorityMedium, 1),
	})
	assert.Equal(t, []int64{1, 1}, cycle)
}
