package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoalTransitions(t *testing.T) {
	allowed := []struct{ from, to GoalStatus }{
		{GoalStatusPlanned, GoalStatusInProgress},
		{GoalStatusPlanned, GoalStatusCancelled},
		{GoalStatusInProgress, GoalStatusCompleted},
		{GoalStatusInProgress, GoalStatusCancelled},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to GoalStatus }{
		{GoalStatusPlanned, GoalStatusCompleted},
		{GoalStatusCompleted, GoalStatusInProgress},
		{GoalStatusCancelled, GoalStatusPlanned},
		{GoalStatusCompleted, GoalStatusCancelled},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTaskTransitions(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{TaskStatusPending, TaskStatusInProgress},
		{TaskStatusPending, TaskStatusBlocked},
		{TaskStatusInProgress, TaskStatusCompleted},
		{TaskStatusInProgress, TaskStatusFailed},
		{TaskStatusInProgress, TaskStatusBlocked},
		{TaskStatusBlocked, TaskStatusPending},
		{TaskStatusBlocked, TaskStatusInProgress},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to TaskStatus }{
		{TaskStatusPending, TaskStatusCompleted},
		{TaskStatusPending, TaskStatusFailed},
		{TaskStatusCompleted, TaskStatusPending},
		{TaskStatusCompleted, TaskStatusInProgress},
		{TaskStatusFailed, TaskStatusInProgress},
		{TaskStatusBlocked, TaskStatusCompleted},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, GoalStatusCompleted.Terminal())
	assert.True(t, GoalStatusCancelled.Terminal())
	assert.False(t, GoalStatusInProgress.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.False(t, TaskStatusBlocked.Terminal())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, GoalStatusPlanned.Valid())
	assert.False(t, GoalStatus("archived").Valid())
	assert.True(t, TaskStatusBlocked.Valid())
	assert.False(t, TaskStatus("paused").Valid())
}

func TestPriority(t *testing.T) {
	assert.True(t, PriorityHigh.Valid())
	assert.False(t, Priority("urgent").Valid())
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
}

func TestMetadataValidate(t *testing.T) {
	assert.NoError(t, Metadata(nil).Validate())
	assert.NoError(t, Metadata{"k": "v", "n": 3}.Validate())

	big := Metadata{"blob": strings.Repeat("x", MetadataMaxBytes)}
	assert.Error(t, big.Validate())

	deep := any("leaf")
	for i := 0; i < MetadataMaxDepth+1; i++ {
		deep = map[string]any{"next": deep}
	}
	assert.Error(t, Metadata{"root": deep}.Validate())

	shallow := any("leaf")
	for i := 0; i < MetadataMaxDepth-2; i++ {
		shallow = map[string]any{"next": shallow}
	}
	assert.NoError(t, Metadata{"root": shallow}.Validate())
}
