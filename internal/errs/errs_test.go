package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelMatching(t *testing.T) {
	err := NotFoundf("task", 7)
	assert.True(t, errors.Is(err, NotFound))
	assert.False(t, errors.Is(err, Validation))

	wrapped := fmt.Errorf("loading state: %w", err)
	assert.True(t, errors.Is(wrapped, NotFound))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestKindStrings(t *testing.T) {
	// Kind strings are part of the API contract; they must never drift.
	assert.Equal(t, Kind("validation_error"), KindValidation)
	assert.Equal(t, Kind("not_found"), KindNotFound)
	assert.Equal(t, Kind("state_transition_error"), KindStateTransition)
	assert.Equal(t, Kind("cyclic_dependency"), KindCyclicDependency)
	assert.Equal(t, Kind("dependent_task_exists"), KindDependentTaskExists)
	assert.Equal(t, Kind("persistence_error"), KindPersistence)
	assert.Equal(t, Kind("cache_error"), KindCache)
	assert.Equal(t, Kind("timeout"), KindTimeout)
}

func TestStructuredDetail(t *testing.T) {
	tr := Transition("task", 3, "pending", "completed")
	assert.Equal(t, "task", tr.EntityKind)
	assert.Equal(t, int64(3), tr.EntityID)
	assert.Equal(t, "pending", tr.From)
	assert.Equal(t, "completed", tr.To)
	assert.Contains(t, tr.Error(), "pending -> completed")

	cy := Cyclic([]int64{1, 2, 1})
	assert.Equal(t, []int64{1, 2, 1}, cy.Cycle)

	dep := Dependents(5, []int64{6, 7})
	assert.Equal(t, int64(5), dep.EntityID)
	assert.Equal(t, []int64{6, 7}, dep.Dependents)
}

func TestWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistencef(cause, "insert goal")
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "persistence_error")
	assert.Contains(t, err.Error(), "disk full")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Persistencef(nil, "x").Retryable())
	assert.True(t, Timeoutf(nil, "x").Retryable())
	assert.False(t, Validationf("x").Retryable())
	assert.False(t, NotFoundf("goal", 1).Retryable())
}

func TestAsError(t *testing.T) {
	e, ok := AsError(fmt.Errorf("wrap: %w", Validationf("bad input")))
	require.True(t, ok)
	assert.Equal(t, KindValidation, e.Kind)

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
