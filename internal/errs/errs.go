// Package errs defines the error taxonomy for the orchestration engine.
//
// Every error carries a stable kind string for programmatic handling, a
// human-readable message, and structured detail (offending id, attempted
// transition, cycle path) so callers can drive retry or correction without
// parsing free text. Errors support errors.Is/errors.As and wrap underlying
// causes with %w.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable error category string.
type Kind string

const (
	// KindValidation marks malformed input: empty description, unknown
	// priority, metadata out of bounds.
	KindValidation Kind = "validation_error"

	// KindNotFound marks an unknown goal or task id.
	KindNotFound Kind = "not_found"

	// KindStateTransition marks an illegal status change.
	KindStateTransition Kind = "state_transition_error"

	// KindCyclicDependency marks a mutation that would introduce a
	// dependency cycle. The error carries the cycle path.
	KindCyclicDependency Kind = "cyclic_dependency"

	// KindDependentTaskExists marks a delete blocked by live dependents.
	KindDependentTaskExists Kind = "dependent_task_exists"

	// KindPersistence marks a durable-store failure. Always fatal to the
	// current operation, never partially applied, safe to retry.
	KindPersistence Kind = "persistence_error"

	// KindCache marks an advisory cache failure. Logged, never surfaced
	// as an operation failure.
	KindCache Kind = "cache_error"

	// KindTimeout marks a bounded call that exceeded its deadline. The
	// outcome is unknown; callers should treat it as retryable.
	KindTimeout Kind = "timeout"
)

// Error is the engine's error type.
type Error struct {
	Kind    Kind
	Message string

	// Structured detail, populated where applicable.
	EntityKind string  // "goal" or "task"
	EntityID   int64   // offending id, if any
	From, To   string  // attempted status transition
	Cycle      []int64 // dependency cycle path, first id repeated last
	Dependents []int64 // task ids blocking a delete

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is treats two *Error values with the same Kind as equal, so sentinels
// like errs.Validation can be matched with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the operation may be safely retried as-is.
func (e *Error) Retryable() bool {
	return e.Kind == KindPersistence || e.Kind == KindTimeout
}

// Sentinels for errors.Is checks, one per kind.
var (
	Validation          = &Error{Kind: KindValidation}
	NotFound            = &Error{Kind: KindNotFound}
	StateTransition     = &Error{Kind: KindStateTransition}
	CyclicDependency    = &Error{Kind: KindCyclicDependency}
	DependentTaskExists = &Error{Kind: KindDependentTaskExists}
	Persistence         = &Error{Kind: KindPersistence}
	Cache               = &Error{Kind: KindCache}
	Timeout             = &Error{Kind: KindTimeout}
)

// Validationf builds a validation error from a format string.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error for an entity id.
func NotFoundf(entityKind string, id int64) *Error {
	return &Error{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("%s %d not found", entityKind, id),
		EntityKind: entityKind,
		EntityID:   id,
	}
}

// Transition builds a state-transition error naming the attempted and
// current states.
func Transition(entityKind string, id int64, from, to string) *Error {
	return &Error{
		Kind:       KindStateTransition,
		Message:    fmt.Sprintf("%s %d cannot transition %s -> %s", entityKind, id, from, to),
		EntityKind: entityKind,
		EntityID:   id,
		From:       from,
		To:         to,
	}
}

// Cyclic builds a cyclic-dependency error carrying the cycle path.
func Cyclic(cycle []int64) *Error {
	return &Error{
		Kind:       KindCyclicDependency,
		Message:    fmt.Sprintf("dependency cycle detected: %v", cycle),
		EntityKind: "task",
		Cycle:      cycle,
	}
}

// Dependents builds a delete-blocked error listing the live dependents.
func Dependents(id int64, dependents []int64) *Error {
	return &Error{
		Kind:       KindDependentTaskExists,
		Message:    fmt.Sprintf("task %d has dependent tasks %v; pass cascade to delete", id, dependents),
		EntityKind: "task",
		EntityID:   id,
		Dependents: dependents,
	}
}

// Persistencef wraps a durable-store failure.
func Persistencef(err error, format string, args ...any) *Error {
	return &Error{Kind: KindPersistence, Message: fmt.Sprintf(format, args...), err: err}
}

// Cachef wraps an advisory cache failure.
func Cachef(err error, format string, args ...any) *Error {
	return &Error{Kind: KindCache, Message: fmt.Sprintf(format, args...), err: err}
}

// Timeoutf wraps a deadline overrun; the underlying outcome is unknown.
func Timeoutf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the kind from any error, or "" for non-taxonomy errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError extracts the taxonomy error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
