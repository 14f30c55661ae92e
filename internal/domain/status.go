package domain

import "errors"

var (
	errMetadataTooLarge = errors.New("metadata exceeds size bound")
	errMetadataTooDeep  = errors.New("metadata exceeds depth bound")
)

// GoalStatus is the state of a goal.
//
//	planned → in_progress → completed
//	planned, in_progress → cancelled
//
// completed and cancelled are terminal. Promotion to in_progress and
// completed also happens automatically as owned tasks advance.
type GoalStatus string

const (
	GoalStatusPlanned    GoalStatus = "planned"
	GoalStatusInProgress GoalStatus = "in_progress"
	GoalStatusCompleted  GoalStatus = "completed"
	GoalStatusCancelled  GoalStatus = "cancelled"
)

func (s GoalStatus) String() string { return string(s) }

// Valid reports whether s is a known goal status.
func (s GoalStatus) Valid() bool {
	switch s {
	case GoalStatusPlanned, GoalStatusInProgress, GoalStatusCompleted, GoalStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s GoalStatus) Terminal() bool {
	return s == GoalStatusCompleted || s == GoalStatusCancelled
}

var goalTransitions = map[GoalStatus][]GoalStatus{
	GoalStatusPlanned:    {GoalStatusInProgress, GoalStatusCancelled},
	GoalStatusInProgress: {GoalStatusCompleted, GoalStatusCancelled},
	GoalStatusCompleted:  {},
	GoalStatusCancelled:  {},
}

// CanTransition reports whether s → to is an allowed goal transition.
func (s GoalStatus) CanTransition(to GoalStatus) bool {
	for _, next := range goalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskStatus is the state of a task.
//
//	pending → in_progress, blocked
//	in_progress → completed, failed, blocked
//	blocked → pending, in_progress
//
// completed and failed are terminal for normal flow.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

func (s TaskStatus) String() string { return string(s) }

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether s ends the normal task lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusBlocked},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked},
	TaskStatusBlocked:    {TaskStatusPending, TaskStatusInProgress},
	TaskStatusCompleted:  {},
	TaskStatusFailed:     {},
}

// CanTransition reports whether s → to is an allowed task transition.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, next := range taskTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
