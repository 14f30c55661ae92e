// Package domain holds the entity model for the orchestration engine:
// Goals, the Tasks they own, and the closed priority/status enumerations.
package domain

import (
	"encoding/json"
	"time"
)

// Priority orders goals and tasks for readiness queries and plan phases.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the sort rank of the priority, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

func (p Priority) String() string { return string(p) }

// Metadata is an open map of caller-supplied annotations. The engine never
// interprets its contents; it only enforces size and depth bounds.
type Metadata map[string]any

const (
	// MetadataMaxBytes bounds the serialized size of a metadata map.
	MetadataMaxBytes = 64 * 1024
	// MetadataMaxDepth bounds nesting of maps/slices inside metadata.
	MetadataMaxDepth = 8
)

// Validate checks the size/depth bounds without interpreting values.
func (m Metadata) Validate() error {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if len(b) > MetadataMaxBytes {
		return errMetadataTooLarge
	}
	for _, v := range m {
		if depthOf(v, 1) > MetadataMaxDepth {
			return errMetadataTooDeep
		}
	}
	return nil
}

func depthOf(v any, d int) int {
	deepest := d
	switch t := v.(type) {
	case map[string]any:
		for _, inner := range t {
			if n := depthOf(inner, d+1); n > deepest {
				deepest = n
			}
		}
	case []any:
		for _, inner := range t {
			if n := depthOf(inner, d+1); n > deepest {
				deepest = n
			}
		}
	}
	return deepest
}

// Goal is a high-level objective decomposed into tasks. IDs are assigned
// sequentially by the store and never change.
type Goal struct {
	ID          int64      `json:"id"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority" enum:"high,medium,low"`
	Status      GoalStatus `json:"status" enum:"planned,in_progress,completed,cancelled"`
	Repos       []string   `json:"repos,omitempty"`
	TaskIDs     []int64    `json:"task_ids,omitempty"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Task is an atomic unit of work owned by exactly one goal. A task may
// depend on other tasks; all dependencies must be completed before the task
// becomes ready to run.
type Task struct {
	ID              int64          `json:"id"`
	GoalID          int64          `json:"goal_id"`
	Description     string         `json:"description"`
	Type            string         `json:"type,omitempty"`
	Priority        Priority       `json:"priority" enum:"high,medium,low"`
	Status          TaskStatus     `json:"status" enum:"pending,in_progress,completed,failed,blocked"`
	Dependencies    []int64        `json:"dependencies,omitempty"`
	Repo            string         `json:"repo,omitempty"`
	EstimatedEffort string         `json:"estimated_effort,omitempty"`
	AssignedTools   []string       `json:"assigned_tools,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}
