package server

import (
	"time"

	"orchard/internal/domain"
	"orchard/internal/engine"
)

// Request payloads

type CreateGoalRequest struct {
	Description string          `json:"description"`
	Priority    string          `json:"priority,omitempty" enum:"high,medium,low"`
	Repos       []string        `json:"repos,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
}

type UpdateGoalRequest struct {
	Description *string         `json:"description,omitempty"`
	Priority    *string         `json:"priority,omitempty" enum:"high,medium,low"`
	Status      *string         `json:"status,omitempty" enum:"planned,in_progress,completed,cancelled"`
	Repos       *[]string       `json:"repos,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
}

type TaskSpecRequest struct {
	Description     string   `json:"description"`
	Type            string   `json:"type,omitempty"`
	Priority        string   `json:"priority,omitempty" enum:"high,medium,low"`
	DependsOn       []int64  `json:"depends_on,omitempty"`
	DependsOnPrev   []int    `json:"depends_on_prev,omitempty"`
	Repo            string   `json:"repo,omitempty"`
	EstimatedEffort string   `json:"estimated_effort,omitempty"`
	AssignedTools   []string `json:"assigned_tools,omitempty"`
}

type BreakDownGoalRequest struct {
	Tasks []TaskSpecRequest `json:"tasks"`
}

type CreateTaskRequest struct {
	GoalID          int64    `json:"goal_id"`
	Description     string   `json:"description"`
	Type            string   `json:"type,omitempty"`
	Priority        string   `json:"priority,omitempty" enum:"high,medium,low"`
	Dependencies    []int64  `json:"dependencies,omitempty"`
	Repo            string   `json:"repo,omitempty"`
	EstimatedEffort string   `json:"estimated_effort,omitempty"`
	AssignedTools   []string `json:"assigned_tools,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status string         `json:"status" enum:"pending,in_progress,completed,failed,blocked"`
	Result map[string]any `json:"result,omitempty"`
}

type BatchUpdateRequest struct {
	Items []BatchUpdateItemRequest `json:"items"`
}

type BatchUpdateItemRequest struct {
	ID     int64          `json:"id"`
	Status string         `json:"status" enum:"pending,in_progress,completed,failed,blocked"`
	Result map[string]any `json:"result,omitempty"`
}

type BatchGetRequest struct {
	IDs []int64 `json:"ids"`
}

// Response payloads

type GoalResponse struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Priority    string          `json:"priority" enum:"high,medium,low"`
	Status      string          `json:"status" enum:"planned,in_progress,completed,cancelled"`
	Repos       []string        `json:"repos,omitempty"`
	TaskIDs     []int64         `json:"task_ids,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID              int64          `json:"id"`
	GoalID          int64          `json:"goal_id"`
	Description     string         `json:"description"`
	Type            string         `json:"type,omitempty"`
	Priority        string         `json:"priority" enum:"high,medium,low"`
	Status          string         `json:"status" enum:"pending,in_progress,completed,failed,blocked"`
	Dependencies    []int64        `json:"dependencies,omitempty"`
	Repo            string         `json:"repo,omitempty"`
	EstimatedEffort string         `json:"estimated_effort,omitempty"`
	AssignedTools   []string       `json:"assigned_tools,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
	CompletedAt     *string        `json:"completed_at,omitempty" format:"date-time"`
}

type BreakDownGoalResponse struct {
	Goal  GoalResponse   `json:"goal"`
	Tasks []TaskResponse `json:"tasks"`
}

type PlanResponse struct {
	GoalID      int64     `json:"goal_id"`
	Phases      [][]int64 `json:"phases"`
	TotalPhases int       `json:"total_phases"`
	Cycle       []int64   `json:"cycle,omitempty"`
}

type BatchItemErrorResponse struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type BatchResponse struct {
	Succeeded []TaskResponse           `json:"succeeded"`
	Failed    []BatchItemErrorResponse `json:"failed,omitempty"`
	Total     int                      `json:"total"`
}

type DeletedGoalResponse struct {
	GoalID  int64   `json:"goal_id"`
	TaskIDs []int64 `json:"task_ids,omitempty"`
}

type DeletedTaskResponse struct {
	TaskID     int64   `json:"task_id"`
	Dependents []int64 `json:"dependents,omitempty"`
}

type SnapshotResponse struct {
	ID      string         `json:"id"`
	TakenAt string         `json:"taken_at" format:"date-time"`
	Goals   []GoalResponse `json:"goals"`
	Tasks   []TaskResponse `json:"tasks"`
}

type RestoreRequest struct {
	ID      string         `json:"id,omitempty"`
	TakenAt string         `json:"taken_at,omitempty" format:"date-time"`
	Goals   []GoalResponse `json:"goals"`
	Tasks   []TaskResponse `json:"tasks"`
}

type RestoreResponse struct {
	Goals int `json:"goals"`
	Tasks int `json:"tasks"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   int64          `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Converters

func formatTS(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func goalResponse(g domain.Goal) GoalResponse {
	return GoalResponse{
		ID:          g.ID,
		Description: g.Description,
		Priority:    g.Priority.String(),
		Status:      g.Status.String(),
		Repos:       g.Repos,
		TaskIDs:     g.TaskIDs,
		Metadata:    g.Metadata,
		CreatedAt:   formatTS(g.CreatedAt),
		UpdatedAt:   formatTS(g.UpdatedAt),
	}
}

func goalFromRequest(r GoalResponse) domain.Goal {
	return domain.Goal{
		ID:          r.ID,
		Description: r.Description,
		Priority:    domain.Priority(r.Priority),
		Status:      domain.GoalStatus(r.Status),
		Repos:       r.Repos,
		TaskIDs:     r.TaskIDs,
		Metadata:    r.Metadata,
		CreatedAt:   parseTS(r.CreatedAt),
		UpdatedAt:   parseTS(r.UpdatedAt),
	}
}

func taskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:              t.ID,
		GoalID:          t.GoalID,
		Description:     t.Description,
		Type:            t.Type,
		Priority:        t.Priority.String(),
		Status:          t.Status.String(),
		Dependencies:    t.Dependencies,
		Repo:            t.Repo,
		EstimatedEffort: t.EstimatedEffort,
		AssignedTools:   t.AssignedTools,
		Result:          t.Result,
		CreatedAt:       formatTS(t.CreatedAt),
		UpdatedAt:       formatTS(t.UpdatedAt),
	}
	if t.CompletedAt != nil {
		s := formatTS(*t.CompletedAt)
		resp.CompletedAt = &s
	}
	return resp
}

func taskFromRequest(r TaskResponse) domain.Task {
	t := domain.Task{
		ID:              r.ID,
		GoalID:          r.GoalID,
		Description:     r.Description,
		Type:            r.Type,
		Priority:        domain.Priority(r.Priority),
		Status:          domain.TaskStatus(r.Status),
		Dependencies:    r.Dependencies,
		Repo:            r.Repo,
		EstimatedEffort: r.EstimatedEffort,
		AssignedTools:   r.AssignedTools,
		Result:          r.Result,
		CreatedAt:       parseTS(r.CreatedAt),
		UpdatedAt:       parseTS(r.UpdatedAt),
	}
	if r.CompletedAt != nil {
		ct := parseTS(*r.CompletedAt)
		t.CompletedAt = &ct
	}
	return t
}

func taskResponses(tasks []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskResponse(t))
	}
	return res
}

func batchResponse(b engine.BatchResult) BatchResponse {
	resp := BatchResponse{Succeeded: taskResponses(b.Succeeded), Total: b.Total}
	for _, f := range b.Failed {
		resp.Failed = append(resp.Failed, BatchItemErrorResponse{ID: f.ID, Kind: string(f.Kind), Message: f.Message})
	}
	return resp
}
