package orchardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Orchard HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Goal represents the API goal model.
type Goal struct {
	ID          int64          `json:"id"`
	Description string         `json:"description"`
	Priority    string         `json:"priority"`
	Status      string         `json:"status"`
	Repos       []string       `json:"repos,omitempty"`
	TaskIDs     []int64        `json:"task_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// Task represents the API task model.
type Task struct {
	ID              int64          `json:"id"`
	GoalID          int64          `json:"goal_id"`
	Description     string         `json:"description"`
	Type            string         `json:"type,omitempty"`
	Priority        string         `json:"priority"`
	Status          string         `json:"status"`
	Dependencies    []int64        `json:"dependencies,omitempty"`
	Repo            string         `json:"repo,omitempty"`
	EstimatedEffort string         `json:"estimated_effort,omitempty"`
	AssignedTools   []string       `json:"assigned_tools,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	CompletedAt     string         `json:"completed_at,omitempty"`
}

// Plan is a phase-ordered execution plan.
type Plan struct {
	GoalID      int64     `json:"goal_id"`
	Phases      [][]int64 `json:"phases"`
	TotalPhases int       `json:"total_phases"`
	Cycle       []int64   `json:"cycle,omitempty"`
}

// BatchResult reports a batch outcome.
type BatchResult struct {
	Succeeded []Task `json:"succeeded"`
	Failed    []struct {
		ID      int64  `json:"id"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"failed,omitempty"`
	Total int `json:"total"`
}

// Snapshot is a full state export.
type Snapshot struct {
	ID      string `json:"id"`
	TakenAt string `json:"taken_at"`
	Goals   []Goal `json:"goals"`
	Tasks   []Task `json:"tasks"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateGoal creates a goal.
func (c *Client) CreateGoal(ctx context.Context, description, priority string) (Goal, error) {
	body := map[string]any{
		"description": description,
		"priority":    priority,
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals", body, &resp)
	return resp, err
}

// GetGoal fetches a goal by id.
func (c *Client) GetGoal(ctx context.Context, id int64) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/goals/%d", id), nil, &resp)
	return resp, err
}

// CreateTask creates a task under a goal.
func (c *Client) CreateTask(ctx context.Context, goalID int64, description string, deps []int64) (Task, error) {
	body := map[string]any{
		"goal_id":      goalID,
		"description":  description,
		"dependencies": deps,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to a new status.
func (c *Client) UpdateTaskStatus(ctx context.Context, id int64, status string, result map[string]any) (Task, error) {
	body := map[string]any{
		"status": status,
		"result": result,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%d/status", id), body, &resp)
	return resp, err
}

// ReadyTasks returns the tasks eligible to run now. goalID 0 means all goals.
func (c *Client) ReadyTasks(ctx context.Context, goalID int64) ([]Task, error) {
	endpoint := "v0/tasks/ready"
	if goalID != 0 {
		endpoint = fmt.Sprintf("%s?goal_id=%d", endpoint, goalID)
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Tasks, err
}

// ExecutionPlan returns the phase-ordered plan for a goal.
func (c *Client) ExecutionPlan(ctx context.Context, goalID int64) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/goals/%d/plan", goalID), nil, &resp)
	return resp, err
}

// BatchUpdate applies several status changes at once.
func (c *Client) BatchUpdate(ctx context.Context, items []map[string]any) (BatchResult, error) {
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, "v0/tasks/batch/status", map[string]any{"items": items}, &resp)
	return resp, err
}

// SnapshotState exports all goals and tasks.
func (c *Client) SnapshotState(ctx context.Context) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodGet, "v0/snapshot", nil, &resp)
	return resp, err
}

// RestoreState replaces all state with the snapshot.
func (c *Client) RestoreState(ctx context.Context, snap Snapshot) error {
	return c.do(ctx, http.MethodPost, "v0/restore", snap, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
