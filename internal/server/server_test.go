package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"orchard/internal/config"
	"orchard/internal/db"
	"orchard/internal/engine"
	"orchard/internal/migrate"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil, zerolog.Nop())
	e.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(New(Config{Engine: e, BasePath: "/v0"}))
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s: %v\n%s", method, path, err, data)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	var body struct {
		Status string `json:"status"`
	}
	if code := doJSON(t, srv, http.MethodGet, "/v0/health", nil, &body); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if body.Status != "ok" {
		t.Fatalf("health body = %+v", body)
	}
}

func TestGoalTaskLifecycle(t *testing.T) {
	srv := newTestServer(t)

	var goal GoalResponse
	code := doJSON(t, srv, http.MethodPost, "/v0/goals", CreateGoalRequest{
		Description: "ship release",
		Priority:    "high",
	}, &goal)
	if code != http.StatusCreated {
		t.Fatalf("create goal status = %d", code)
	}
	if goal.Status != "planned" || goal.Priority != "high" {
		t.Fatalf("goal = %+v", goal)
	}

	var task TaskResponse
	code = doJSON(t, srv, http.MethodPost, "/v0/tasks", CreateTaskRequest{
		GoalID:      goal.ID,
		Description: "build artifact",
	}, &task)
	if code != http.StatusCreated {
		t.Fatalf("create task status = %d", code)
	}

	var dependent TaskResponse
	code = doJSON(t, srv, http.MethodPost, "/v0/tasks", CreateTaskRequest{
		GoalID:       goal.ID,
		Description:  "publish artifact",
		Dependencies: []int64{task.ID},
	}, &dependent)
	if code != http.StatusCreated {
		t.Fatalf("create dependent status = %d", code)
	}

	var ready struct {
		Tasks []TaskResponse `json:"tasks"`
	}
	doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v0/tasks/ready?goal_id=%d", goal.ID), nil, &ready)
	if len(ready.Tasks) != 1 || ready.Tasks[0].ID != task.ID {
		t.Fatalf("ready = %+v", ready.Tasks)
	}

	var updated TaskResponse
	code = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v0/tasks/%d/status", task.ID), UpdateTaskStatusRequest{Status: "in_progress"}, &updated)
	if code != http.StatusOK || updated.Status != "in_progress" {
		t.Fatalf("status update = %d %+v", code, updated)
	}

	var plan PlanResponse
	doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v0/goals/%d/plan", goal.ID), nil, &plan)
	if plan.TotalPhases != 2 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)

	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}

	code := doJSON(t, srv, http.MethodGet, "/v0/goals/999", nil, &envelope)
	if code != http.StatusNotFound {
		t.Fatalf("missing goal status = %d", code)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
	if envelope.Error.Details["entity_kind"] != "goal" {
		t.Fatalf("details = %v", envelope.Error.Details)
	}

	code = doJSON(t, srv, http.MethodPost, "/v0/goals", CreateGoalRequest{Description: ""}, &envelope)
	if code != http.StatusBadRequest {
		t.Fatalf("empty description status = %d", code)
	}

	// Illegal transition carries from/to detail and a conflict status.
	var goal GoalResponse
	doJSON(t, srv, http.MethodPost, "/v0/goals", CreateGoalRequest{Description: "g"}, &goal)
	var task TaskResponse
	doJSON(t, srv, http.MethodPost, "/v0/tasks", CreateTaskRequest{GoalID: goal.ID, Description: "t"}, &task)
	code = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v0/tasks/%d/status", task.ID), UpdateTaskStatusRequest{Status: "completed"}, &envelope)
	if code != http.StatusConflict {
		t.Fatalf("illegal transition status = %d", code)
	}
	if envelope.Error.Code != "state_transition_error" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
	if envelope.Error.Details["from"] != "pending" || envelope.Error.Details["to"] != "completed" {
		t.Fatalf("details = %v", envelope.Error.Details)
	}
}

func TestBatchEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var goal GoalResponse
	doJSON(t, srv, http.MethodPost, "/v0/goals", CreateGoalRequest{Description: "g"}, &goal)
	var task TaskResponse
	doJSON(t, srv, http.MethodPost, "/v0/tasks", CreateTaskRequest{GoalID: goal.ID, Description: "t"}, &task)

	var res BatchResponse
	code := doJSON(t, srv, http.MethodPost, "/v0/tasks/batch/status", BatchUpdateRequest{
		Items: []BatchUpdateItemRequest{
			{ID: task.ID, Status: "in_progress"},
			{ID: 999, Status: "in_progress"},
		},
	}, &res)
	if code != http.StatusOK {
		t.Fatalf("batch status = %d", code)
	}
	if res.Total != 2 || len(res.Succeeded) != 1 || len(res.Failed) != 1 {
		t.Fatalf("batch = %+v", res)
	}
	if res.Failed[0].Kind != "not_found" {
		t.Fatalf("failed kind = %q", res.Failed[0].Kind)
	}
}

func TestSnapshotRestoreEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var goal GoalResponse
	doJSON(t, srv, http.MethodPost, "/v0/goals", CreateGoalRequest{Description: "g"}, &goal)

	var snap SnapshotResponse
	if code := doJSON(t, srv, http.MethodGet, "/v0/snapshot", nil, &snap); code != http.StatusOK {
		t.Fatalf("snapshot status = %d", code)
	}
	if len(snap.Goals) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	doJSON(t, srv, http.MethodPost, "/v0/goals", CreateGoalRequest{Description: "extra"}, nil)

	var restored RestoreResponse
	code := doJSON(t, srv, http.MethodPost, "/v0/restore", RestoreRequest{
		ID:      snap.ID,
		TakenAt: snap.TakenAt,
		Goals:   snap.Goals,
		Tasks:   snap.Tasks,
	}, &restored)
	if code != http.StatusOK || restored.Goals != 1 {
		t.Fatalf("restore = %d %+v", code, restored)
	}

	var goals struct {
		Goals []GoalResponse `json:"goals"`
	}
	doJSON(t, srv, http.MethodGet, "/v0/goals", nil, &goals)
	if len(goals.Goals) != 1 || goals.Goals[0].ID != goal.ID {
		t.Fatalf("goals after restore = %+v", goals.Goals)
	}
}
