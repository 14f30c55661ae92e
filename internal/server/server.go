// Package server exposes the orchestration engine over HTTP. Every error
// crossing this boundary carries the taxonomy kind and its structured
// detail, mapped onto a stable status code.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"orchard/internal/domain"
	"orchard/internal/engine"
	"orchard/internal/errs"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cyclic_dependency"`
	Message string         `json:"message" example:"dependency cycle detected: [1 2 1]"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope for every failure response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the orchestration API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errors ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Orchard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerGoals(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerPlanning(group, cfg.Engine)
	registerBatch(group, cfg.Engine)
	registerSnapshots(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	return router
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(errs.KindValidation)
	case http.StatusNotFound:
		return string(errs.KindNotFound)
	case http.StatusConflict:
		return "conflict"
	case http.StatusGatewayTimeout:
		return string(errs.KindTimeout)
	case http.StatusInternalServerError:
		return string(errs.KindPersistence)
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// handleError maps a taxonomy error onto the envelope, carrying its
// structured detail through.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	te, ok := errs.AsError(err)
	if !ok {
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}

	details := map[string]any{}
	if te.EntityKind != "" {
		details["entity_kind"] = te.EntityKind
	}
	if te.EntityID != 0 {
		details["entity_id"] = te.EntityID
	}
	if te.From != "" || te.To != "" {
		details["from"] = te.From
		details["to"] = te.To
	}
	if len(te.Cycle) > 0 {
		details["cycle"] = te.Cycle
	}
	if len(te.Dependents) > 0 {
		details["dependents"] = te.Dependents
	}
	if len(details) == 0 {
		details = nil
	}

	status := http.StatusInternalServerError
	switch te.Kind {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindStateTransition, errs.KindCyclicDependency, errs.KindDependentTaskExists:
		status = http.StatusConflict
	case errs.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	return newAPIError(status, string(te.Kind), te.Message, details)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		} `json:"body"`
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			} `json:"body"`
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerGoals(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		g, err := e.CreateGoal(ctx, engine.CreateGoalOptions{
			Description: input.Body.Description,
			Priority:    domain.Priority(input.Body.Priority),
			Repos:       input.Body.Repos,
			Metadata:    input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Priority string `query:"priority"`
	}) (*struct {
		Body struct {
			Goals []GoalResponse `json:"goals"`
		} `json:"body"`
	}, error) {
		goals, err := e.ListGoals(ctx, engine.GoalFilter{
			Status:   domain.GoalStatus(input.Status),
			Priority: domain.Priority(input.Priority),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Goals []GoalResponse `json:"goals"`
			} `json:"body"`
		}{}
		resp.Body.Goals = make([]GoalResponse, 0, len(goals))
		for _, g := range goals {
			resp.Body.Goals = append(resp.Body.Goals, goalResponse(g))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{id}",
		Summary:     "Get goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		g, err := e.GetGoal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-goal",
		Method:      http.MethodPatch,
		Path:        "/goals/{id}",
		Summary:     "Update goal",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body UpdateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		patch := engine.GoalPatch{
			Description: input.Body.Description,
			Repos:       input.Body.Repos,
			Metadata:    input.Body.Metadata,
		}
		if input.Body.Priority != nil {
			p := domain.Priority(*input.Body.Priority)
			patch.Priority = &p
		}
		if input.Body.Status != nil {
			s := domain.GoalStatus(*input.Body.Status)
			patch.Status = &s
		}
		g, err := e.UpdateGoal(ctx, input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-goal",
		Method:      http.MethodDelete,
		Path:        "/goals/{id}",
		Summary:     "Delete goal and its tasks",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		Cascade bool  `query:"cascade"`
	}) (*struct {
		Body DeletedGoalResponse `json:"body"`
	}, error) {
		res, err := e.DeleteGoal(ctx, input.ID, input.Cascade)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedGoalResponse `json:"body"`
		}{Body: DeletedGoalResponse{GoalID: res.GoalID, TaskIDs: res.TaskIDs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "break-down-goal",
		Method:        http.MethodPost,
		Path:          "/goals/{id}/breakdown",
		Summary:       "Break a goal down into tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body BreakDownGoalRequest `json:"body"`
	}) (*struct {
		Body BreakDownGoalResponse `json:"body"`
	}, error) {
		specs := make([]engine.TaskSpec, 0, len(input.Body.Tasks))
		for _, s := range input.Body.Tasks {
			specs = append(specs, engine.TaskSpec{
				Description:     s.Description,
				Type:            s.Type,
				Priority:        domain.Priority(s.Priority),
				DependsOn:       s.DependsOn,
				DependsOnPrev:   s.DependsOnPrev,
				Repo:            s.Repo,
				EstimatedEffort: s.EstimatedEffort,
				AssignedTools:   s.AssignedTools,
			})
		}
		g, tasks, err := e.BreakDownGoal(ctx, input.ID, specs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BreakDownGoalResponse `json:"body"`
		}{Body: BreakDownGoalResponse{Goal: goalResponse(g), Tasks: taskResponses(tasks)}}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.CreateTaskOptions{
			GoalID:          input.Body.GoalID,
			Description:     input.Body.Description,
			Type:            input.Body.Type,
			Priority:        domain.Priority(input.Body.Priority),
			Dependencies:    input.Body.Dependencies,
			Repo:            input.Body.Repo,
			EstimatedEffort: input.Body.EstimatedEffort,
			AssignedTools:   input.Body.AssignedTools,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		GoalID   int64  `query:"goal_id"`
		Status   string `query:"status"`
		Priority string `query:"priority"`
	}) (*struct {
		Body struct {
			Tasks []TaskResponse `json:"tasks"`
		} `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx, engine.TaskFilter{
			GoalID:   input.GoalID,
			Status:   domain.TaskStatus(input.Status),
			Priority: domain.Priority(input.Priority),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Tasks []TaskResponse `json:"tasks"`
			} `json:"body"`
		}{}
		resp.Body.Tasks = taskResponses(tasks)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/status",
		Summary:     "Update task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   int64                   `path:"id"`
		Body UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTaskStatus(ctx, input.ID, domain.TaskStatus(input.Body.Status), input.Body.Result)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		Cascade bool  `query:"cascade"`
	}) (*struct {
		Body DeletedTaskResponse `json:"body"`
	}, error) {
		res, err := e.DeleteTask(ctx, input.ID, input.Cascade)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedTaskResponse `json:"body"`
		}{Body: DeletedTaskResponse{TaskID: res.TaskID, Dependents: res.Dependents}}, nil
	})
}

func registerPlanning(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "next-ready-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/ready",
		Summary:     "List tasks ready to run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID int64 `query:"goal_id"`
	}) (*struct {
		Body struct {
			Tasks []TaskResponse `json:"tasks"`
		} `json:"body"`
	}, error) {
		tasks, err := e.NextReadyTasks(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Tasks []TaskResponse `json:"tasks"`
			} `json:"body"`
		}{}
		resp.Body.Tasks = taskResponses(tasks)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execution-plan",
		Method:      http.MethodGet,
		Path:        "/goals/{id}/plan",
		Summary:     "Generate execution plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		plan, err := e.GenerateExecutionPlan(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: PlanResponse{
			GoalID:      plan.GoalID,
			Phases:      plan.Phases,
			TotalPhases: plan.TotalPhases,
			Cycle:       plan.Cycle,
		}}, nil
	})
}

func registerBatch(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "batch-update-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/batch/status",
		Summary:     "Batch update task statuses",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BatchUpdateRequest `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		items := make([]engine.BatchUpdateItem, 0, len(input.Body.Items))
		for _, it := range input.Body.Items {
			items = append(items, engine.BatchUpdateItem{
				ID:     it.ID,
				Status: domain.TaskStatus(it.Status),
				Result: it.Result,
			})
		}
		res, err := e.BatchUpdateTasks(ctx, items)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-get-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/batch/get",
		Summary:     "Batch fetch tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BatchGetRequest `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		res, err := e.BatchGetTasks(ctx, input.Body.IDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: batchResponse(res)}, nil
	})
}

func registerSnapshots(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "snapshot-state",
		Method:      http.MethodGet,
		Path:        "/snapshot",
		Summary:     "Snapshot all goals and tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		snap, err := e.SnapshotState(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := SnapshotResponse{ID: snap.ID, TakenAt: formatTS(snap.TakenAt)}
		for _, g := range snap.Goals {
			resp.Goals = append(resp.Goals, goalResponse(g))
		}
		resp.Tasks = taskResponses(snap.Tasks)
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-state",
		Method:      http.MethodPost,
		Path:        "/restore",
		Summary:     "Restore state from a snapshot",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body RestoreRequest `json:"body"`
	}) (*struct {
		Body RestoreResponse `json:"body"`
	}, error) {
		snap := engine.Snapshot{ID: input.Body.ID, TakenAt: parseTS(input.Body.TakenAt)}
		for _, g := range input.Body.Goals {
			snap.Goals = append(snap.Goals, goalFromRequest(g))
		}
		for _, t := range input.Body.Tasks {
			snap.Tasks = append(snap.Tasks, taskFromRequest(t))
		}
		counts, err := e.RestoreState(ctx, snap)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RestoreResponse `json:"body"`
		}{Body: RestoreResponse{Goals: counts.Goals, Tasks: counts.Tasks}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body struct {
			Events []EventResponse `json:"events"`
		} `json:"body"`
	}, error) {
		evts, err := e.Events.Latest(ctx, input.Limit)
		if err != nil {
			return nil, handleError(errs.Persistencef(err, "list events"))
		}
		resp := &struct {
			Body struct {
				Events []EventResponse `json:"events"`
			} `json:"body"`
		}{}
		resp.Body.Events = make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			resp.Body.Events = append(resp.Body.Events, EventResponse{
				ID:         evt.ID,
				TS:         evt.TS,
				Type:       evt.Type,
				EntityKind: evt.EntityKind,
				EntityID:   evt.EntityID,
				Payload:    evt.Payload,
			})
		}
		return resp, nil
	})
}
