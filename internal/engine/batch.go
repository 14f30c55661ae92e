package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"orchard/internal/domain"
	"orchard/internal/errs"
)

// BatchUpdateItem is one status change inside a batch.
type BatchUpdateItem struct {
	ID     int64
	Status domain.TaskStatus
	Result map[string]any
}

// BatchItemError pairs a failed item with its taxonomy error.
type BatchItemError struct {
	ID      int64     `json:"id"`
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`

	Err error `json:"-"`
}

// BatchResult reports a batch outcome. One item failing never aborts the
// rest; Succeeded and Failed together account for every input.
type BatchResult struct {
	Succeeded []domain.Task    `json:"succeeded"`
	Failed    []BatchItemError `json:"failed,omitempty"`
	Total     int              `json:"total"`
}

func itemError(id int64, err error) BatchItemError {
	ie := BatchItemError{ID: id, Err: err, Message: err.Error()}
	if e, ok := errs.AsError(err); ok {
		ie.Kind = e.Kind
		ie.Message = e.Message
	}
	return ie
}

// runBatch fans n items over the configured worker limit under the batch
// deadline and collects per-item outcomes in input order. Each worker's
// failure lands in its own slot, never in a shared error.
func (e *Engine) runBatch(ctx context.Context, n int, idAt func(int) int64, do func(ctx context.Context, i int) (domain.Task, error)) BatchResult {
	bctx, cancel := context.WithTimeout(ctx, e.Config.Batch.Timeout)
	defer cancel()

	tasks := make([]domain.Task, n)
	failures := make([]error, n)

	g := new(errgroup.Group)
	g.SetLimit(e.Config.Batch.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := bctx.Err(); err != nil {
				failures[i] = errs.Timeoutf(err, "batch deadline exceeded before item ran")
				return nil
			}
			tasks[i], failures[i] = do(bctx, i)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Total: n}
	for i := 0; i < n; i++ {
		if failures[i] != nil {
			res.Failed = append(res.Failed, itemError(idAt(i), failures[i]))
			continue
		}
		res.Succeeded = append(res.Succeeded, tasks[i])
	}
	return res
}

// BatchUpdateTasks applies a set of status changes concurrently. Each item
// runs as its own serialized mutation; failures are isolated per item and
// reported alongside the successes.
func (e *Engine) BatchUpdateTasks(ctx context.Context, items []BatchUpdateItem) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{}, errs.Validationf("batch must not be empty")
	}
	idAt := func(i int) int64 { return items[i].ID }
	res := e.runBatch(ctx, len(items), idAt, func(ctx context.Context, i int) (domain.Task, error) {
		return e.UpdateTaskStatus(ctx, items[i].ID, items[i].Status, items[i].Result)
	})
	e.Log.Info().Int("total", res.Total).Int("failed", len(res.Failed)).Msg("batch update finished")
	return res, nil
}

// BatchGetTasks fetches tasks concurrently with the same isolation rules as
// batch updates.
func (e *Engine) BatchGetTasks(ctx context.Context, ids []int64) (BatchResult, error) {
	if len(ids) == 0 {
		return BatchResult{}, errs.Validationf("batch must not be empty")
	}
	idAt := func(i int) int64 { return ids[i] }
	res := e.runBatch(ctx, len(ids), idAt, func(ctx context.Context, i int) (domain.Task, error) {
		return e.GetTask(ctx, ids[i])
	})
	return res, nil
}
