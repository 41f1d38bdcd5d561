// Package limiter bounds the number of simultaneously running fetch tasks.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/async-scrapers/internal/metrics"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

// ErrInvalidBudget is returned when the concurrency budget is not positive.
var ErrInvalidBudget = errors.New("concurrency budget must be > 0")

// Worker processes one admitted task and returns its outcome.
type Worker func(ctx context.Context, task pipeline.FetchTask) pipeline.Outcome

// Run executes worker for every task with at most budget workers in flight.
// Tasks are admitted in order as capacity frees up. The returned slice is
// index-aligned with tasks and holds exactly one outcome per task.
//
// Once ctx is done no further task is admitted; those tasks get a canceled
// outcome wrapping pipeline.ErrNotAdmitted. Admitted workers receive a context
// that is not canceled with ctx, so in-flight work runs to completion.
func Run(ctx context.Context, tasks []pipeline.FetchTask, budget int, worker Worker) ([]pipeline.Outcome, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBudget, budget)
	}
	if worker == nil {
		return nil, errors.New("worker is required")
	}
	outcomes := make([]pipeline.Outcome, len(tasks))
	if len(tasks) == 0 {
		return outcomes, nil
	}

	sem := semaphore.NewWeighted(int64(budget))
	workCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := admit(ctx, sem); err != nil {
			outcomes[i] = notAdmitted(task, err)
			continue
		}
		wg.Add(1)
		go func(i int, task pipeline.FetchTask) {
			defer wg.Done()
			defer sem.Release(1)
			metrics.IncInFlight()
			defer metrics.DecInFlight()

			out := worker(workCtx, task)
			out.Task = task
			outcomes[i] = out
		}(i, task)
	}
	wg.Wait()
	return outcomes, nil
}

// admit blocks for a slot. Acquire may succeed on an already-done context, so
// cancellation is checked explicitly before and after waiting.
func admit(ctx context.Context, sem *semaphore.Weighted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

func notAdmitted(task pipeline.FetchTask, cause error) pipeline.Outcome {
	return pipeline.Failed(task, pipeline.FailureCanceled, 0, fmt.Errorf("%w: %w", pipeline.ErrNotAdmitted, cause))
}
