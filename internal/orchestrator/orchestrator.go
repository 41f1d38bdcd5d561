// Package orchestrator drives a Plan from its seed URL to the terminal level:
// each level is fetched under the concurrency budget, its pages are mined for
// the next level's tasks, and the terminal tasks are handed to a Handler.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/async-scrapers/internal/clock/system"
	"github.com/JakeFAU/async-scrapers/internal/extract"
	"github.com/JakeFAU/async-scrapers/internal/frontier"
	"github.com/JakeFAU/async-scrapers/internal/id/uuid"
	"github.com/JakeFAU/async-scrapers/internal/limiter"
	"github.com/JakeFAU/async-scrapers/internal/metrics"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/progress"
	"github.com/JakeFAU/async-scrapers/internal/retry"
)

// Deps carries the collaborators of an Orchestrator. Only Fetcher is
// required.
type Deps struct {
	Fetcher pipeline.Fetcher
	Emitter progress.Emitter
	Logger  *zap.Logger
	Clock   pipeline.Clock
	IDs     pipeline.IDGenerator
	// BaseDelay and MaxDelay shape the retry backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// ProgressInterval is the number of settled tasks between progress logs.
	ProgressInterval int
	// RetrySleep overrides the backoff wait (tests).
	RetrySleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs one Plan.
type Orchestrator struct {
	plan Plan
	deps Deps
}

// New validates plan and fills defaults for optional deps.
func New(plan Plan, deps Deps) (*Orchestrator, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.BaseDelay <= 0 {
		deps.BaseDelay = retry.DefaultBaseDelay
	}
	return &Orchestrator{plan: plan, deps: deps}, nil
}

// Run crawls from seed with at most budget tasks in flight and up to
// maxAttempts tries per task; a non-positive maxAttempts means
// retry.DefaultMaxAttempts. A malformed seed, a bad budget, a seed page that
// cannot be fetched, or a seed page without the expected structure end the
// run with an error. Every other task failure is counted in the
// aggregate. When ctx is canceled, no new task or retry is started, in-flight
// attempts finish, and the partial aggregate is returned with Canceled set
// and a nil error.
func (o *Orchestrator) Run(ctx context.Context, seed string, budget, maxAttempts int) (pipeline.RunAggregate, error) {
	start := o.deps.Clock.Now()
	agg := pipeline.RunAggregate{
		Plan:      o.plan.Name,
		Seed:      seed,
		StartedAt: start,
	}
	if _, err := pipeline.ValidateURL(seed); err != nil {
		return o.finish(agg), fmt.Errorf("seed: %w", err)
	}
	if budget <= 0 {
		return o.finish(agg), fmt.Errorf("%w: got %d", limiter.ErrInvalidBudget, budget)
	}
	runID, err := o.deps.IDs.NewRawID()
	if err != nil {
		return o.finish(agg), fmt.Errorf("run id: %w", err)
	}
	agg.RunID = runID.String()

	r := &run{
		o:      o,
		id:     progress.UUIDToBytes(runID),
		logger: o.deps.Logger.With(zap.String("run_id", agg.RunID), zap.String("plan", o.plan.Name)),
	}
	r.policy = r.newPolicy(ctx, maxAttempts)
	r.tracker = progress.NewTracker(progress.TrackerConfig{
		RunID:    r.id,
		Plan:     o.plan.Name,
		Interval: o.deps.ProgressInterval,
		Logger:   r.logger,
		Emitter:  o.deps.Emitter,
		Now:      o.deps.Clock.Now,
	})
	r.emit(progress.Event{Stage: progress.StageRunStart, URL: seed})
	r.logger.Info("run started",
		zap.String("seed", seed),
		zap.Int("budget", budget),
		zap.Int("max_attempts", r.policy.MaxAttempts()),
	)

	tasks, err := r.discoverSeed(ctx, seed, &agg)
	if err != nil && ctx.Err() != nil {
		agg.Canceled = true
		agg = o.finish(agg)
		r.emit(progress.Event{Stage: progress.StageRunDone, Dur: agg.Elapsed, Note: "canceled before seed completed"})
		r.logger.Warn("run canceled during seed fetch", zap.Error(err))
		return agg, nil
	}
	if err != nil {
		agg = o.finish(agg)
		r.emit(progress.Event{Stage: progress.StageRunError, URL: seed, Dur: agg.Elapsed, Note: err.Error()})
		r.logger.Error("run failed", zap.Error(err))
		return agg, err
	}

	for _, lvl := range o.plan.Levels[1:] {
		tasks, err = r.level(ctx, lvl, tasks, budget, &agg)
		if err != nil {
			return o.finish(agg), err
		}
	}
	if err := r.terminal(ctx, tasks, budget, &agg); err != nil {
		return o.finish(agg), err
	}

	agg.Canceled = ctx.Err() != nil
	agg = o.finish(agg)
	r.emit(progress.Event{Stage: progress.StageRunDone, Dur: agg.Elapsed, Completed: r.tracker.Completed()})
	r.logger.Info("run finished",
		zap.Int("succeeded", agg.Succeeded),
		zap.Int("failed", agg.Failed),
		zap.Int("records", agg.Records),
		zap.Int("files", agg.Files),
		zap.Int64("bytes", agg.Bytes),
		zap.Bool("canceled", agg.Canceled),
		zap.Duration("elapsed", agg.Elapsed),
	)
	return agg, nil
}

func (o *Orchestrator) finish(agg pipeline.RunAggregate) pipeline.RunAggregate {
	agg.FinishedAt = o.deps.Clock.Now()
	agg.Elapsed = agg.FinishedAt.Sub(agg.StartedAt)
	return agg
}

// run holds the state shared by the workers of one Run call.
type run struct {
	o       *Orchestrator
	id      [16]byte
	logger  *zap.Logger
	policy  *retry.Policy
	tracker *progress.Tracker
}

func (r *run) newPolicy(ctx context.Context, maxAttempts int) *retry.Policy {
	opts := []retry.Option{
		retry.WithStop(ctx),
		retry.WithMaxDelay(r.o.deps.MaxDelay),
		retry.WithRetryHook(func(attempt int, err error) {
			metrics.ObserveRetry()
			r.logger.Debug("retrying", zap.Int("attempt", attempt), zap.Error(err))
		}),
	}
	if r.o.deps.RetrySleep != nil {
		opts = append(opts, retry.WithSleep(r.o.deps.RetrySleep))
	}
	return retry.New(maxAttempts, r.o.deps.BaseDelay, opts...)
}

// discoverSeed fetches the seed page and applies the first level's discovery. Both
// failures are fatal.
func (r *run) discoverSeed(ctx context.Context, seed string, agg *pipeline.RunAggregate) ([]pipeline.FetchTask, error) {
	lvl := r.o.plan.Levels[0]
	task := pipeline.FetchTask{URL: seed}
	out := retry.Fetch(ctx, r.policy, r.o.deps.Fetcher, task)
	stat := pipeline.LevelStat{Name: lvl.Name, Tasks: 1}
	if !out.Succeeded() {
		stat.Failed = 1
		agg.Levels = append(agg.Levels, stat)
		agg.AddFailure(out.Kind)
		return nil, fmt.Errorf("fetch seed: %w", out.Err)
	}
	next, err := lvl.Discover(out.Page, task)
	if err != nil {
		stat.Failed = 1
		agg.Levels = append(agg.Levels, stat)
		agg.AddFailure(pipeline.FailureExtract)
		return nil, fmt.Errorf("seed %s: %w", seed, err)
	}
	stat.Succeeded = 1
	agg.Levels = append(agg.Levels, stat)
	if lvl.Dedupe {
		next = frontier.Dedupe(next)
	}
	r.logger.Info("seed discovered", zap.String("level", lvl.Name), zap.Int("tasks", len(next)))
	return next, nil
}

// level fetches tasks under the budget and returns the discovered tasks of
// the following level in task order.
func (r *run) level(
	ctx context.Context,
	lvl Level,
	tasks []pipeline.FetchTask,
	budget int,
	agg *pipeline.RunAggregate,
) ([]pipeline.FetchTask, error) {
	outcomes, err := limiter.Run(ctx, tasks, budget, func(ctx context.Context, task pipeline.FetchTask) pipeline.Outcome {
		if out, ok := r.skipped(lvl.Name, task); ok {
			return out
		}
		out := retry.Fetch(ctx, r.policy, r.o.deps.Fetcher, task)
		if out.Succeeded() {
			next, err := lvl.Discover(out.Page, task)
			if err != nil {
				out.Err = fmt.Errorf("discover on %s: %w", task.URL, err)
				out.Kind = pipeline.FailureExtract
			} else {
				out.Next = next
			}
		}
		out.Bytes = int64(out.Page.ContentLength())
		r.settle(lvl.Name, out)
		out.Page.Body = nil
		return out
	})
	if err != nil {
		return nil, fmt.Errorf("level %s: %w", lvl.Name, err)
	}

	stat := pipeline.LevelStat{Name: lvl.Name, Tasks: len(tasks)}
	var next []pipeline.FetchTask
	for _, out := range outcomes {
		if out.Succeeded() {
			stat.Succeeded++
			next = append(next, out.Next...)
			continue
		}
		stat.Failed++
		agg.AddFailure(out.Kind)
	}
	agg.Levels = append(agg.Levels, stat)
	if lvl.Dedupe {
		next = frontier.Dedupe(next)
	}
	r.levelDone(stat, len(next))
	return next, nil
}

func (r *run) terminal(ctx context.Context, tasks []pipeline.FetchTask, budget int, agg *pipeline.RunAggregate) error {
	name := r.o.plan.terminalName()
	outcomes, err := limiter.Run(ctx, tasks, budget, func(ctx context.Context, task pipeline.FetchTask) pipeline.Outcome {
		if out, ok := r.skipped(name, task); ok {
			return out
		}
		out := r.o.plan.Terminal.Handle(ctx, r.policy, task)
		r.settle(name, out)
		out.Page.Body = nil
		return out
	})
	if err != nil {
		return fmt.Errorf("level %s: %w", name, err)
	}

	stat := pipeline.LevelStat{Name: name, Tasks: len(tasks)}
	for _, out := range outcomes {
		if !out.Succeeded() {
			stat.Failed++
			agg.AddFailure(out.Kind)
			continue
		}
		stat.Succeeded++
		agg.Succeeded++
		agg.Records += out.Records
		agg.Files += out.Files
		agg.Bytes += out.Bytes
	}
	agg.Levels = append(agg.Levels, stat)
	r.levelDone(stat, 0)
	return nil
}

// skipped settles a task discovery marked as unfetchable.
func (r *run) skipped(level string, task pipeline.FetchTask) (pipeline.Outcome, bool) {
	if task.Skip == nil {
		return pipeline.Outcome{}, false
	}
	out := pipeline.Failed(task, pipeline.FailureExtract, 0, task.Skip)
	r.settle(level, out)
	return out, true
}

// settle records a finished task. It runs on worker goroutines.
func (r *run) settle(level string, out pipeline.Outcome) {
	r.tracker.Settle(level)
	evt := progress.Event{
		Level:       level,
		Site:        metrics.SanitizeSite(out.Task.URL),
		URL:         out.Task.URL,
		Bytes:       out.Bytes,
		Attempts:    out.Attempts,
		StatusClass: progress.ClassifyStatus(out.Page.StatusCode),
		Dur:         out.Duration,
	}
	if out.Succeeded() {
		metrics.ObserveOutcome(level, "success")
		evt.Stage = progress.StageTaskDone
		r.emit(evt)
		return
	}

	metrics.ObserveOutcome(level, string(out.Kind))
	evt.Stage = progress.StageTaskFailed
	evt.Kind = string(out.Kind)
	evt.Note = out.Err.Error()
	r.emit(evt)

	fields := []zap.Field{
		zap.String("level", level),
		zap.String("url", out.Task.URL),
		zap.String("kind", string(out.Kind)),
		zap.Int("attempts", out.Attempts),
		zap.Error(out.Err),
	}
	var missing *extract.MissingFieldError
	if errors.As(out.Err, &missing) {
		fields = append(fields, zap.String("field", missing.Field))
	}
	if out.Kind == pipeline.FailureCanceled {
		r.logger.Debug("task not run", fields...)
		return
	}
	r.logger.Warn("task failed", fields...)
}

func (r *run) levelDone(stat pipeline.LevelStat, next int) {
	r.emit(progress.Event{
		Stage:     progress.StageLevelDone,
		Level:     stat.Name,
		Completed: int64(stat.Succeeded + stat.Failed),
		Note:      fmt.Sprintf("succeeded=%d failed=%d next=%d", stat.Succeeded, stat.Failed, next),
	})
	r.logger.Info("level done",
		zap.String("level", stat.Name),
		zap.Int("tasks", stat.Tasks),
		zap.Int("succeeded", stat.Succeeded),
		zap.Int("failed", stat.Failed),
		zap.Int("next", next),
	)
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.id
	evt.TS = r.o.deps.Clock.Now().UTC()
	evt.Plan = r.o.plan.Name
	r.o.deps.Emitter.Emit(evt)
}
