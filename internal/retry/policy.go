// Package retry wraps fetches with exponential backoff and an attempt ceiling.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

const (
	// DefaultMaxAttempts is the total number of tries per task.
	DefaultMaxAttempts = 5
	// DefaultBaseDelay is the wait after the first failed attempt.
	DefaultBaseDelay = 500 * time.Millisecond
)

// Policy retries transient failures with exponential backoff.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	onRetry     func(attempt int, err error)
	stop        context.Context
}

// Option customizes a Policy.
type Option func(*Policy)

// WithMaxDelay caps the backoff; zero leaves it uncapped.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		p.maxDelay = d
	}
}

// WithSleep replaces the context-aware sleep (tests use a no-op).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// WithRetryHook is invoked before every retry with the failed attempt index.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(p *Policy) {
		p.onRetry = fn
	}
}

// WithStop ends retrying once stop is done. The attempt in flight is not
// interrupted; only further attempts and backoff waits are skipped. Workers
// running on a context detached from cancellation use this to finish their
// current request without starting new ones.
func WithStop(stop context.Context) Option {
	return func(p *Policy) {
		p.stop = stop
	}
}

// New builds a policy allowing maxAttempts total tries. Non-positive values
// fall back to DefaultMaxAttempts and DefaultBaseDelay.
func New(maxAttempts int, baseDelay time.Duration, opts ...Option) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultBaseDelay
	}
	p := &Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepWithContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the attempt ceiling.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether attempt (1-based count of tries so far) may be
// followed by another one.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait after the attempt with the given 0-based index:
// baseDelay * 2^index, capped by maxDelay when set.
func (p *Policy) Backoff(index int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(index))
	if p.maxDelay > 0 && delay > float64(p.maxDelay) {
		return p.maxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, fails permanently, the attempt ceiling is
// reached, or ctx ends. It returns the number of attempts made and the last
// error. Attempts never overlap.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	sleepCtx := ctx
	if p.stop != nil {
		var cancel context.CancelFunc
		sleepCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		release := context.AfterFunc(p.stop, cancel)
		defer release()
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}
		if attempt > 1 && p.stopped() {
			return attempt - 1, lastErr
		}
		lastErr = fn(ctx)
		if !p.ShouldRetry(lastErr, attempt) {
			return attempt, lastErr
		}
		if p.onRetry != nil {
			p.onRetry(attempt, lastErr)
		}
		if err := p.sleep(sleepCtx, p.Backoff(attempt-1)); err != nil {
			return attempt, lastErr
		}
	}
	return p.maxAttempts, lastErr
}

func (p *Policy) stopped() bool {
	return p.stop != nil && p.stop.Err() != nil
}

// Fetch fetches task.URL under the policy and returns exactly one outcome.
func Fetch(ctx context.Context, p *Policy, fetcher pipeline.Fetcher, task pipeline.FetchTask) pipeline.Outcome {
	start := time.Now()
	var page pipeline.Page
	attempts, err := p.Do(ctx, func(ctx context.Context) error {
		pg, err := fetcher.Fetch(ctx, task.URL)
		page = pg
		return err
	})
	if err != nil {
		out := pipeline.Failed(task, pipeline.FailureFetch, attempts, fmt.Errorf("fetch %s after %d attempt(s): %w", task.URL, attempts, err))
		out.Page = page
		out.Duration = time.Since(start)
		return out
	}
	return pipeline.Outcome{
		Task:     task,
		Page:     page,
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
