package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how many settled tasks pass between milestones.
const DefaultInterval = 100

// TrackerConfig wires a Tracker.
type TrackerConfig struct {
	RunID    [16]byte
	Plan     string
	Interval int
	Logger   *zap.Logger
	Emitter  Emitter
	Now      func() time.Time
}

// Tracker counts settled tasks across all workers of a run and announces
// every Interval-th one.
type Tracker struct {
	completed atomic.Int64
	cfg       TrackerConfig
}

// NewTracker builds a Tracker, filling defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = Discard{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{cfg: cfg}
}

// Settle counts one finished task and returns the new total.
func (t *Tracker) Settle(level string) int64 {
	n := t.completed.Add(1)
	if n%int64(t.cfg.Interval) != 0 {
		return n
	}
	t.cfg.Logger.Info("progress",
		zap.String("plan", t.cfg.Plan),
		zap.String("level", level),
		zap.Int64("completed", n),
	)
	t.cfg.Emitter.Emit(Event{
		RunID:     t.cfg.RunID,
		TS:        t.cfg.Now().UTC(),
		Stage:     StageMilestone,
		Plan:      t.cfg.Plan,
		Level:     level,
		Completed: n,
	})
	return n
}

// Completed returns the number of settled tasks.
func (t *Tracker) Completed() int64 {
	return t.completed.Load()
}
