package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/async-scrapers/internal/progress"
)

// LogSink writes progress events as structured logs. Run-level events and
// failures log at Info and Warn; per-task successes log at Debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("plan", evt.Plan),
		}
		switch evt.Stage {
		case progress.StageTaskDone:
			s.logger.Debug("task done", append(fields,
				zap.String("level", evt.Level),
				zap.String("url", evt.URL),
				zap.Int64("bytes", evt.Bytes),
				zap.Int("attempts", evt.Attempts),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageTaskFailed:
			s.logger.Warn("task failed", append(fields,
				zap.String("level", evt.Level),
				zap.String("url", evt.URL),
				zap.String("kind", evt.Kind),
				zap.Int("attempts", evt.Attempts),
				zap.String("error", evt.Note),
			)...)
		case progress.StageMilestone:
			s.logger.Debug("milestone", append(fields, zap.Int64("completed", evt.Completed))...)
		default:
			s.logger.Info("run event", append(fields,
				zap.String("level", evt.Level),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)...)
		}
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
