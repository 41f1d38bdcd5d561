package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/async-scrapers/internal/progress"
)

// PrometheusSink exports run progress via Prometheus collectors it owns.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runRuntime    *prometheus.HistogramVec

	tasks        *prometheus.CounterVec
	taskBytes    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	milestone    *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_started_total",
			Help: "Runs started per plan.",
		}, []string{"plan"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_completed_total",
			Help: "Runs completed per plan and result.",
		}, []string{"plan", "result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"plan"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_tasks_total",
			Help: "Settled tasks per plan, level and result.",
		}, []string{"plan", "level", "result"}),
		taskBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_task_bytes_total",
			Help: "Bytes fetched or written per plan and level.",
		}, []string{"plan", "level"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_task_duration_seconds",
			Help:    "Task duration including retries.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"plan", "level"}),
		milestone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scraper_tasks_settled",
			Help: "Settled task count at the last milestone.",
		}, []string{"plan"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.tasks,
		s.taskBytes,
		s.taskDuration,
		s.milestone,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	plan := label(evt.Plan)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(plan).Inc()
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(plan, "success").Inc()
		s.observeRuntime(plan, evt)
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(plan, "error").Inc()
		s.observeRuntime(plan, evt)
	case progress.StageTaskDone:
		s.observeTask(plan, "success", evt)
	case progress.StageTaskFailed:
		s.observeTask(plan, evt.Kind, evt)
	case progress.StageMilestone:
		s.milestone.WithLabelValues(plan).Set(float64(evt.Completed))
	}
}

func (s *PrometheusSink) observeRuntime(plan string, evt progress.Event) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(plan).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeTask(plan, result string, evt progress.Event) {
	level := label(evt.Level)
	s.tasks.WithLabelValues(plan, level, label(result)).Inc()
	if evt.Bytes > 0 {
		s.taskBytes.WithLabelValues(plan, level).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.taskDuration.WithLabelValues(plan, level).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
