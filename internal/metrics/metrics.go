// Package metrics exposes Prometheus collectors for scraper runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	fetchAttemptsTotal     *prometheus.CounterVec
	fetchRetriesTotal      prometheus.Counter
	outcomesTotal          *prometheus.CounterVec
	bytesWrittenTotal      prometheus.Counter
	recordsTotal           prometheus.Counter
	inFlightTasks          prometheus.Gauge
	rateLimitDelaysSeconds *prometheus.HistogramVec
	robotsDisallowedTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_attempts_total",
				Help: "Total HTTP fetch attempts, labeled by site and transport.",
			},
			[]string{"site", "transport"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total retries scheduled after transient failures.",
			},
		)

		outcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_outcomes_total",
				Help: "Task outcomes, labeled by plan level and result.",
			},
			[]string{"level", "result"},
		)

		bytesWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_bytes_written_total",
				Help: "Total bytes streamed into byte sinks.",
			},
		)

		recordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_records_total",
				Help: "Total records extracted and appended to sinks.",
			},
		)

		inFlightTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_in_flight_tasks",
				Help: "Number of tasks currently admitted by the concurrency limiter.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsDisallowedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_robots_disallowed_total",
				Help: "URLs rejected by robots.txt, labeled by site.",
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx ends. An empty addr is a no-op.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if addr == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listen: %w", err)
	}
	return nil
}

// ObserveFetchAttempt counts one HTTP attempt for the URL's host.
func ObserveFetchAttempt(rawURL, transport string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), transport).Inc()
}

// ObserveRetry counts one scheduled retry.
func ObserveRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveOutcome counts a finished task for the given level.
func ObserveOutcome(level, result string) {
	Init()
	outcomesTotal.WithLabelValues(level, result).Inc()
}

// ObserveBytesWritten adds n to the byte sink counter.
func ObserveBytesWritten(n int64) {
	Init()
	if n > 0 {
		bytesWrittenTotal.Add(float64(n))
	}
}

// ObserveRecord counts one appended record.
func ObserveRecord() {
	Init()
	recordsTotal.Inc()
}

// IncInFlight increments the in-flight task gauge.
func IncInFlight() {
	Init()
	inFlightTasks.Inc()
}

// DecInFlight decrements the in-flight task gauge.
func DecInFlight() {
	Init()
	inFlightTasks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsDisallowed counts a URL rejected by robots.txt.
func ObserveRobotsDisallowed(rawURL string) {
	Init()
	robotsDisallowedTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}
