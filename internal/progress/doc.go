// Package progress reports how a run advances. The Hub batches events on a
// background goroutine and fans them out to sinks (logs, Prometheus); the
// Tracker counts settled tasks and announces every Nth completion.
package progress
