// Package pipeline defines the core types and interfaces shared by the
// fetch, retry, limiter, extraction, sink, and orchestration subsystems.
package pipeline
