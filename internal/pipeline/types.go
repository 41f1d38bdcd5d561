package pipeline

import (
	"net/http"
	"time"
)

// FetchTask names one URL to fetch at a given depth of a plan.
// Parent carries level-specific context (for example prices read from a
// listing card) and is treated as read-only by every consumer.
type FetchTask struct {
	URL    string
	Depth  int
	Parent any
	// Skip marks an item discovery found but could not turn into a request.
	// The task is settled as an extract failure without being fetched.
	Skip error
}

// Page is the body and metadata returned by a Fetcher.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentLength reports the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// BaseURL returns the URL relative links on the page resolve against.
func (p Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// FailureKind classifies why a task did not succeed.
type FailureKind string

// Failure kinds counted in the run aggregate.
const (
	FailureNone     FailureKind = ""
	FailureFetch    FailureKind = "fetch"
	FailureExtract  FailureKind = "extract"
	FailureResource FailureKind = "resource"
	FailureCanceled FailureKind = "canceled"
)

// Outcome is the single result produced for every FetchTask.
// A nil Err means success; otherwise Kind says which stage failed.
type Outcome struct {
	Task     FetchTask
	Page     Page
	Bytes    int64
	Attempts int
	Err      error
	Kind     FailureKind
	Duration time.Duration
	// Next holds the tasks discovered on Page for the following level.
	Next []FetchTask
	// Records and Files count what a terminal handler produced.
	Records int
	Files   int
}

// Succeeded reports whether the outcome carries no error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Failed builds a failure outcome for task.
func Failed(task FetchTask, kind FailureKind, attempts int, err error) Outcome {
	return Outcome{
		Task:     task,
		Attempts: attempts,
		Err:      err,
		Kind:     kind,
	}
}

// RunAggregate summarizes one orchestrator run.
type RunAggregate struct {
	RunID          string              `json:"run_id"`
	Plan           string              `json:"plan"`
	Seed           string              `json:"seed"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
	Elapsed        time.Duration       `json:"elapsed"`
	Records        int                 `json:"records"`
	Files          int                 `json:"files"`
	Bytes          int64               `json:"bytes"`
	Succeeded      int                 `json:"succeeded"`
	Failed         int                 `json:"failed"`
	FailuresByKind map[FailureKind]int `json:"failures_by_kind"`
	Levels         []LevelStat         `json:"levels"`
	Canceled       bool                `json:"canceled"`
}

// LevelStat counts the tasks of one crawl level.
type LevelStat struct {
	Name      string `json:"name"`
	Tasks     int    `json:"tasks"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// AddFailure counts one failed outcome of the given kind.
func (a *RunAggregate) AddFailure(kind FailureKind) {
	if a.FailuresByKind == nil {
		a.FailuresByKind = make(map[FailureKind]int)
	}
	a.FailuresByKind[kind]++
	a.Failed++
}
