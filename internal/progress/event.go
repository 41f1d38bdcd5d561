package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageLevelDone  Stage = "LEVEL_DONE"
	StageTaskDone   Stage = "TASK_DONE"
	StageTaskFailed Stage = "TASK_FAILED"
	StageMilestone  Stage = "MILESTONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one step of a run.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or task milestone occurred.
	Stage Stage
	// Plan names the site plan, for example "metro".
	Plan string
	// Level names the crawl level a task belongs to.
	Level string
	// Site is the host label of URL.
	Site string
	// URL is the task URL; it should not contain credentials.
	URL string
	// Bytes carries the body or file size for the task.
	Bytes int64
	// Attempts is the number of fetch attempts a task used.
	Attempts int
	// Kind is the failure kind for TASK_FAILED events.
	Kind string
	// StatusClass groups the final HTTP status of a task.
	StatusClass StatusClass
	// Dur is the task or run latency.
	Dur time.Duration
	// Completed is the running count of settled tasks for MILESTONE events.
	Completed int64
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageLevelDone:
	case StageTaskDone:
		if e.URL == "" {
			return errors.New("task done requires url")
		}
	case StageTaskFailed:
		if e.URL == "" {
			return errors.New("task failed requires url")
		}
		if e.Kind == "" {
			return errors.New("task failed requires kind")
		}
	case StageMilestone:
		if e.Completed <= 0 {
			return errors.New("milestone requires completed count")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
