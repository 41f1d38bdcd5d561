package retry

import (
	"context"
	"errors"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether err may succeed on another attempt: non-2xx
// statuses, network errors, and timeouts are transient; malformed URLs,
// robots rejections, resource failures, caller cancellation, and errors
// wrapped with Permanent are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var resErr *pipeline.ResourceError
	if errors.As(err, &resErr) {
		return false
	}
	if errors.Is(err, pipeline.ErrMalformedURL) || errors.Is(err, pipeline.ErrDisallowed) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
