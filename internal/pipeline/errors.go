package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrMalformedURL marks URLs that can never be fetched.
	ErrMalformedURL = errors.New("malformed url")
	// ErrNotAdmitted is returned for tasks the limiter never started because
	// the run was canceled first.
	ErrNotAdmitted = errors.New("task not admitted")
	// ErrDisallowed marks URLs rejected by robots.txt.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// ResourceError reports a failure writing to a destination (file, bucket).
type ResourceError struct {
	Name string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Name, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// ValidateURL checks rawURL is an absolute http(s) URL.
func ValidateURL(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrMalformedURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", ErrMalformedURL, u.Scheme, rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %s", ErrMalformedURL, rawURL)
	}
	return u, nil
}

// IsSuccessStatus reports whether code is 2xx.
func IsSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
