// Package stream opens response bodies for byte-for-byte copying, without
// buffering them in memory.
package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/async-scrapers/internal/metrics"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

const transportName = "resty"

// Gate delays a request before it is sent.
type Gate interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the streaming client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Streamer implements pipeline.Streamer on a resty client.
type Streamer struct {
	client *resty.Client
	gate   Gate
}

// New builds a Streamer over transport. gate may be nil.
func New(transport http.RoundTripper, cfg Config, gate Gate) *Streamer {
	client := resty.New()
	if transport != nil {
		client.SetTransport(transport)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client.SetTimeout(timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Streamer{client: client, gate: gate}
}

// Stream issues a GET and returns the unread body. The caller must close it.
// Non-2xx responses are drained, closed and reported as *pipeline.StatusError.
func (s *Streamer) Stream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if _, err := pipeline.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if s.gate != nil {
		if err := s.gate.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	metrics.ObserveFetchAttempt(rawURL, transportName)

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	body := resp.RawBody()
	if !pipeline.IsSuccessStatus(resp.StatusCode()) {
		if body != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
			_ = body.Close()
		}
		return nil, &pipeline.StatusError{URL: rawURL, Code: resp.StatusCode()}
	}
	if body == nil {
		return io.NopCloser(http.NoBody), nil
	}
	return body, nil
}
