// Package collyfetcher implements pipeline.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/async-scrapers/internal/metrics"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

const transportName = "colly"

// Gate delays or rejects a request before it is sent.
type Gate interface {
	Wait(ctx context.Context, rawURL string) error
}

// Admission rejects URLs that must not be fetched.
type Admission interface {
	Check(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
	// MaxBodySize caps the bytes read per response; 0 keeps colly's default.
	MaxBodySize int
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRateLimit waits on gate before every request.
func WithRateLimit(gate Gate) Option {
	return func(f *Fetcher) { f.gate = gate }
}

// WithRobots checks every URL against admission before fetching.
func WithRobots(admission Admission) Option {
	return func(f *Fetcher) { f.robots = admission }
}

// Fetcher performs one GET per Fetch on a clone of a base collector. All
// clones share the transport passed to New.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	gate          Gate
	robots        Admission
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher over transport.
func New(transport http.RoundTripper, cfg Config, opts ...Option) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if transport != nil {
		c.WithTransport(transport)
	}
	// Clones share the backend client, so the timeout is set once here.
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	f := &Fetcher{cfg: cfg, baseCollector: c}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch executes a single HTTP GET. A non-2xx response is returned together
// with a *pipeline.StatusError. Canceling ctx aborts the request in flight and
// Fetch returns without waiting for the client timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (pipeline.Page, error) {
	if _, err := pipeline.ValidateURL(rawURL); err != nil {
		return pipeline.Page{}, err
	}
	if f.robots != nil {
		if err := f.robots.Check(ctx, rawURL); err != nil {
			return pipeline.Page{}, err
		}
	}
	if f.gate != nil {
		if err := f.gate.Wait(ctx, rawURL); err != nil {
			return pipeline.Page{}, err
		}
	}
	metrics.ObserveFetchAttempt(rawURL, transportName)

	var (
		page     pipeline.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector()
	collector.Context = ctx
	f.configureCollectorHooks(collector, rawURL, start, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return pipeline.Page{}, err
	}
	if !pipeline.IsSuccessStatus(page.StatusCode) {
		return page, &pipeline.StatusError{URL: rawURL, Code: page.StatusCode}
	}
	return page, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	start time.Time,
	page *pipeline.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*page = pipeline.Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit %s: %w", rawURL, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response %s: %w", rawURL, *fetchErr)
		}
		return nil
	}
}
