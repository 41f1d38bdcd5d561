package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JakeFAU/async-scrapers/internal/extract"
	"github.com/JakeFAU/async-scrapers/internal/metrics"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/retry"
	"github.com/JakeFAU/async-scrapers/internal/sink"
)

// RecordHandler fetches a page, extracts one record of type R and appends it
// to Records. A page missing a mandatory field yields an extract failure and
// no record.
type RecordHandler[R any] struct {
	Fetcher pipeline.Fetcher
	Extract extract.Extractor[R]
	Records *sink.Collection[R]
}

// Handle implements Handler.
func (h *RecordHandler[R]) Handle(ctx context.Context, policy *retry.Policy, task pipeline.FetchTask) pipeline.Outcome {
	out := retry.Fetch(ctx, policy, h.Fetcher, task)
	if !out.Succeeded() {
		return out
	}
	rec, err := h.Extract(out.Page, task)
	if err != nil {
		out.Err = err
		out.Kind = pipeline.FailureExtract
		return out
	}
	h.Records.Append(rec)
	metrics.ObserveRecord()
	out.Records = 1
	out.Bytes = int64(out.Page.ContentLength())
	return out
}

// DownloadHandler streams each task URL into Sink under the URL's trailing
// path segment. Read errors are retried; write errors fail the task as a
// resource failure without retrying.
type DownloadHandler struct {
	Streamer pipeline.Streamer
	Sink     pipeline.ByteSink
}

// Handle implements Handler.
func (h *DownloadHandler) Handle(ctx context.Context, policy *retry.Policy, task pipeline.FetchTask) pipeline.Outcome {
	start := time.Now()
	name, err := extract.FileName(task.URL)
	if err != nil {
		return pipeline.Failed(task, pipeline.FailureExtract, 0, err)
	}

	var written int64
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		n, err := h.download(ctx, task.URL, name)
		written = n
		return err
	})
	if err != nil {
		kind := pipeline.FailureFetch
		var resErr *pipeline.ResourceError
		if errors.As(err, &resErr) {
			kind = pipeline.FailureResource
		}
		out := pipeline.Failed(task, kind, attempts, fmt.Errorf("download %s after %d attempt(s): %w", task.URL, attempts, err))
		out.Duration = time.Since(start)
		return out
	}
	metrics.ObserveBytesWritten(written)
	return pipeline.Outcome{
		Task:     task,
		Bytes:    written,
		Files:    1,
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

func (h *DownloadHandler) download(ctx context.Context, rawURL, name string) (int64, error) {
	body, err := h.Streamer.Stream(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	src := &readTracker{r: body}
	n, err := h.Sink.Put(ctx, name, src)
	if err == nil {
		return n, nil
	}
	if src.err != nil {
		return n, fmt.Errorf("read body of %s: %w", rawURL, src.err)
	}
	return n, &pipeline.ResourceError{Name: name, Err: err}
}

// readTracker remembers the first non-EOF read error so a failed copy can be
// blamed on the network or on the destination.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
