package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Fetcher issues a single GET and returns the buffered page.
// Non-2xx responses return the page together with a *StatusError.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Streamer issues a single GET and hands back the unread response body.
// Callers own the returned ReadCloser and must close it.
type Streamer interface {
	Stream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// ByteSink stores a named byte stream and returns the number of bytes written.
type ByteSink interface {
	Put(ctx context.Context, name string, r io.Reader) (int64, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
