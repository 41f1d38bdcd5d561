// Package storage selects the destination downloaded bytes are streamed to.
// Backends live in subpackages; Open wires the configured one.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/storage/gcs"
	"github.com/JakeFAU/async-scrapers/internal/storage/local"
	"github.com/JakeFAU/async-scrapers/internal/storage/memory"
	"github.com/JakeFAU/async-scrapers/internal/storage/s3"
)

// Backend names accepted in Config.Backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config selects and configures one backend.
type Config struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
	S3      s3.Config    `mapstructure:"s3"`
}

// Opened is a ready sink plus the function releasing its client.
type Opened struct {
	Sink pipeline.ByteSink
	// Location describes where objects land, for the run summary.
	Location string
	Close    func() error
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config) (Opened, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		sink, err := local.New(cfg.Local)
		if err != nil {
			return Opened{}, fmt.Errorf("local sink: %w", err)
		}
		return Opened{Sink: sink, Location: sink.Dir(), Close: noop}, nil
	case BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return Opened{}, fmt.Errorf("failed to create GCS client: %w", err)
		}
		sink, err := gcs.New(client, cfg.GCS)
		if err == nil {
			err = sink.CheckBucket(ctx)
		}
		if err != nil {
			_ = client.Close()
			return Opened{}, fmt.Errorf("gcs sink: %w", err)
		}
		return Opened{Sink: sink, Location: "gs://" + cfg.GCS.Bucket, Close: client.Close}, nil
	case BackendS3:
		client, err := s3.NewClient(cfg.S3)
		if err != nil {
			return Opened{}, fmt.Errorf("s3 sink: %w", err)
		}
		sink, err := s3.New(client, cfg.S3)
		if err == nil {
			err = sink.EnsureBucket(ctx, cfg.S3.Region)
		}
		if err != nil {
			return Opened{}, fmt.Errorf("s3 sink: %w", err)
		}
		return Opened{Sink: sink, Location: "s3://" + cfg.S3.Bucket, Close: noop}, nil
	case BackendMemory:
		return Opened{Sink: memory.New(), Location: "memory", Close: noop}, nil
	default:
		return Opened{}, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
