// Package gcs streams downloaded bytes into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`
}

// Sink uploads each object to the configured bucket.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// CheckBucket fails when the bucket is missing or not accessible.
func (s *Sink) CheckBucket(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("failed to get GCS bucket %q attributes: %w", s.bucket, err)
	}
	return nil
}

// ObjectName maps a file name to its key in the bucket.
func (s *Sink) ObjectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put streams r into the object and returns the number of bytes uploaded.
func (s *Sink) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("name is required")
	}
	object := s.ObjectName(name)
	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	n, err := io.Copy(writer, r)
	if err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return n, fmt.Errorf("copy object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return n, fmt.Errorf("copy object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("close writer for %s: %w", object, err)
	}
	return n, nil
}
