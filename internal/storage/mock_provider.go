package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockSink is a testify mock of pipeline.ByteSink. The reader is drained so
// callers observe a completed stream.
type MockSink struct {
	mock.Mock
}

// Put records the call and returns the configured results.
func (m *MockSink) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	_, _ = io.Copy(io.Discard, r)
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1) //nolint:wrapcheck
}
