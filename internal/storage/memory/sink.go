// Package memory keeps downloaded objects in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Sink stores object bodies keyed by name.
type Sink struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory sink.
func New() *Sink {
	return &Sink{data: make(map[string][]byte)}
}

// Put reads r fully and stores a private copy under name.
func (s *Sink) Put(_ context.Context, name string, r io.Reader) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("name is required")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return int64(len(body)), fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), body...)
	return int64(len(body)), nil
}

// Get returns a copy of the stored object.
func (s *Sink) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// Names lists stored object names in sorted order.
func (s *Sink) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the total number of stored bytes.
func (s *Sink) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, body := range s.data {
		total += int64(len(body))
	}
	return total
}
