// Package sink accumulates extracted records for one run.
package sink

import "sync"

// Collection is an append-only list safe for concurrent producers.
type Collection[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewCollection returns an empty collection.
func NewCollection[T any]() *Collection[T] {
	return &Collection[T]{}
}

// Append adds one record.
func (c *Collection[T]) Append(item T) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
}

// Len reports the number of records.
func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Items returns a snapshot copy; later appends do not affect it.
func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}
