package pipeline

import (
	"context"
	"sync"
)

// mailbox holds at most one item. Putting into a full mailbox replaces the
// held item, so a slow consumer always sees the latest value.
type mailbox[T any] struct {
	mu     sync.Mutex
	item   T
	full   bool
	notify chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{notify: make(chan struct{}, 1)}
}

// put stores v and returns the item it displaced, if any
func (m *mailbox[T]) put(v T) (old T, replaced bool) {
	m.mu.Lock()
	old, replaced = m.item, m.full
	m.item, m.full = v, true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return old, replaced
}

// take blocks until an item is available or ctx is done
func (m *mailbox[T]) take(ctx context.Context) (T, bool) {
	for {
		if v, ok := m.drain(); ok {
			return v, true
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-m.notify:
		}
	}
}

// drain empties the mailbox without blocking
func (m *mailbox[T]) drain() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	v, ok := m.item, m.full
	m.item, m.full = zero, false
	return v, ok
}
