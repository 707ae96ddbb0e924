package room

import "sync"

// mailbox is an unbounded queue with a wake-up signal. push never blocks,
// so bus delivery goroutines are never held up by the session actor.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

func (m *mailbox[T]) push(it T) {
	m.mu.Lock()
	m.items = append(m.items, it)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// drain returns everything queued so far in arrival order.
func (m *mailbox[T]) drain() []T {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	return items
}
