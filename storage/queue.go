package storage

import "sync"

// Queue is the FIFO hand-off between the receiver and the log writer.
// Enqueue and DequeueAll may be called from different goroutines.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends v. It reports false when the queue has been closed and v was dropped.
func (q *Queue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

// DequeueAll removes and returns everything currently queued, oldest first.
func (q *Queue[T]) DequeueAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues. Items already queued stay available to DequeueAll.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Notify fires at least once after any Enqueue or Close since the last receive.
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
