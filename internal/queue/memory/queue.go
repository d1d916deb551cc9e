// Package memory provides a bounded in-process task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = engine.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch     chan engine.Task
	mu     sync.RWMutex
	closed bool
}

var _ engine.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan engine.Task, capacity)}
}

// Enqueue pushes a task, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, task engine.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Tasks
// buffered before Close are still delivered.
func (q *Queue) Dequeue(ctx context.Context) (engine.Task, error) {
	select {
	case <-ctx.Done():
		return engine.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return engine.Task{}, ErrClosed
		}
		return task, nil
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Enqueue holds the read
// lock while blocked, so Close waits for in-flight sends to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
