// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/queue/memory"
	"github.com/JakeFAU/synthesis-engine/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestPoolProcessesConcurrently(t *testing.T) {
	q := memory.NewQueue(16)
	var handled atomic.Int32
	release := make(chan struct{})
	handlers := map[engine.TaskKind]worker.Handler{
		engine.TaskAnalyze: worker.HandlerFunc(func(ctx context.Context, _ engine.Task) error {
			handled.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}),
	}
	pool := NewPool(q, 4, handlers, worker.Config{}, zap.NewNop())
	require.Equal(t, 4, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { pool.Run(ctx); close(done) }()

	for i := 0; i < 4; i++ {
		item := engine.RawItem{EntryID: fmt.Sprint(i)}
		require.NoError(t, pool.Enqueue(ctx, engine.Task{ID: fmt.Sprint(i), Kind: engine.TaskAnalyze, Item: &item}))
	}
	require.Eventually(t, func() bool { return handled.Load() == 4 }, time.Second, 5*time.Millisecond)
	close(release)
	cancel()
	<-done
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), engine.Task{ID: "task"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ engine.Task) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (engine.Task, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return engine.Task{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, engine.Task) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (engine.Task, error) {
	return engine.Task{}, nil
}
