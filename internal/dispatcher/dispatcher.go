// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   engine.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue engine.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds concurrency identical workers sharing handlers and cfg.
func NewPool(
	queue engine.Queue,
	concurrency int,
	handlers map[engine.TaskKind]worker.Handler,
	cfg worker.Config,
	logger *zap.Logger,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*worker.Worker, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		workers = append(workers, worker.New(queue, handlers, cfg, logger.With(zap.Int("worker", i))))
	}
	return New(queue, workers)
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task engine.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
