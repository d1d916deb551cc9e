// Package worker implements the background task execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/metrics"
)

// Defaults for the bounded retry applied to retryable handler errors.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 60 * time.Second
)

// ErrNoHandler is returned for tasks whose kind has no registered handler.
var ErrNoHandler = errors.New("no handler for task kind")

// Handler executes one task.
type Handler interface {
	Handle(ctx context.Context, task engine.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task engine.Task) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, task engine.Task) error {
	return f(ctx, task)
}

// GiveUpHandler is implemented by handlers that want to record a task that
// failed terminally.
type GiveUpHandler interface {
	GiveUp(ctx context.Context, task engine.Task, err error)
}

// Config controls Worker behavior.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Worker consumes queue items and runs the handler registered for their kind.
type Worker struct {
	queue    engine.Queue
	handlers map[engine.TaskKind]Handler
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue engine.Queue, handlers map[engine.TaskKind]Handler, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, engine.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !w.pause(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", task.ID), zap.String("kind", string(task.Kind)))
		metrics.IncActiveWorkers()
		w.process(ctx, task)
		metrics.DecActiveWorkers()
	}
}

// process runs the task with bounded retry. Only errors marked retryable are
// retried; everything else is terminal on the first attempt.
func (w *Worker) process(ctx context.Context, task engine.Task) {
	handler, ok := w.handlers[task.Kind]
	if !ok {
		w.logger.Error("dropping task", zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)), zap.Error(ErrNoHandler))
		return
	}
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	for {
		err := w.invoke(ctx, handler, task)
		if err == nil {
			return
		}
		retry := engine.IsRetryable(err) && task.Attempt < w.cfg.MaxAttempts && ctx.Err() == nil
		if !retry {
			w.logger.Error("task failed",
				zap.String("task_id", task.ID),
				zap.String("kind", string(task.Kind)),
				zap.Int("attempt", task.Attempt),
				zap.Error(err),
			)
			if g, ok := handler.(GiveUpHandler); ok {
				g.GiveUp(ctx, task, err)
			}
			return
		}
		w.logger.Warn("task failed, retrying",
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.Attempt),
			zap.Duration("delay", w.cfg.RetryDelay),
			zap.Error(err),
		)
		if !w.pause(ctx, w.cfg.RetryDelay) {
			return
		}
		task.Attempt++
	}
}

func (w *Worker) invoke(ctx context.Context, handler Handler, task engine.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task handler panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, task)
}

func (w *Worker) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
