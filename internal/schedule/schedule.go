// Package schedule runs jobs on a fixed interval.
package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the job once at start instead of waiting an interval.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Every runs job.Run every job.Interval until ctx ends. Runs never overlap;
// a run that outlasts the interval delays the next tick. A non-positive
// interval disables the job.
func Every(ctx context.Context, job Job, logger *zap.Logger) {
	if job.Interval <= 0 || job.Run == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("schedule").With(zap.String("job", job.Name))
	run := func() {
		start := time.Now()
		if err := job.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduled job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		log.Debug("scheduled job finished", zap.Duration("duration", time.Since(start)))
	}

	if job.Immediate {
		run()
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
