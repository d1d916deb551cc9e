package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEveryRunsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		Every(ctx, Job{
			Name:      "ingest",
			Interval:  5 * time.Millisecond,
			Immediate: true,
			Run: func(context.Context) error {
				if runs.Add(1) == 2 {
					return errors.New("transient")
				}
				return nil
			},
		}, zap.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestEveryDisabled(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Every(context.Background(), Job{Name: "off", Run: func(context.Context) error { return nil }}, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled job should return immediately")
	}
}
