package queue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/queue"
)

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	data, err := queue.Encode(engine.Task{ID: "h", Kind: engine.TaskHeal, SourceID: 9, Attempt: 2})
	require.NoError(t, err)
	task, err := queue.Decode(data)
	require.NoError(t, err)
	require.Equal(t, int64(9), task.SourceID)
	require.Equal(t, 2, task.Attempt)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"garbage":      `{`,
		"unknown kind": `{"id":"x","kind":"crawl"}`,
		"no item":      `{"id":"x","kind":"analyze"}`,
		"no source":    `{"id":"x","kind":"heal"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := queue.Decode([]byte(raw))
			require.Error(t, err)
		})
	}
}
