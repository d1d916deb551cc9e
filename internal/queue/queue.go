// Package queue carries background tasks between the orchestrator and the
// worker pool. The memory subpackage backs single-process runs; PubSubQueue
// spreads tasks across processes through Google Cloud Pub/Sub.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// Encode serializes a task for the wire.
func Encode(task engine.Task) ([]byte, error) {
	if err := validate(task); err != nil {
		return nil, err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

// Decode parses a task produced by Encode.
func Decode(data []byte) (engine.Task, error) {
	var task engine.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return engine.Task{}, fmt.Errorf("decode task: %w", err)
	}
	if err := validate(task); err != nil {
		return engine.Task{}, err
	}
	return task, nil
}

func validate(task engine.Task) error {
	switch task.Kind {
	case engine.TaskAnalyze:
		if task.Item == nil {
			return fmt.Errorf("analyze task %q has no item", task.ID)
		}
	case engine.TaskHeal:
		if task.SourceID == 0 {
			return fmt.Errorf("heal task %q has no source id", task.ID)
		}
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
	return nil
}
