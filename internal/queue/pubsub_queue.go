package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

// PubSubConfig names the topic and subscription used for tasks.
type PubSubConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
	// Buffer bounds the number of received tasks waiting for a worker.
	Buffer int
}

// PubSubQueue implements engine.Queue on Google Cloud Pub/Sub. Run must be
// started for Dequeue to return anything.
type PubSubQueue struct {
	client     *pubsub.Client
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	buf        chan engine.Task
	logger     *zap.Logger
	closeOnce  sync.Once
}

var _ engine.Queue = (*PubSubQueue)(nil)

// NewPubSubQueue creates a client for cfg.ProjectID. It authenticates using
// Application Default Credentials.
func NewPubSubQueue(ctx context.Context, cfg PubSubConfig, logger *zap.Logger) (*PubSubQueue, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return NewPubSubQueueWithClient(client, cfg, logger), nil
}

// NewPubSubQueueWithClient wraps an existing client.
func NewPubSubQueueWithClient(client *pubsub.Client, cfg PubSubConfig, logger *zap.Logger) *PubSubQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &PubSubQueue{
		client:     client,
		publisher:  client.Publisher(cfg.Topic),
		subscriber: client.Subscriber(cfg.Subscription),
		buf:        make(chan engine.Task, buffer),
		logger:     logger.Named("pubsub_queue"),
	}
}

// Enqueue publishes the task and waits for the server acknowledgement.
func (q *PubSubQueue) Enqueue(ctx context.Context, task engine.Task) error {
	data, err := Encode(task)
	if err != nil {
		return err
	}
	result := q.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": string(task.Kind)},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task %q: %w", task.ID, err)
	}
	return nil
}

// Dequeue returns the next received task.
func (q *PubSubQueue) Dequeue(ctx context.Context) (engine.Task, error) {
	select {
	case <-ctx.Done():
		return engine.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.buf:
		return task, nil
	}
}

// Run receives messages until ctx ends. A message is acked once it is handed
// to the buffer; undecodable messages are acked and dropped.
func (q *PubSubQueue) Run(ctx context.Context) error {
	err := q.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		task, err := Decode(msg.Data)
		if err != nil {
			q.logger.Warn("Dropping malformed task message", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.buf <- task:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive tasks: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the client connection.
func (q *PubSubQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.publisher.Stop()
		if closeErr := q.client.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close pubsub client: %w", closeErr)
		}
	})
	return err
}
