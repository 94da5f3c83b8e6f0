package core

import (
	"context"
	"log/slog"

	"github.com/BranchIntl/relayq/errors"
	"github.com/BranchIntl/relayq/job"
)

// Producer adds jobs to queues
type Producer struct {
	broker Broker
}

// NewProducer creates a producer on top of broker
func NewProducer(broker Broker) *Producer {
	return &Producer{broker: broker}
}

// Enqueue encodes payload and adds a waiting job to queue
func (p *Producer) Enqueue(ctx context.Context, queue, name string, payload any, opts ...job.Option) (string, error) {
	if queue == "" {
		return "", errors.ErrEmptyQueueName
	}

	j, err := job.New(queue, name, payload, opts...)
	if err != nil {
		return "", err
	}

	id, err := p.broker.Enqueue(ctx, j)
	if err != nil {
		return "", err
	}

	slog.Debug("Job enqueued", "queue", queue, "id", id, "name", name)
	return id, nil
}
