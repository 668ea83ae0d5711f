package worker

import (
	"context"
	"fmt"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Publisher enqueues inbound messages for asynchronous processing.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue publishes one inbound message and returns the job id.
func (p *Publisher) Enqueue(ctx context.Context, msg dispatch.InboundMessage) (string, error) {
	j, body, err := encodeJob(job{Message: msg})
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("worker: failed to enqueue message: %w", err)
	}
	p.logger.Debug("inbound message enqueued", "job_id", j.ID, "phone", msg.Phone, "type", msg.Type)
	return j.ID, nil
}
