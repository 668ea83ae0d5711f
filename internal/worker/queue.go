// Package worker moves normalized inbound messages from the webhook edge to
// the pipeline through a queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/fieldhand/internal/dispatch"
)

// Queue is the transport between publishers and workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// job is the queued envelope around one inbound message.
type job struct {
	ID         string                  `json:"id"`
	EnqueuedAt time.Time               `json:"enqueued_at"`
	Message    dispatch.InboundMessage `json:"message"`
}

func encodeJob(j job) (job, string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(j)
	if err != nil {
		return job{}, "", fmt.Errorf("worker: failed to encode job: %w", err)
	}
	return j, string(body), nil
}

func decodeJob(body string) (job, error) {
	var j job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return job{}, fmt.Errorf("worker: failed to decode job: %w", err)
	}
	if j.Message.Phone == "" {
		return job{}, fmt.Errorf("worker: job %s has no phone", j.ID)
	}
	return j, nil
}
