package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Processor runs one inbound message to completion. dispatch.Pipeline
// satisfies it; it never returns an error because failures are contained.
type Processor interface {
	Process(ctx context.Context, msg dispatch.InboundMessage) dispatch.Status
}

// Worker consumes inbound message jobs and hands them to the pipeline.
type Worker struct {
	processor Processor
	queue     Queue
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAge           time.Duration
	now              func() time.Time
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithMaxAge drops jobs that sat in the queue longer than d.
func WithMaxAge(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.maxAge = d
	}
}

func withWorkerClock(now func() time.Time) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.now = now
	}
}

func NewWorker(processor Processor, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("worker: processor cannot be nil")
	}
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{processor: processor, queue: queue, logger: logger, cfg: cfg}
}

// Start launches the consumer goroutines. They exit when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("intake worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("intake worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive intake jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	j, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable intake job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	if w.cfg.maxAge > 0 && !j.EnqueuedAt.IsZero() {
		if age := w.cfg.now().Sub(j.EnqueuedAt); age > w.cfg.maxAge {
			w.logger.Warn("dropping stale intake job", "job_id", j.ID, "phone", j.Message.Phone, "age", age.String())
			w.deleteMessage(ctx, msg.ReceiptHandle)
			return
		}
	}

	status := w.processor.Process(ctx, j.Message)
	w.logger.Info("intake job processed",
		"job_id", j.ID,
		"phone", j.Message.Phone,
		"type", j.Message.Type,
		"status", status,
	)

	// Failures are contained by the pipeline; a redelivery would only hit
	// the idempotency store.
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete intake job", "error", err)
	}
}
