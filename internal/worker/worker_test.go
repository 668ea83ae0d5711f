package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

type stubProcessor struct {
	mu   sync.Mutex
	seen []dispatch.InboundMessage
	done chan struct{}
}

func (p *stubProcessor) Process(ctx context.Context, msg dispatch.InboundMessage) dispatch.Status {
	p.mu.Lock()
	p.seen = append(p.seen, msg)
	p.mu.Unlock()
	if p.done != nil {
		p.done <- struct{}{}
	}
	return dispatch.StatusOK
}

type recordingQueue struct {
	mu      sync.Mutex
	sent    []string
	deleted []string
	sendErr error
}

func (q *recordingQueue) Send(ctx context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sent = append(q.sent, body)
	return nil
}

func (q *recordingQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	return nil, context.Canceled
}

func (q *recordingQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, receiptHandle)
	return nil
}

func TestPublisherEnqueue(t *testing.T) {
	queue := &recordingQueue{}
	publisher := NewPublisher(queue, logging.Discard())

	id, err := publisher.Enqueue(context.Background(), dispatch.InboundMessage{
		ProviderMessageID: "wamid.1",
		Phone:             "5491100000001",
		Type:              dispatch.TypeText,
		Text:              "spent 5000 on feed",
	})
	require.NoError(t, err)
	require.Len(t, queue.sent, 1)

	var j job
	require.NoError(t, json.Unmarshal([]byte(queue.sent[0]), &j))
	assert.Equal(t, id, j.ID)
	assert.Equal(t, "wamid.1", j.Message.ProviderMessageID)
	assert.Equal(t, "spent 5000 on feed", j.Message.Text)
	assert.False(t, j.EnqueuedAt.IsZero())
}

func TestPublisherEnqueueError(t *testing.T) {
	queue := &recordingQueue{sendErr: errors.New("throttled")}
	publisher := NewPublisher(queue, logging.Discard())

	_, err := publisher.Enqueue(context.Background(), dispatch.InboundMessage{Phone: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestWorkerProcessesAndDeletes(t *testing.T) {
	queue := NewMemoryQueue(4)
	publisher := NewPublisher(queue, logging.Discard())
	processor := &stubProcessor{done: make(chan struct{}, 2)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(processor, queue, logging.Discard(), WithWorkerCount(1), WithReceiveWaitSeconds(1))
	w.Start(ctx)

	_, err := publisher.Enqueue(ctx, dispatch.InboundMessage{Phone: "5491100000001", Type: dispatch.TypeText, Text: "help"})
	require.NoError(t, err)

	select {
	case <-processor.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not process the job")
	}
	cancel()
	w.Wait()

	processor.mu.Lock()
	defer processor.mu.Unlock()
	require.Len(t, processor.seen, 1)
	assert.Equal(t, "help", processor.seen[0].Text)
}

func TestWorkerDropsUndecodableAndStaleJobs(t *testing.T) {
	queue := &recordingQueue{}
	processor := &stubProcessor{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWorker(processor, queue, logging.Discard(), WithMaxAge(time.Hour), withWorkerClock(func() time.Time { return now }))

	w.handleMessage(context.Background(), QueueMessage{ID: "1", Body: "{not json", ReceiptHandle: "r1"})

	_, stale, err := encodeJob(job{EnqueuedAt: now.Add(-2 * time.Hour), Message: dispatch.InboundMessage{Phone: "1"}})
	require.NoError(t, err)
	w.handleMessage(context.Background(), QueueMessage{ID: "2", Body: stale, ReceiptHandle: "r2"})

	_, fresh, err := encodeJob(job{EnqueuedAt: now.Add(-time.Minute), Message: dispatch.InboundMessage{Phone: "1"}})
	require.NoError(t, err)
	w.handleMessage(context.Background(), QueueMessage{ID: "3", Body: fresh, ReceiptHandle: "r3"})

	assert.Equal(t, []string{"r1", "r2", "r3"}, queue.deleted)
	assert.Len(t, processor.seen, 1)
}

func TestWorkerOptionsClamp(t *testing.T) {
	w := NewWorker(&stubProcessor{}, &recordingQueue{}, nil, WithReceiveWaitSeconds(60), WithReceiveBatchSize(50), WithWorkerCount(0))
	assert.Equal(t, maxWaitSeconds, w.cfg.receiveWaitSecs)
	assert.Equal(t, maxReceiveBatchSize, w.cfg.receiveBatchSize)
	assert.Equal(t, defaultWorkerCount, w.cfg.workers)
}

func TestMemoryQueueBatchesAndTimesOut(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, body))
	}

	got, err := q.Receive(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Body)
	assert.NotEqual(t, got[0].ReceiptHandle, got[1].ReceiptHandle)
	assert.Equal(t, 1, q.Len())

	got, err = q.Receive(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = q.Receive(ctx, 5, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	deleted  []*sqs.DeleteMessageInput
	received *sqs.ReceiveMessageOutput
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return f.received, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, in)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	api := &fakeSQS{received: &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{
		{MessageId: aws.String("m1"), Body: aws.String("{}"), ReceiptHandle: aws.String("rh1")},
	}}}
	q := newSQSQueue(api, "https://sqs.local/intake")

	require.NoError(t, q.Send(context.Background(), "body"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "https://sqs.local/intake", aws.ToString(api.sent[0].QueueUrl))

	msgs, err := q.Receive(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, QueueMessage{ID: "m1", Body: "{}", ReceiptHandle: "rh1"}, msgs[0])

	require.NoError(t, q.Delete(context.Background(), ""))
	require.NoError(t, q.Delete(context.Background(), "rh1"))
	require.Len(t, api.deleted, 1)
}

type stubPurgeStore struct {
	cutoffs []time.Time
}

func (s *stubPurgeStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 3, nil
}

func TestPurgerUsesRetention(t *testing.T) {
	store := &stubPurgeStore{}
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	p := NewPurger(store, logging.Discard()).WithRetention(48 * time.Hour)
	p.now = func() time.Time { return now }

	p.purge(context.Background())
	require.Len(t, store.cutoffs, 1)
	assert.Equal(t, now.Add(-48*time.Hour), store.cutoffs[0])
}
