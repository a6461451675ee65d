package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const defaultQueueCapacity = 256

// MemoryQueue is an in-process delivery queue for single-node deployments.
// Messages carrying an idempotency key are deduplicated while in flight: a
// second enqueue of the same key is dropped until the first one acks or dead
// letters.
type MemoryQueue struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	dead     []*job.ExecutionMessage
	messages chan *job.ExecutionMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &MemoryQueue{
		inflight: map[string]struct{}{},
		messages: make(chan *job.ExecutionMessage, capacity),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	var receipt queue.EnqueueReceipt
	if q == nil {
		return receipt, fmt.Errorf("jobs: memory queue is not configured")
	}
	if msg == nil {
		return receipt, fmt.Errorf("jobs: execution message is required")
	}

	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" {
		q.mu.Lock()
		if _, exists := q.inflight[key]; exists {
			q.mu.Unlock()
			return receipt, nil
		}
		q.inflight[key] = struct{}{}
		q.mu.Unlock()
	}

	select {
	case q.messages <- msg:
		return receipt, nil
	default:
		q.release(key)
		return receipt, fmt.Errorf("jobs: memory queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("jobs: memory queue is not configured")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-q.messages:
		return &memoryDelivery{queue: q, msg: msg}, nil
	}
}

// DeadLetters returns the messages parked after a dead-letter nack.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.dead...)
}

func (q *MemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) parkDead(msg *job.ExecutionMessage) {
	q.mu.Lock()
	q.dead = append(q.dead, msg)
	q.mu.Unlock()
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage

	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	if !d.settle() {
		return fmt.Errorf("jobs: delivery already settled")
	}
	d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if !d.settle() {
		return fmt.Errorf("jobs: delivery already settled")
	}
	key := strings.TrimSpace(d.msg.IdempotencyKey)
	if opts.Disposition != queue.NackDispositionRetry {
		d.queue.parkDead(d.msg)
		d.queue.release(key)
		return nil
	}

	// The inflight key stays held across the delay so a concurrent scan
	// cannot double-enqueue the same delivery.
	msg := d.msg
	requeue := func() {
		select {
		case d.queue.messages <- msg:
		default:
			d.queue.parkDead(msg)
			d.queue.release(key)
		}
	}
	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, requeue)
		return nil
	}
	requeue()
	return nil
}

func (d *memoryDelivery) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	return true
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
