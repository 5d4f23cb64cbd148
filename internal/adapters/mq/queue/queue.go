// Package queue buffers audit attempts between the request path and the
// workers that persist them.
//
// Enqueue never blocks: when the buffer is full the attempt is refused and
// the caller decides what to do with it.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/strokeauth/internal/domain/model"
	"github.com/okian/strokeauth/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
)

// Attempt is the payload type flowing through the queue.
type Attempt = model.Attempt

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an attempt to the queue.
	// Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, a Attempt) bool

	// Dequeue returns a channel that receives attempts as they arrive.
	// The channel is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Attempt

	// Len returns the current number of queued attempts.
	Len(ctx context.Context) int

	// Close stops accepting attempts; queued ones are still delivered.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	attempts   chan Attempt
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(q)
	}
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}

	q.attempts = make(chan Attempt, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds an attempt to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, a Attempt) bool { //nolint:gocritic // hugeParam: Attempt must be passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	if len(q.attempts) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}

	select {
	case q.attempts <- a:
		metrics.RecordQueueEnqueue()
		q.publishSize()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives attempts as they arrive.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Attempt {
	out := make(chan Attempt)
	go func() {
		defer close(out)
		for a := range q.attempts {
			select {
			case out <- a:
				metrics.RecordQueueDequeue()
				q.publishSize()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Capacity returns the maximum number of queued attempts.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Len returns the current number of queued attempts.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.publishSize()
}

func (q *InMemoryQueue) publishSize() int {
	size := len(q.attempts)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.attempts)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
