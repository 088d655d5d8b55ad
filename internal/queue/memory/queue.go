// Package memory provides an in-memory implementation of the queue interfaces.
// This is useful for testing and development without external dependencies.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"logsentinel/internal/metrics"
	"logsentinel/internal/queue"
)

// Queue is an in-memory implementation of the Producer, Consumer and
// Committer interfaces. All messages land on partition 0 with consecutive
// offsets. This implementation is safe for concurrent use.
type Queue struct {
	messages chan *queue.Message
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup

	// sendMu keeps channel order equal to offset order.
	sendMu     sync.Mutex
	nextOffset int64

	commitMu  sync.Mutex
	committed map[int]int64
}

// NewQueue creates a new in-memory queue with the specified buffer size.
// The buffer size determines how many messages can be queued before
// Publish blocks (or fails if the context is canceled).
func NewQueue(bufferSize int) *Queue {
	return &Queue{
		messages:  make(chan *queue.Message, bufferSize),
		committed: make(map[int]int64),
	}
}

// Publish sends a message to the in-memory queue.
// This method blocks if the queue is full until space is available
// or the context is canceled.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	m := *msg
	m.Topic = "memory"
	m.Partition = 0
	m.Offset = q.nextOffset
	m.Time = time.Now()

	select {
	case q.messages <- &m:
		q.nextOffset++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins consuming messages and calls the handler for each one.
// It returns nil once the queue is closed and drained.
func (q *Queue) Start(ctx context.Context, handler queue.MessageHandler) error {
	q.wg.Add(1)
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-q.messages:
			if !ok {
				// Channel closed
				return nil
			}
			metrics.QueueDepth.Set(float64(len(q.messages)))
			if err := handler(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// Commit records the processed offsets.
func (q *Queue) Commit(_ context.Context, offsets map[int]int64) error {
	q.commitMu.Lock()
	defer q.commitMu.Unlock()

	for p, o := range offsets {
		if cur, ok := q.committed[p]; !ok || o > cur {
			q.committed[p] = o
		}
	}
	return nil
}

// Committed returns a copy of the committed offsets.
func (q *Queue) Committed() map[int]int64 {
	q.commitMu.Lock()
	defer q.commitMu.Unlock()
	return maps.Clone(q.committed)
}

// CloseInput stops accepting new messages. Consumers drain what is
// buffered and then return nil, signalling end of stream.
func (q *Queue) CloseInput() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.messages)
}

// Close shuts down the queue and waits for consumers to return.
func (q *Queue) Close() error {
	q.CloseInput()
	q.wg.Wait()
	return nil
}

// Len returns the current number of messages in the queue.
// Useful for testing to verify queue state.
func (q *Queue) Len() int {
	return len(q.messages)
}
