// Package memory provides the bounded in-process queue that feeds scheduler
// workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/feed-ingestor/internal/ingest"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of feed sources with context-aware
// operations.
type Queue struct {
	ch      chan ingest.FeedSource
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan ingest.FeedSource, capacity),
	}
}

// Enqueue pushes a source into the queue or returns if the context ends.
// Enqueueing on a closed queue returns ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, src ingest.FeedSource) (err error) {
	q.closeMu.Lock()
	closed := q.closed
	q.closeMu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	defer func() {
		// Close raced with a blocked send.
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- src:
		return nil
	}
}

// Dequeue pops the next source, respecting context cancellation. Sources
// already queued are still delivered after Close.
func (q *Queue) Dequeue(ctx context.Context) (ingest.FeedSource, error) {
	select {
	case <-ctx.Done():
		return ingest.FeedSource{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case src, ok := <-q.ch:
		if !ok {
			return ingest.FeedSource{}, ErrQueueClosed
		}
		return src, nil
	}
}

// Len reports the number of queued sources.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
