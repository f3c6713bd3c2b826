package ingest

import (
	"context"

	"github.com/banshee-data/pothole.report/internal/hits"
)

// RecordQueue is the admission buffer between request handling and the
// storage consumer. Put blocks while the queue is full; this backpressure is
// the only throttling mechanism on the ingest path.
type RecordQueue interface {
	// Put enqueues a record, blocking while the queue is full. It returns
	// the context error if ctx is cancelled before space frees.
	Put(ctx context.Context, rec *hits.ServerHitRecord) error

	// Get dequeues one record, blocking while the queue is empty. It
	// returns the context error if ctx is cancelled first.
	Get(ctx context.Context) (*hits.ServerHitRecord, error)

	// Len returns the current depth without blocking.
	Len() int
}

// ChannelQueue is a RecordQueue backed by a fixed-capacity buffered channel.
type ChannelQueue struct {
	ch chan *hits.ServerHitRecord
}

// DefaultQueueCapacity bounds the queue when the configured capacity is
// missing or invalid.
const DefaultQueueCapacity = 10_000

// NewChannelQueue creates a queue with the given capacity.
func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ChannelQueue{ch: make(chan *hits.ServerHitRecord, capacity)}
}

// Put enqueues rec, waiting for space until ctx is cancelled.
func (q *ChannelQueue) Put(ctx context.Context, rec *hits.ServerHitRecord) error {
	select {
	case q.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues one record, waiting until one is available or ctx is cancelled.
func (q *ChannelQueue) Get(ctx context.Context) (*hits.ServerHitRecord, error) {
	select {
	case rec := <-q.ch:
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the current queue depth.
func (q *ChannelQueue) Len() int {
	return len(q.ch)
}
