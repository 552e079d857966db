// Package queue implements the bounded packet queues between interface
// monitors and handlers.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/metrics"
)

// Options configures a Queue.
type Options struct {
	Name     string
	Capacity int
	// Backoff switches Enqueue from blocking to retry-with-backoff polling.
	// Zero blocks until space frees up.
	Backoff time.Duration
}

// Queue is a bounded FIFO of captured packets.
type Queue struct {
	name    string
	ch      chan core.CapturedPacket
	backoff time.Duration

	closeOnce sync.Once
	closed    chan struct{}

	waits atomic.Uint64
}

// New creates a queue. A non-positive capacity is treated as 1.
func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	if opts.Name == "" {
		opts.Name = "primary"
	}
	return &Queue{
		name:    opts.Name,
		ch:      make(chan core.CapturedPacket, opts.Capacity),
		backoff: opts.Backoff,
		closed:  make(chan struct{}),
	}
}

// Name returns the queue's label.
func (q *Queue) Name() string { return q.name }

// TryEnqueue adds p without blocking. It returns false when the queue is full
// or closed.
func (q *Queue) TryEnqueue(p core.CapturedPacket) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- p:
		return true
	default:
		return false
	}
}

// Enqueue adds p, waiting while the queue is full. It never drops: it returns
// only once p is queued, ctx is done, or the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, p core.CapturedPacket) error {
	if q.TryEnqueue(p) {
		return nil
	}
	if err := q.checkOpen(); err != nil {
		return err
	}

	q.waits.Add(1)
	metrics.QueueBackpressureTotal.WithLabelValues(q.name).Inc()

	if q.backoff > 0 {
		return q.enqueuePolling(ctx, p)
	}

	select {
	case q.ch <- p:
		return nil
	case <-q.closed:
		return core.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) enqueuePolling(ctx context.Context, p core.CapturedPacket) error {
	ticker := time.NewTicker(q.backoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return core.ErrQueueClosed
		case <-ticker.C:
			if q.TryEnqueue(p) {
				return nil
			}
		}
	}
}

func (q *Queue) checkOpen() error {
	select {
	case <-q.closed:
		return core.ErrQueueClosed
	default:
		return nil
	}
}

// Dequeue waits up to timeout for a packet. ok is false on timeout, or when
// the queue is closed and drained.
func (q *Queue) Dequeue(timeout time.Duration) (core.CapturedPacket, bool) {
	select {
	case p := <-q.ch:
		return p, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-q.ch:
		return p, true
	case <-q.closed:
		// Drain what is left after close.
		select {
		case p := <-q.ch:
			return p, true
		default:
			return core.CapturedPacket{}, false
		}
	case <-timer.C:
		return core.CapturedPacket{}, false
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// BackpressureWaits returns how many Enqueue calls found the queue full.
func (q *Queue) BackpressureWaits() uint64 { return q.waits.Load() }

// Close stops accepting packets. Queued packets stay available to Dequeue.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	return q.checkOpen() != nil
}

// Drained reports whether the queue is closed and empty.
func (q *Queue) Drained() bool {
	return q.Closed() && q.Len() == 0
}

// ReportDepth publishes the current depth gauge.
func (q *Queue) ReportDepth() {
	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(q.Len()))
}
