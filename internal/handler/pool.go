package handler

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/queue"
)

// DefaultDequeueTimeout bounds how long a worker waits before rechecking its
// context.
const DefaultDequeueTimeout = 100 * time.Millisecond

// Pool runs N workers that share one queue and one Handler.
type Pool struct {
	handler *Handler
	queue   *queue.Queue
	workers int
	timeout time.Duration
	logger  log.Logger
}

// NewPool creates a pool. workers below 1 means 1.
func NewPool(h *Handler, q *queue.Queue, workers int, timeout time.Duration, logger log.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = DefaultDequeueTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Pool{
		handler: h,
		queue:   q,
		workers: workers,
		timeout: timeout,
		logger:  logger,
	}
}

// Run blocks until ctx is done or the queue is closed and drained.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Infof("starting %d handler workers on queue %s", p.workers, p.queue.Name())

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()

	st := p.handler.Stats()
	p.logger.WithFields(map[string]interface{}{
		"received":    st.Received,
		"handled":     st.Handled,
		"non_ipv4":    st.NonIPv4,
		"malformed":   st.Malformed,
		"unsupported": st.Unsupported,
	}).Info("handler workers stopped")
}

func (p *Pool) work(ctx context.Context, id int) {
	for ctx.Err() == nil {
		pkt, ok := p.queue.Dequeue(p.timeout)
		if !ok {
			if p.queue.Drained() {
				return
			}
			if id == 0 {
				p.queue.ReportDepth()
			}
			continue
		}
		p.handler.Handle(pkt)
	}
}
