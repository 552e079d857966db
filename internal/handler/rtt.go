package handler

import (
	"context"
	"time"

	"firestige.xyz/netsensor/internal/classify"
	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/core/decoder"
	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/netset"
	"firestige.xyz/netsensor/internal/queue"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/table/tcprtt"
)

// RTTWorker owns the dedicated RTT queue: it decodes TCP segments and feeds
// them to the RTT table. Everything that is not TCP is ignored.
type RTTWorker struct {
	registry  *registry.Registry
	queue     *queue.Queue
	table     *tcprtt.Table
	decoder   *decoder.StandardDecoder
	multicast *netset.Set
	timeout   time.Duration
	logger    log.Logger
}

// NewRTTWorker creates the worker.
func NewRTTWorker(reg *registry.Registry, q *queue.Queue, t *tcprtt.Table, multicast *netset.Set, timeout time.Duration, logger log.Logger) *RTTWorker {
	if timeout <= 0 {
		timeout = DefaultDequeueTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &RTTWorker{
		registry:  reg,
		queue:     q,
		table:     t,
		decoder:   decoder.NewStandardDecoder(),
		multicast: multicast,
		timeout:   timeout,
		logger:    logger,
	}
}

// Run blocks until ctx is done or the queue is closed and drained.
func (w *RTTWorker) Run(ctx context.Context) {
	w.logger.Infof("rtt worker started on queue %s", w.queue.Name())
	defer w.logger.Info("rtt worker stopped")

	for ctx.Err() == nil {
		pkt, ok := w.queue.Dequeue(w.timeout)
		if !ok {
			if w.queue.Drained() {
				return
			}
			w.queue.ReportDepth()
			continue
		}
		w.Handle(pkt)
	}
}

// Handle processes one frame.
func (w *RTTWorker) Handle(pkt core.CapturedPacket) {
	desc, ok := w.registry.Get(pkt.Interface)
	if !ok {
		return
	}
	p, err := w.decoder.DecodeTCP(pkt)
	if err != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("rtt update panicked: %v", r)
		}
	}()
	class := classify.Direction(desc, p.Ethernet.SrcMAC, p.Ethernet.DstMAC, p.IP.DstIP, w.multicast)
	observeRTT(w.table, desc, &p, class)
}
