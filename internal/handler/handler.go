// Package handler implements the per-packet processing steps: decode,
// topology update, traffic accounting and dispatch to the ICMP and RTT
// tables.
package handler

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"firestige.xyz/netsensor/internal/classify"
	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/core/decoder"
	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/metrics"
	"firestige.xyz/netsensor/internal/netset"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
)

// Step names used in logs and metrics.
const (
	StepTopology = "topology"
	StepTraffic  = "traffic"
	StepICMP     = "icmp"
	StepRTT      = "rtt"
)

// DefaultSlowThreshold is the step duration above which a warning is logged.
const DefaultSlowThreshold = 50 * time.Millisecond

// Options wires a Handler to its tables. ICMP and RTT are optional: leave them
// nil to disable the step. RTT should also stay nil when a dedicated RTT queue
// feeds an RTTWorker.
type Options struct {
	Registry       *registry.Registry
	Tracker        *topology.Tracker
	Traffic        *traffic.Table
	ICMP           *icmp.Table
	RTT            *tcprtt.Table
	Multicast      *netset.Set
	CountMulticast bool
	SlowThreshold  time.Duration
	Logger         log.Logger
}

// Handler runs the processing steps for one frame at a time. It is safe for
// concurrent use by several workers.
type Handler struct {
	registry       *registry.Registry
	decoder        *decoder.StandardDecoder
	tracker        *topology.Tracker
	traffic        *traffic.Table
	icmp           *icmp.Table
	rtt            *tcprtt.Table
	multicast      *netset.Set
	countMulticast bool
	slow           time.Duration
	logger         log.Logger

	counters counters
}

type counters struct {
	Received    atomic.Uint64
	Handled     atomic.Uint64
	NonIPv4     atomic.Uint64
	Malformed   atomic.Uint64
	Unsupported atomic.Uint64
	Unknown     atomic.Uint64
	Panics      atomic.Uint64
	SlowSteps   atomic.Uint64
}

// Stats are the handler counters.
type Stats struct {
	Received    uint64
	Handled     uint64
	NonIPv4     uint64
	Malformed   uint64
	Unsupported uint64
	Unknown     uint64
	Panics      uint64
	SlowSteps   uint64
}

// New creates a handler.
func New(opts Options) *Handler {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Multicast == nil {
		opts.Multicast = netset.MustNew(netset.DefaultMulticast)
	}
	return &Handler{
		registry:       opts.Registry,
		decoder:        decoder.NewStandardDecoder(),
		tracker:        opts.Tracker,
		traffic:        opts.Traffic,
		icmp:           opts.ICMP,
		rtt:            opts.RTT,
		multicast:      opts.Multicast,
		countMulticast: opts.CountMulticast,
		slow:           opts.SlowThreshold,
		logger:         opts.Logger,
	}
}

// Handle processes one captured frame.
func (h *Handler) Handle(pkt core.CapturedPacket) {
	h.counters.Received.Add(1)

	desc, ok := h.registry.Get(pkt.Interface)
	if !ok {
		h.counters.Unknown.Add(1)
		metrics.HandlerDropsTotal.WithLabelValues(metrics.DropUnknownInterface).Inc()
		h.logger.Debugf("frame from unregistered interface %q", pkt.Interface)
		return
	}

	p, err := h.decoder.Decode(pkt)
	switch {
	case errors.Is(err, core.ErrNotIPv4):
		h.counters.NonIPv4.Add(1)
		metrics.HandlerDropsTotal.WithLabelValues(metrics.DropNonIPv4).Inc()
		if h.logger.IsTraceEnabled() {
			h.logger.Tracef("%s: ethertype 0x%04x ignored", pkt.Interface, p.Ethernet.EtherType)
		}
		return
	case err != nil:
		h.counters.Malformed.Add(1)
		metrics.HandlerDropsTotal.WithLabelValues(metrics.DropMalformed).Inc()
		h.logger.Debugf("%s: %v", pkt.Interface, err)
		return
	}

	h.step(StepTopology, func() { h.updateTopology(desc, &p) })

	if p.TransportErr != nil {
		if errors.Is(p.TransportErr, core.ErrUnsupportedProto) {
			h.counters.Unsupported.Add(1)
			metrics.HandlerDropsTotal.WithLabelValues(metrics.DropUnsupported).Inc()
		} else {
			h.counters.Malformed.Add(1)
			metrics.HandlerDropsTotal.WithLabelValues(metrics.DropMalformed).Inc()
		}
		return
	}

	class := classify.Direction(desc, p.Ethernet.SrcMAC, p.Ethernet.DstMAC, p.IP.DstIP, h.multicast)
	h.step(StepTraffic, func() { h.updateTraffic(desc, &p, class) })

	switch p.IP.Protocol {
	case core.ProtoICMP:
		if h.icmp != nil {
			h.step(StepICMP, func() { h.icmp.Put(&p) })
		}
	case core.ProtoTCP:
		if h.rtt != nil {
			h.step(StepRTT, func() { observeRTT(h.rtt, desc, &p, class) })
		}
	}
	h.counters.Handled.Add(1)
}

func (h *Handler) updateTopology(desc core.InterfaceDescriptor, p *core.DecodedPacket) {
	side := classify.Locate(desc, p.IP.SrcIP, p.Ethernet.SrcMAC)
	if side == classify.Excluded {
		return
	}
	h.tracker.Observe(desc.Name, p.IP.SrcIP, p.Ethernet.SrcMAC, side == classify.Internal, p.Timestamp)
}

func (h *Handler) updateTraffic(desc core.InterfaceDescriptor, p *core.DecodedPacket, class core.Classification) {
	if !h.countMulticast && h.multicast.Contains(p.IP.DstIP) {
		return
	}
	key, ok := traffic.KeyOf(p)
	if !ok {
		return
	}
	h.traffic.Put(desc.Name, traffic.Observation{
		Key:   key,
		Size:  p.Length,
		Time:  p.Timestamp,
		Class: class,
	})
}

// step runs fn with panic recovery and latency accounting.
func (h *Handler) step(name string, fn func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.counters.Panics.Add(1)
			metrics.HandlerDropsTotal.WithLabelValues(metrics.DropPanic).Inc()
			h.logger.WithField("step", name).WithError(fmt.Errorf("%v", r)).Error("step panicked")
		}

		took := time.Since(start)
		metrics.HandlerStepSeconds.WithLabelValues(name).Observe(took.Seconds())
		if took > h.slow {
			h.counters.SlowSteps.Add(1)
			metrics.HandlerSlowStepsTotal.WithLabelValues(name).Inc()
			h.logger.Warnf("%s step took %s (threshold %s)", name, took, h.slow)
		}
	}()
	fn()
}

// Stats returns a copy of the counters.
func (h *Handler) Stats() Stats {
	c := &h.counters
	return Stats{
		Received:    c.Received.Load(),
		Handled:     c.Handled.Load(),
		NonIPv4:     c.NonIPv4.Load(),
		Malformed:   c.Malformed.Load(),
		Unsupported: c.Unsupported.Load(),
		Unknown:     c.Unknown.Load(),
		Panics:      c.Panics.Load(),
		SlowSteps:   c.SlowSteps.Load(),
	}
}

// observeRTT feeds a TCP segment to the RTT table and publishes any sample.
func observeRTT(t *tcprtt.Table, desc core.InterfaceDescriptor, p *core.DecodedPacket, class core.Classification) {
	rtt, ok := t.Put(desc, p, class)
	if !ok {
		return
	}
	metrics.RTTSamplesTotal.WithLabelValues(desc.Name).Inc()
	metrics.RTTSeconds.Observe(rtt.Seconds())
}
