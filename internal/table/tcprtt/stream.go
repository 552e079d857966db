package tcprtt

import (
	"net/netip"
	"time"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/stats"
)

// StreamKey identifies a TCP stream from this node's point of view.
type StreamKey struct {
	LocalIP    netip.Addr
	LocalPort  uint16
	RemoteIP   netip.Addr
	RemotePort uint16
}

// FinState is the state of the connection-close handshake.
type FinState uint8

const (
	FinNotStarted FinState = iota
	FinInitiated
	FinComplete
)

func (s FinState) String() string {
	switch s {
	case FinInitiated:
		return "initiated"
	case FinComplete:
		return "complete"
	default:
		return "not_started"
	}
}

// CloseReason records why a stream was closed.
type CloseReason uint8

const (
	Open CloseReason = iota
	ClosedByRST
	ClosedByFIN
)

func (r CloseReason) String() string {
	switch r {
	case ClosedByRST:
		return "rst"
	case ClosedByFIN:
		return "fin"
	default:
		return "open"
	}
}

// probe is an outgoing data segment awaiting its acknowledgement.
type probe struct {
	seq           uint32
	expectedAck   uint32
	sent          time.Time
	retransmitted bool
}

// finHalf tracks one direction's FIN.
type finHalf struct {
	seen  bool
	seq   uint32 // Sequence number the FIN occupies
	acked bool
}

type stream struct {
	probes  []probe
	nextSeq uint32 // Highest expectedAck recorded so far
	hasNext bool

	fin    FinState
	local  finHalf
	remote finHalf
	closed CloseReason

	class  core.Classification
	rtt    stats.Summary
	window stats.Window // RTT samples in microseconds

	first time.Time
	last  time.Time
}

// seqLEQ compares sequence numbers with wraparound.
func seqLEQ(a, b uint32) bool {
	return int32(b-a) >= 0
}

func seqLess(a, b uint32) bool {
	return int32(b-a) > 0
}

// record adds an outgoing data segment. A segment repeating a pending or
// already acknowledged sequence number is a retransmission.
func (s *stream) record(seq, end uint32, ts time.Time, maxProbes int) {
	for i := range s.probes {
		if s.probes[i].seq == seq {
			s.probes[i].retransmitted = true
			if seqLess(s.probes[i].expectedAck, end) {
				s.probes[i].expectedAck = end
			}
			return
		}
	}
	if s.hasNext && seqLess(seq, s.nextSeq) {
		// Overlaps data already sent; any ACK for it is ambiguous.
		return
	}

	if len(s.probes) >= maxProbes {
		n := len(s.probes) - maxProbes + 1
		s.probes = append(s.probes[:0], s.probes[n:]...)
	}
	s.probes = append(s.probes, probe{seq: seq, expectedAck: end, sent: ts})
	s.nextSeq = end
	s.hasNext = true
}

// acknowledge retires every probe covered by ack. It returns the RTT sample
// when ack exactly matches a probe that was sent once.
func (s *stream) acknowledge(ack uint32, ts time.Time) (time.Duration, bool) {
	var sample time.Duration
	var ok bool

	n := 0
	for _, p := range s.probes {
		if !seqLEQ(p.expectedAck, ack) {
			break
		}
		if p.expectedAck == ack && !p.retransmitted && !ts.Before(p.sent) {
			sample, ok = ts.Sub(p.sent), true
		}
		n++
	}
	if n > 0 {
		s.probes = append(s.probes[:0], s.probes[n:]...)
	}
	return sample, ok
}

// observeFin advances the close handshake. outgoing tells which half the
// segment belongs to; finSeq is the sequence number of a FIN it carries.
func (s *stream) observeFin(outgoing, hasFin, hasAck bool, finSeq, ack uint32) {
	if hasFin {
		half := &s.remote
		if outgoing {
			half = &s.local
		}
		if !half.seen {
			half.seen = true
			half.seq = finSeq
		}
		if s.fin == FinNotStarted {
			s.fin = FinInitiated
		}
	}

	if hasAck {
		// An ACK covers the peer's FIN.
		peer := &s.local
		if outgoing {
			peer = &s.remote
		}
		if peer.seen && seqLess(peer.seq, ack) {
			peer.acked = true
		}
	}

	if s.fin == FinInitiated && s.local.acked && s.remote.acked {
		s.fin = FinComplete
		s.closed = ClosedByFIN
	}
}

// evictable reports whether the cleaner may drop the stream.
func (s *stream) evictable(now time.Time, validity time.Duration) bool {
	if s.closed != Open && len(s.probes) == 0 {
		return true
	}
	return now.Sub(s.last) > validity
}
