// Package tcprtt estimates TCP round-trip times from passively observed
// streams by pairing outgoing data segments with the ACKs that cover them.
package tcprtt

import (
	"sort"
	"sync"
	"time"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/stats"
)

// Name is the table's label in metrics and cleaner logs.
const Name = "rtt"

// DefaultMaxProbes bounds the pending probes of one stream.
const DefaultMaxProbes = 1024

const windowBuckets = 10

// Options configures a Table.
type Options struct {
	Window    time.Duration
	Validity  time.Duration
	MaxProbes int
	Matcher   *Matcher
}

// Stat is a point-in-time copy of a stream.
type Stat struct {
	Key        StreamKey
	Class      core.Classification
	Min        time.Duration
	Max        time.Duration
	Last       time.Duration
	Mean       time.Duration
	WindowMean time.Duration
	Samples    uint64
	Pending    int
	Fin        FinState
	Closed     CloseReason
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Table holds streams keyed by interface, then by StreamKey.
type Table struct {
	mu        sync.Mutex
	streams   map[string]map[StreamKey]*stream
	window    time.Duration
	validity  time.Duration
	maxProbes int
	matcher   *Matcher
}

// New creates an empty table.
func New(opts Options) *Table {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Second
	}
	if opts.Validity <= 0 {
		opts.Validity = 5 * time.Second
	}
	if opts.MaxProbes <= 0 {
		opts.MaxProbes = DefaultMaxProbes
	}
	return &Table{
		streams:   make(map[string]map[StreamKey]*stream),
		window:    opts.Window,
		validity:  opts.Validity,
		maxProbes: opts.MaxProbes,
		matcher:   opts.Matcher,
	}
}

// KeyOf orients a TCP segment relative to the interface. It reports whether
// the segment is incoming.
func KeyOf(desc core.InterfaceDescriptor, p *core.DecodedPacket) (StreamKey, bool) {
	incoming := p.IP.SrcIP != desc.IP
	if incoming {
		return StreamKey{
			LocalIP:    p.IP.DstIP,
			LocalPort:  p.Transport.DstPort,
			RemoteIP:   p.IP.SrcIP,
			RemotePort: p.Transport.SrcPort,
		}, true
	}
	return StreamKey{
		LocalIP:    p.IP.SrcIP,
		LocalPort:  p.Transport.SrcPort,
		RemoteIP:   p.IP.DstIP,
		RemotePort: p.Transport.DstPort,
	}, false
}

// Put feeds one TCP segment seen on desc. It returns the RTT sample the
// segment completed, if any.
func (t *Table) Put(desc core.InterfaceDescriptor, p *core.DecodedPacket, class core.Classification) (time.Duration, bool) {
	if p.Transport.Protocol != core.ProtoTCP {
		return 0, false
	}
	key, incoming := KeyOf(desc, p)
	if !t.matcher.Match(key) {
		return 0, false
	}
	tcp := &p.Transport
	flags := tcp.TCPFlags
	ts := p.Timestamp

	t.mu.Lock()
	defer t.mu.Unlock()

	byKey := t.streams[desc.Name]
	s, ok := byKey[key]
	if !ok {
		dataOut := !incoming && flags.Has(core.TCPFlagPSH) && tcp.PayloadLen > 0
		if !dataOut && !t.matcher.Explicit() {
			return 0, false
		}
		if byKey == nil {
			byKey = make(map[StreamKey]*stream)
			t.streams[desc.Name] = byKey
		}
		s = &stream{
			window: stats.NewWindow(t.window, windowBuckets),
			first:  ts,
		}
		byKey[key] = s
	}
	if ts.After(s.last) {
		s.last = ts
	}
	s.class = class

	if s.closed != Open {
		return 0, false
	}
	if flags.Has(core.TCPFlagRST) {
		s.closed = ClosedByRST
		s.probes = nil
		return 0, false
	}

	var sample time.Duration
	var sampled bool
	switch {
	case !incoming && flags.Has(core.TCPFlagPSH) && tcp.PayloadLen > 0:
		s.record(tcp.SeqNum, tcp.SeqNum+uint32(tcp.PayloadLen), ts, t.maxProbes)
	case incoming && flags.Has(core.TCPFlagACK):
		sample, sampled = s.acknowledge(tcp.AckNum, ts)
	}
	if sampled {
		s.rtt.Observe(sample)
		s.window.Add(ts, float64(sample.Microseconds()))
	}

	// The FIN occupies the sequence number right after the segment's data.
	s.observeFin(!incoming, flags.Has(core.TCPFlagFIN), flags.Has(core.TCPFlagACK),
		tcp.SeqNum+uint32(tcp.PayloadLen), tcp.AckNum)
	return sample, sampled
}

// Snapshot copies the streams of iface seen within the validity window,
// ordered by key.
func (t *Table) Snapshot(iface string, now time.Time) []Stat {
	t.mu.Lock()
	out := make([]Stat, 0, len(t.streams[iface]))
	for k, s := range t.streams[iface] {
		if now.Sub(s.last) > t.validity {
			continue
		}
		out = append(out, s.stat(k, now))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// Lookup returns one stream as of now.
func (t *Table) Lookup(iface string, key StreamKey, now time.Time) (Stat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[iface][key]
	if !ok {
		return Stat{}, false
	}
	return s.stat(key, now), true
}

// Interfaces returns the interfaces with at least one stream.
func (t *Table) Interfaces() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.streams))
	for n := range t.streams {
		names = append(names, n)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return names
}

// Len returns the number of streams across all interfaces.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, byKey := range t.streams {
		n += len(byKey)
	}
	return n
}

// Name implements cleaner.Cleanable.
func (t *Table) Name() string { return Name }

// Clean removes at most budget streams that are closed with nothing pending
// or idle past the validity window.
func (t *Table) Clean(now time.Time, budget int) int {
	if budget <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for iface, byKey := range t.streams {
		for k, s := range byKey {
			if !s.evictable(now, t.validity) {
				continue
			}
			delete(byKey, k)
			removed++
			if removed == budget {
				break
			}
		}
		if len(byKey) == 0 {
			delete(t.streams, iface)
		}
		if removed == budget {
			break
		}
	}
	return removed
}

func (s *stream) stat(k StreamKey, now time.Time) Stat {
	return Stat{
		Key:        k,
		Class:      s.class,
		Min:        s.rtt.Min,
		Max:        s.rtt.Max,
		Last:       s.rtt.Last,
		Mean:       s.rtt.Mean(),
		WindowMean: time.Duration(s.window.Mean(now)) * time.Microsecond,
		Samples:    s.rtt.Count,
		Pending:    len(s.probes),
		Fin:        s.fin,
		Closed:     s.closed,
		FirstSeen:  s.first,
		LastSeen:   s.last,
	}
}

func (k StreamKey) less(o StreamKey) bool {
	if c := k.LocalIP.Compare(o.LocalIP); c != 0 {
		return c < 0
	}
	if k.LocalPort != o.LocalPort {
		return k.LocalPort < o.LocalPort
	}
	if c := k.RemoteIP.Compare(o.RemoteIP); c != 0 {
		return c < 0
	}
	return k.RemotePort < o.RemotePort
}
