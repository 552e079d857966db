// Package traffic implements the per-interface microflow table.
package traffic

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/stats"
)

// Name is the table's label in metrics and cleaner logs.
const Name = "traffic"

const windowBuckets = 10

// Key identifies a directional microflow.
type Key struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol string
}

// Observation is one packet accounted against a microflow.
type Observation struct {
	Key   Key
	Size  int
	Time  time.Time
	Class core.Classification
}

// Stat is a point-in-time copy of a microflow's counters.
type Stat struct {
	Key           Key
	Class         core.Classification
	Resolution    time.Duration
	BytesPerSec   float64
	PacketsPerSec float64
	WindowBytes   uint64
	WindowPackets uint64
	TotalBytes    uint64
	TotalPackets  uint64
	FirstSeen     time.Time
	LastSeen      time.Time
}

type element struct {
	bytes        stats.Window
	class        core.Classification
	totalBytes   uint64
	totalPackets uint64
	first        time.Time
	last         time.Time
}

// Options configures a Table.
type Options struct {
	Window   time.Duration // Averaging resolution
	Validity time.Duration // Idle time before an entry may be evicted
}

// Table holds microflows keyed by interface, then by Key. One mutex guards
// the whole table.
type Table struct {
	mu       sync.Mutex
	flows    map[string]map[Key]*element
	window   time.Duration
	validity time.Duration
}

// New creates an empty table.
func New(opts Options) *Table {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Second
	}
	if opts.Validity <= 0 {
		opts.Validity = 5 * time.Second
	}
	return &Table{
		flows:    make(map[string]map[Key]*element),
		window:   opts.Window,
		validity: opts.Validity,
	}
}

// Put accounts obs against its microflow on iface, creating it on first sight.
func (t *Table) Put(iface string, obs Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byKey, ok := t.flows[iface]
	if !ok {
		byKey = make(map[Key]*element)
		t.flows[iface] = byKey
	}
	e, ok := byKey[obs.Key]
	if !ok {
		e = &element{
			bytes: stats.NewWindow(t.window, windowBuckets),
			first: obs.Time,
		}
		byKey[obs.Key] = e
	}

	e.bytes.Add(obs.Time, float64(obs.Size))
	e.class = obs.Class
	e.totalBytes += uint64(obs.Size)
	e.totalPackets++
	if obs.Time.After(e.last) {
		e.last = obs.Time
	}
}

// Lookup returns the stat of one microflow as of now.
func (t *Table) Lookup(iface string, key Key, now time.Time) (Stat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.flows[iface][key]
	if !ok {
		return Stat{}, false
	}
	return e.stat(key, now), true
}

// Snapshot copies the non-expired microflows of iface, ordered by key.
func (t *Table) Snapshot(iface string, now time.Time) []Stat {
	t.mu.Lock()
	out := make([]Stat, 0, len(t.flows[iface]))
	for k, e := range t.flows[iface] {
		if t.expired(e, now) {
			continue
		}
		out = append(out, e.stat(k, now))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// Interfaces returns the interfaces that have at least one microflow.
func (t *Table) Interfaces() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.flows))
	for n := range t.flows {
		names = append(names, n)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return names
}

// Len returns the number of microflows across all interfaces.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, byKey := range t.flows {
		n += len(byKey)
	}
	return n
}

// Name implements cleaner.Cleanable.
func (t *Table) Name() string { return Name }

// Clean removes at most budget microflows idle for longer than the validity
// window and returns how many it removed.
func (t *Table) Clean(now time.Time, budget int) int {
	if budget <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for iface, byKey := range t.flows {
		for k, e := range byKey {
			if !t.expired(e, now) {
				continue
			}
			delete(byKey, k)
			removed++
			if removed == budget {
				break
			}
		}
		if len(byKey) == 0 {
			delete(t.flows, iface)
		}
		if removed == budget {
			break
		}
	}
	return removed
}

func (t *Table) expired(e *element, now time.Time) bool {
	return now.Sub(e.last) > t.validity
}

func (e *element) stat(k Key, now time.Time) Stat {
	return Stat{
		Key:           k,
		Class:         e.class,
		Resolution:    e.bytes.Size(),
		BytesPerSec:   e.bytes.PerSecond(now),
		PacketsPerSec: float64(e.bytes.Count(now)) / e.bytes.Size().Seconds(),
		WindowBytes:   uint64(e.bytes.Sum(now)),
		WindowPackets: e.bytes.Count(now),
		TotalBytes:    e.totalBytes,
		TotalPackets:  e.totalPackets,
		FirstSeen:     e.first,
		LastSeen:      e.last,
	}
}
