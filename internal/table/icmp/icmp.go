// Package icmp implements the per-interface ICMP activity table.
package icmp

import (
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/core/decoder"
	"firestige.xyz/netsensor/internal/stats"
)

// Name is the table's label in metrics and cleaner logs.
const Name = "icmp"

const windowBuckets = 10

// Key is the type signature of an ICMP entry.
type Key struct {
	SrcIP netip.Addr
	DstIP netip.Addr
	Type  uint8
	Code  uint8
}

// Details are the fields of the most recent message of an entry.
type Details struct {
	SrcMAC     net.HardwareAddr
	DstMAC     net.HardwareAddr
	Identifier uint16
	Sequence   uint16
	Pointer    uint8

	OriginateTimestamp uint32
	ReceiveTimestamp   uint32
	TransmitTimestamp  uint32

	Embedded *core.EmbeddedDatagram
}

// Stat is a point-in-time copy of an entry.
type Stat struct {
	Key           Key
	Details       Details
	PacketsPerSec float64
	WindowCount   uint64
	Total         uint64
	Extra         map[netip.Addr]uint32 // Embedded address -> times seen
	FirstSeen     time.Time
	LastSeen      time.Time
}

type container struct {
	count   stats.Window
	total   uint64
	details Details
	extra   map[netip.Addr]uint32
	first   time.Time
	last    time.Time
}

// Options configures a Table.
type Options struct {
	Window   time.Duration
	Validity time.Duration
}

// Table holds ICMP entries keyed by interface, then by type signature.
type Table struct {
	mu       sync.Mutex
	entries  map[string]map[Key]*container
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
		entries:  make(map[string]map[Key]*container),
		window:   opts.Window,
		validity: opts.Validity,
	}
}

// Put accounts an ICMP message. p must carry a decoded ICMP header.
func (t *Table) Put(p *core.DecodedPacket) {
	key := Key{
		SrcIP: p.IP.SrcIP,
		DstIP: p.IP.DstIP,
		Type:  p.ICMP.Type,
		Code:  p.ICMP.Code,
	}
	extra, hasExtra := extraAddress(&p.ICMP)

	t.mu.Lock()
	defer t.mu.Unlock()

	byKey, ok := t.entries[p.Interface]
	if !ok {
		byKey = make(map[Key]*container)
		t.entries[p.Interface] = byKey
	}
	c, ok := byKey[key]
	if !ok {
		c = &container{
			count: stats.NewWindow(t.window, windowBuckets),
			first: p.Timestamp,
		}
		byKey[key] = c
	}

	c.count.Add(p.Timestamp, 1)
	c.total++
	c.details = Details{
		SrcMAC:             p.Ethernet.SrcMAC,
		DstMAC:             p.Ethernet.DstMAC,
		Identifier:         p.ICMP.Identifier,
		Sequence:           p.ICMP.Sequence,
		Pointer:            p.ICMP.Pointer,
		OriginateTimestamp: p.ICMP.OriginateTimestamp,
		ReceiveTimestamp:   p.ICMP.ReceiveTimestamp,
		TransmitTimestamp:  p.ICMP.TransmitTimestamp,
		Embedded:           p.ICMP.Embedded,
	}
	if hasExtra {
		if c.extra == nil {
			c.extra = make(map[netip.Addr]uint32)
		}
		c.extra[extra]++
	}
	if p.Timestamp.After(c.last) {
		c.last = p.Timestamp
	}
}

// extraAddress picks the address a message carries about a third host: the
// gateway of a redirect, the mask of an address-mask reply, or the original
// destination quoted by an error.
func extraAddress(h *core.ICMPHeader) (netip.Addr, bool) {
	switch {
	case h.Type == decoder.ICMPRedirect, h.Type == decoder.ICMPAddressMaskReply:
		return h.Address, h.Address.IsValid()
	case decoder.IsICMPError(h.Type) && h.Embedded != nil:
		return h.Embedded.DstIP, h.Embedded.DstIP.IsValid()
	}
	return netip.Addr{}, false
}

// Snapshot copies the non-expired entries of iface, ordered by key.
func (t *Table) Snapshot(iface string, now time.Time) []Stat {
	t.mu.Lock()
	out := make([]Stat, 0, len(t.entries[iface]))
	for k, c := range t.entries[iface] {
		if now.Sub(c.last) > t.validity {
			continue
		}
		out = append(out, c.stat(k, now))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// Lookup returns one entry as of now.
func (t *Table) Lookup(iface string, key Key, now time.Time) (Stat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[iface][key]
	if !ok {
		return Stat{}, false
	}
	return c.stat(key, now), true
}

// Interfaces returns the interfaces with at least one entry.
func (t *Table) Interfaces() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.entries))
	for n := range t.entries {
		names = append(names, n)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return names
}

// Len returns the number of entries across all interfaces.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, byKey := range t.entries {
		n += len(byKey)
	}
	return n
}

// Name implements cleaner.Cleanable.
func (t *Table) Name() string { return Name }

// Clean removes at most budget entries idle past the validity window.
func (t *Table) Clean(now time.Time, budget int) int {
	if budget <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for iface, byKey := range t.entries {
		for k, c := range byKey {
			if now.Sub(c.last) <= t.validity {
				continue
			}
			delete(byKey, k)
			removed++
			if removed == budget {
				break
			}
		}
		if len(byKey) == 0 {
			delete(t.entries, iface)
		}
		if removed == budget {
			break
		}
	}
	return removed
}

func (c *container) stat(k Key, now time.Time) Stat {
	st := Stat{
		Key:           k,
		Details:       c.details,
		PacketsPerSec: float64(c.count.Count(now)) / c.count.Size().Seconds(),
		WindowCount:   c.count.Count(now),
		Total:         c.total,
		FirstSeen:     c.first,
		LastSeen:      c.last,
	}
	st.Details.SrcMAC = append(net.HardwareAddr(nil), c.details.SrcMAC...)
	st.Details.DstMAC = append(net.HardwareAddr(nil), c.details.DstMAC...)
	if c.details.Embedded != nil {
		emb := *c.details.Embedded
		st.Details.Embedded = &emb
	}
	if len(c.extra) > 0 {
		st.Extra = make(map[netip.Addr]uint32, len(c.extra))
		for a, n := range c.extra {
			st.Extra[a] = n
		}
	}
	return st
}

func (k Key) less(o Key) bool {
	if c := k.SrcIP.Compare(o.SrcIP); c != 0 {
		return c < 0
	}
	if c := k.DstIP.Compare(o.DstIP); c != 0 {
		return c < 0
	}
	if k.Type != o.Type {
		return k.Type < o.Type
	}
	return k.Code < o.Code
}
