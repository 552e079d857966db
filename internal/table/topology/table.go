// Package topology implements discovered-host tracking: the per-interface
// internal/external host table, its reverse-index cache, and the tracker
// that keeps the two consistent.
package topology

import (
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Name is the table's label in metrics and cleaner logs.
const Name = "topology"

// ExternalName labels the external half of the table.
const ExternalName = "topology_external"

// Entry is a discovered host.
type Entry struct {
	IP        netip.Addr
	MAC       net.HardwareAddr
	FirstSeen time.Time
	LastSeen  time.Time
}

func (e *Entry) clone() Entry {
	out := *e
	out.MAC = append(net.HardwareAddr(nil), e.MAC...)
	return out
}

type hosts map[netip.Addr]*Entry

// Options configures a Table.
type Options struct {
	InternalValidity time.Duration
	ExternalValidity time.Duration
}

// Table holds the internal and external host lists of every interface. For
// any interface an address is in at most one of the two lists.
type Table struct {
	mu               sync.Mutex
	internal         map[string]hosts
	external         map[string]hosts
	internalValidity time.Duration
	externalValidity time.Duration
}

// NewTable creates an empty table.
func NewTable(opts Options) *Table {
	if opts.InternalValidity <= 0 {
		opts.InternalValidity = 60 * time.Second
	}
	if opts.ExternalValidity <= 0 {
		opts.ExternalValidity = 5 * time.Second
	}
	return &Table{
		internal:         make(map[string]hosts),
		external:         make(map[string]hosts),
		internalValidity: opts.InternalValidity,
		externalValidity: opts.ExternalValidity,
	}
}

// PutInternal inserts or refreshes ip in the internal list of iface and
// removes it from that interface's external list.
func (t *Table) PutInternal(iface string, ip netip.Addr, mac net.HardwareAddr, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ext, ok := t.external[iface]; ok {
		delete(ext, ip)
		if len(ext) == 0 {
			delete(t.external, iface)
		}
	}
	upsert(t.internal, iface, ip, mac, ts)
}

// PutExternal inserts or refreshes ip in the external list of iface. It
// refuses, returning false, when ip is already internal on iface.
func (t *Table) PutExternal(iface string, ip netip.Addr, mac net.HardwareAddr, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.internal[iface][ip]; ok {
		return false
	}
	upsert(t.external, iface, ip, mac, ts)
	return true
}

// RemoveExternal drops ip from the external list of iface.
func (t *Table) RemoveExternal(iface string, ip netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ext, ok := t.external[iface]
	if !ok {
		return false
	}
	if _, ok := ext[ip]; !ok {
		return false
	}
	delete(ext, ip)
	if len(ext) == 0 {
		delete(t.external, iface)
	}
	return true
}

func upsert(lists map[string]hosts, iface string, ip netip.Addr, mac net.HardwareAddr, ts time.Time) {
	h, ok := lists[iface]
	if !ok {
		h = make(hosts)
		lists[iface] = h
	}
	e, ok := h[ip]
	if !ok {
		h[ip] = &Entry{
			IP:        ip,
			MAC:       append(net.HardwareAddr(nil), mac...),
			FirstSeen: ts,
			LastSeen:  ts,
		}
		return
	}
	if len(mac) > 0 {
		e.MAC = append(e.MAC[:0], mac...)
	}
	if ts.After(e.LastSeen) {
		e.LastSeen = ts
	}
}

// Lookup returns the entry for ip on iface and whether it is internal.
func (t *Table) Lookup(iface string, ip netip.Addr) (entry Entry, internal bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.internal[iface][ip]; ok {
		return e.clone(), true, true
	}
	if e, ok := t.external[iface][ip]; ok {
		return e.clone(), false, true
	}
	return Entry{}, false, false
}

// SnapshotInternal copies the internal hosts of iface seen within the
// internal validity window, ordered by address.
func (t *Table) SnapshotInternal(iface string, now time.Time) []Entry {
	return t.snapshot(t.internal, iface, now, t.internalValidity)
}

// SnapshotExternal copies the external hosts of iface seen within the
// external validity window, ordered by address.
func (t *Table) SnapshotExternal(iface string, now time.Time) []Entry {
	return t.snapshot(t.external, iface, now, t.externalValidity)
}

func (t *Table) snapshot(lists map[string]hosts, iface string, now time.Time, validity time.Duration) []Entry {
	t.mu.Lock()
	h := lists[iface]
	out := make([]Entry, 0, len(h))
	for _, e := range h {
		if now.Sub(e.LastSeen) > validity {
			continue
		}
		out = append(out, e.clone())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IP.Less(out[j].IP) })
	return out
}

// Interfaces returns the interfaces with at least one host.
func (t *Table) Interfaces() []string {
	t.mu.Lock()
	seen := make(map[string]struct{}, len(t.internal)+len(t.external))
	for n := range t.internal {
		seen[n] = struct{}{}
	}
	for n := range t.external {
		seen[n] = struct{}{}
	}
	t.mu.Unlock()

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of internal and external entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, h := range t.internal {
		n += len(h)
	}
	for _, h := range t.external {
		n += len(h)
	}
	return n
}

// Name implements cleaner.Cleanable.
func (t *Table) Name() string { return Name }

// Clean removes at most budget hosts past their validity window, external
// hosts first, and returns how many it removed.
func (t *Table) Clean(now time.Time, budget int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := clean(t.external, now, t.externalValidity, budget)
	removed += clean(t.internal, now, t.internalValidity, budget-removed)
	return removed
}

func clean(lists map[string]hosts, now time.Time, validity time.Duration, budget int) int {
	removed := 0
	if budget <= 0 {
		return 0
	}
	for iface, h := range lists {
		for ip, e := range h {
			if now.Sub(e.LastSeen) <= validity {
				continue
			}
			delete(h, ip)
			removed++
			if removed == budget {
				break
			}
		}
		if len(h) == 0 {
			delete(lists, iface)
		}
		if removed == budget {
			break
		}
	}
	return removed
}

// Externals returns the external half of the table as a separate cleaner
// target. External hosts expire much sooner than internal ones and are
// evicted on their own schedule.
func (t *Table) Externals() *Externals { return &Externals{t: t} }

// Externals is a view of the external lists of a Table.
type Externals struct {
	t *Table
}

// Name implements cleaner.Cleanable.
func (x *Externals) Name() string { return ExternalName }

// Clean removes at most budget external hosts past the external validity
// window.
func (x *Externals) Clean(now time.Time, budget int) int {
	x.t.mu.Lock()
	defer x.t.mu.Unlock()
	return clean(x.t.external, now, x.t.externalValidity, budget)
}

// Len returns the number of external entries.
func (x *Externals) Len() int {
	x.t.mu.Lock()
	defer x.t.mu.Unlock()
	n := 0
	for _, h := range x.t.external {
		n += len(h)
	}
	return n
}
