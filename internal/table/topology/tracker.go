package topology

import (
	"net"
	"net/netip"
	"time"
)

// Tracker applies host observations to the Table and keeps the Cache in sync.
// Observe is the only path that writes topology from packets.
type Tracker struct {
	table          *Table
	cache          *Cache
	storeExternals bool
}

// NewTracker binds a table and its cache.
func NewTracker(table *Table, cache *Cache, storeExternals bool) *Tracker {
	return &Tracker{table: table, cache: cache, storeExternals: storeExternals}
}

// Table returns the tracked table.
func (tr *Tracker) Table() *Table { return tr.table }

// Cache returns the tracked cache.
func (tr *Tracker) Cache() *Cache { return tr.cache }

// Observe records that ip (with mac) was seen on iface and classified as
// internal or external.
//
// An internal host first repairs any external sightings of the same address
// on other interfaces, then is upserted internal. An external host is stored
// only when external storage is on and the address is not already known
// internal; an internal entry is never demoted. The unspecified address is
// ignored.
func (tr *Tracker) Observe(iface string, ip netip.Addr, mac net.HardwareAddr, internal bool, ts time.Time) {
	if !ip.IsValid() || ip.IsUnspecified() {
		return
	}

	if internal {
		if tr.storeExternals {
			for _, s := range tr.cache.TakeExternal(ip) {
				tr.table.RemoveExternal(s.Interface, ip)
			}
		}
		tr.table.PutInternal(iface, ip, mac, ts)
		tr.cache.MarkInternal(ip, ts)
		return
	}

	if !tr.storeExternals || tr.cache.KnownInternal(ip) {
		return
	}
	if tr.table.PutExternal(iface, ip, mac, ts) {
		tr.cache.AddExternal(ip, iface, mac, ts)
	}
}
