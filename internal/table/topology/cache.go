package topology

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

// CacheName is the cache's label in metrics and cleaner logs.
const CacheName = "topology_cache"

// Sighting records that an address was listed external on an interface.
type Sighting struct {
	Interface string
	MAC       net.HardwareAddr
	Seen      time.Time
}

// Cache is a denormalized index over the Table: external sightings by
// address, and the set of addresses already known internal. It lets the
// tracker repair a provisional external entry without scanning the table.
type Cache struct {
	mu       sync.Mutex
	external map[netip.Addr][]Sighting
	internal map[netip.Addr]time.Time
	validity time.Duration
}

// NewCache creates an empty cache whose entries expire after validity.
func NewCache(validity time.Duration) *Cache {
	if validity <= 0 {
		validity = 5 * time.Second
	}
	return &Cache{
		external: make(map[netip.Addr][]Sighting),
		internal: make(map[netip.Addr]time.Time),
		validity: validity,
	}
}

// AddExternal records or refreshes the sighting of ip on iface.
func (c *Cache) AddExternal(ip netip.Addr, iface string, mac net.HardwareAddr, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.external[ip]
	for i := range list {
		if list[i].Interface == iface {
			list[i].MAC = append(list[i].MAC[:0], mac...)
			if ts.After(list[i].Seen) {
				list[i].Seen = ts
			}
			return
		}
	}
	c.external[ip] = append(list, Sighting{
		Interface: iface,
		MAC:       append(net.HardwareAddr(nil), mac...),
		Seen:      ts,
	})
}

// TakeExternal removes and returns every external sighting of ip.
func (c *Cache) TakeExternal(ip netip.Addr) []Sighting {
	c.mu.Lock()
	defer c.mu.Unlock()

	list, ok := c.external[ip]
	if !ok {
		return nil
	}
	delete(c.external, ip)
	return list
}

// ExternalSightings returns a copy of the external sightings of ip.
func (c *Cache) ExternalSightings(ip netip.Addr) []Sighting {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.external[ip]
	if len(list) == 0 {
		return nil
	}
	out := make([]Sighting, len(list))
	copy(out, list)
	return out
}

// MarkInternal adds ip to the internal-known set.
func (c *Cache) MarkInternal(ip netip.Addr, ts time.Time) {
	c.mu.Lock()
	if prev, ok := c.internal[ip]; !ok || ts.After(prev) {
		c.internal[ip] = ts
	}
	c.mu.Unlock()
}

// KnownInternal reports whether ip is in the internal-known set.
func (c *Cache) KnownInternal(ip netip.Addr) bool {
	c.mu.Lock()
	_, ok := c.internal[ip]
	c.mu.Unlock()
	return ok
}

// Len returns the number of indexed addresses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.external) + len(c.internal)
}

// Name implements cleaner.Cleanable.
func (c *Cache) Name() string { return CacheName }

// Clean drops at most budget expired sightings and internal marks.
func (c *Cache) Clean(now time.Time, budget int) int {
	if budget <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for ip, list := range c.external {
		kept := list[:0]
		for _, s := range list {
			if removed < budget && now.Sub(s.Seen) > c.validity {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(c.external, ip)
		} else {
			c.external[ip] = kept
		}
		if removed == budget {
			return removed
		}
	}
	for ip, seen := range c.internal {
		if now.Sub(seen) <= c.validity {
			continue
		}
		delete(c.internal, ip)
		removed++
		if removed == budget {
			break
		}
	}
	return removed
}
