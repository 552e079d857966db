// Package classify implements the per-packet classification rules: packet
// direction relative to this node and internal/external host detection.
package classify

import (
	"bytes"
	"net"
	"net/netip"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/netset"
)

// Direction tags a frame seen on the interface described by d.
//
// Frames on an internal-facing interface are always OBS. Otherwise a frame
// whose source MAC is the interface's is SNT; a frame addressed to the
// interface's MAC or to a multicast destination is RCV; anything else is OBS.
func Direction(d core.InterfaceDescriptor, srcMAC, dstMAC net.HardwareAddr, dstIP netip.Addr, multicast *netset.Set) core.Classification {
	if d.Internal {
		return core.OBS
	}
	if sameMAC(srcMAC, d.MAC) {
		return core.SNT
	}
	if sameMAC(dstMAC, d.MAC) || multicast.Contains(dstIP) {
		return core.RCV
	}
	return core.OBS
}

// Side is the result of internal/external host detection.
type Side uint8

const (
	External Side = iota
	Internal
	// Excluded marks frames relayed by a proxy: they are evidence about
	// neither side and must not update topology.
	Excluded
)

func (s Side) String() string {
	switch s {
	case Internal:
		return "internal"
	case Excluded:
		return "excluded"
	default:
		return "external"
	}
}

// Locate places the source host of a frame on this node's side of the
// network or beyond it, using the detection mode configured on d.
func Locate(d core.InterfaceDescriptor, srcIP netip.Addr, srcMAC net.HardwareAddr) Side {
	switch d.Mode {
	case core.ModeNetProxy:
		return locateNetProxy(d, srcIP, srcMAC)
	default:
		return sideOf(isInternalNetmask(d, srcIP))
	}
}

// IsInternal reports whether Locate places the source on the internal side.
func IsInternal(d core.InterfaceDescriptor, srcIP netip.Addr, srcMAC net.HardwareAddr) bool {
	return Locate(d, srcIP, srcMAC) == Internal
}

func sideOf(internal bool) Side {
	if internal {
		return Internal
	}
	return External
}

// isInternalNetmask: a source is internal when it is a host address on the
// interface's subnet. The unspecified address and the network address are
// never internal.
func isInternalNetmask(d core.InterfaceDescriptor, srcIP netip.Addr) bool {
	if !srcIP.Is4() || srcIP.IsUnspecified() {
		return false
	}
	network := d.Network()
	if !network.IsValid() || srcIP == network {
		return false
	}
	return core.MaskAddr(srcIP, d.Netmask) == network
}

// locateNetProxy applies to both links of the proxy: the link's own address is
// internal, frames carrying one of the proxy's forwarding MACs are excluded,
// and anything else falls back to the subnet rule.
func locateNetProxy(d core.InterfaceDescriptor, srcIP netip.Addr, srcMAC net.HardwareAddr) Side {
	if srcIP.IsValid() && srcIP == d.IP {
		return Internal
	}
	if sameMAC(srcMAC, d.ProxyInternalMAC) || sameMAC(srcMAC, d.ProxyExternalMAC) {
		return Excluded
	}
	return sideOf(isInternalNetmask(d, srcIP))
}

func sameMAC(a, b net.HardwareAddr) bool {
	return len(a) > 0 && bytes.Equal(a, b)
}
