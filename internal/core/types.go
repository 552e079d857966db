// Package core defines shared enums and descriptors.
package core

import (
	"net"
	"net/netip"
)

// EtherType and IP protocol numbers the pipeline understands.
const (
	EtherTypeIPv4 = 0x0800

	ProtoICMP = 1
	ProtoIGMP = 2
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// ProtocolName returns the microflow protocol label, or "" when unsupported.
func ProtocolName(proto uint8) string {
	switch proto {
	case ProtoUDP:
		return "UDP"
	case ProtoTCP:
		return "TCP"
	case ProtoICMP:
		return "ICMP"
	case ProtoIGMP:
		return "IGMP"
	default:
		return ""
	}
}

// TCPFlags is the lower six bits of TCP header byte 13.
type TCPFlags uint8

const (
	TCPFlagFIN TCPFlags = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

// Has reports whether all bits in f are set.
func (t TCPFlags) Has(f TCPFlags) bool {
	return t&f == f
}

// Classification tags a packet as sent by, received by, or merely observed by this node.
type Classification uint8

const (
	OBS Classification = iota
	SNT
	RCV
)

func (c Classification) String() string {
	switch c {
	case SNT:
		return "SNT"
	case RCV:
		return "RCV"
	default:
		return "OBS"
	}
}

// TopologyMode selects the internal/external detection mechanism of an interface.
type TopologyMode uint8

const (
	ModeNetmask TopologyMode = iota
	ModeNetProxy
)

func (m TopologyMode) String() string {
	if m == ModeNetProxy {
		return "netproxy"
	}
	return "netmask"
}

// ParseTopologyMode accepts "netmask" and "netproxy" (case-sensitive, lower case).
func ParseTopologyMode(s string) (TopologyMode, bool) {
	switch s {
	case "netmask", "":
		return ModeNetmask, true
	case "netproxy":
		return ModeNetProxy, true
	default:
		return ModeNetmask, false
	}
}

// InterfaceDescriptor is the static description of a monitored interface.
// It is replaced wholesale on update, never mutated in place.
type InterfaceDescriptor struct {
	Name     string
	IP       netip.Addr
	Netmask  netip.Addr
	MAC      net.HardwareAddr
	Gateway  netip.Addr
	Internal bool // Internal-facing link: every packet classifies as OBS
	Mode     TopologyMode

	// Forwarding MACs of the proxy's internal and external links (NETPROXY only).
	ProxyInternalMAC net.HardwareAddr
	ProxyExternalMAC net.HardwareAddr
}

// Network returns the interface's network address (IP & netmask).
func (d InterfaceDescriptor) Network() netip.Addr {
	return MaskAddr(d.IP, d.Netmask)
}

// Clone returns a deep copy.
func (d InterfaceDescriptor) Clone() InterfaceDescriptor {
	d.MAC = cloneMAC(d.MAC)
	d.ProxyInternalMAC = cloneMAC(d.ProxyInternalMAC)
	d.ProxyExternalMAC = cloneMAC(d.ProxyExternalMAC)
	return d
}

func cloneMAC(m net.HardwareAddr) net.HardwareAddr {
	if m == nil {
		return nil
	}
	out := make(net.HardwareAddr, len(m))
	copy(out, m)
	return out
}

// MaskAddr returns a & mask for IPv4 addresses; invalid input yields the zero Addr.
func MaskAddr(a, mask netip.Addr) netip.Addr {
	if !a.Is4() || !mask.Is4() {
		return netip.Addr{}
	}
	ab, mb := a.As4(), mask.As4()
	var out [4]byte
	for i := range out {
		out[i] = ab[i] & mb[i]
	}
	return netip.AddrFrom4(out)
}
