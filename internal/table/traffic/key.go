package traffic

import "firestige.xyz/netsensor/internal/core"

// KeyOf builds the microflow key of a decoded packet. ok is false for
// protocols the table does not account.
func KeyOf(p *core.DecodedPacket) (Key, bool) {
	proto := core.ProtocolName(p.IP.Protocol)
	if proto == "" {
		return Key{}, false
	}
	return Key{
		SrcIP:    p.IP.SrcIP,
		DstIP:    p.IP.DstIP,
		SrcPort:  p.Transport.SrcPort,
		DstPort:  p.Transport.DstPort,
		Protocol: proto,
	}, true
}

func (k Key) less(o Key) bool {
	if c := k.SrcIP.Compare(o.SrcIP); c != 0 {
		return c < 0
	}
	if c := k.DstIP.Compare(o.DstIP); c != 0 {
		return c < 0
	}
	if k.SrcPort != o.SrcPort {
		return k.SrcPort < o.SrcPort
	}
	if k.DstPort != o.DstPort {
		return k.DstPort < o.DstPort
	}
	return k.Protocol < o.Protocol
}
