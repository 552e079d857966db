package decoder

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netsensor/internal/core"
)

const ipv4HeaderMinLen = 20

// decodeIPv4 decodes the IPv4 header. The header length comes from the IHL
// nibble; trailing Ethernet padding beyond the total length is dropped.
func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen || data[0]>>4 != 4 {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	var ip layers.IPv4
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	src, ok := addrFrom4(ip.SrcIP)
	if !ok {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	dst, ok := addrFrom4(ip.DstIP)
	if !ok {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	hdr := core.IPHeader{
		HeaderLen: int(ip.IHL) * 4,
		TOS:       ip.TOS,
		TotalLen:  ip.Length,
		Protocol:  uint8(ip.Protocol),
		TTL:       ip.TTL,
		FragOff:   ip.FragOffset,
		SrcIP:     src,
		DstIP:     dst,
	}
	return hdr, ip.Payload, nil
}

func addrFrom4(ip net.IP) (netip.Addr, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(v4)), true
}
