package decoder

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netsensor/internal/core"
)

// ICMPv4 message types with type-specific fields.
const (
	ICMPEchoReply        = 0
	ICMPDestUnreachable  = 3
	ICMPSourceQuench     = 4
	ICMPRedirect         = 5
	ICMPEchoRequest      = 8
	ICMPTimeExceeded     = 11
	ICMPParameterProblem = 12
	ICMPTimestampRequest = 13
	ICMPTimestampReply   = 14
	ICMPAddressMaskReq   = 17
	ICMPAddressMaskReply = 18
)

// IsICMPError reports whether the type quotes the offending datagram.
func IsICMPError(t uint8) bool {
	switch t {
	case ICMPDestUnreachable, ICMPSourceQuench, ICMPTimeExceeded, ICMPParameterProblem:
		return true
	}
	return false
}

// decodeICMP decodes the ICMPv4 header and the type-specific trailer.
func decodeICMP(data []byte) (core.ICMPHeader, error) {
	var icmp layers.ICMPv4
	if err := icmp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.ICMPHeader{}, core.ErrPacketTooShort
	}

	hdr := core.ICMPHeader{
		Type:       uint8(icmp.TypeCode >> 8),
		Code:       uint8(icmp.TypeCode),
		Identifier: icmp.Id,
		Sequence:   icmp.Seq,
	}
	body := icmp.Payload

	switch {
	case hdr.Type == ICMPRedirect:
		// Gateway address occupies the rest-of-header word.
		hdr.Address = netip.AddrFrom4([4]byte{
			byte(icmp.Id >> 8), byte(icmp.Id), byte(icmp.Seq >> 8), byte(icmp.Seq),
		})
		hdr.Embedded = decodeEmbedded(body)

	case hdr.Type == ICMPAddressMaskReply || hdr.Type == ICMPAddressMaskReq:
		if len(body) >= 4 {
			hdr.Address = netip.AddrFrom4([4]byte(body[:4]))
		}

	case hdr.Type == ICMPTimestampRequest || hdr.Type == ICMPTimestampReply:
		if len(body) >= 12 {
			hdr.OriginateTimestamp = binary.BigEndian.Uint32(body[0:4])
			hdr.ReceiveTimestamp = binary.BigEndian.Uint32(body[4:8])
			hdr.TransmitTimestamp = binary.BigEndian.Uint32(body[8:12])
		}

	case IsICMPError(hdr.Type):
		if hdr.Type == ICMPParameterProblem {
			hdr.Pointer = uint8(icmp.Id >> 8)
		}
		hdr.Embedded = decodeEmbedded(body)
	}
	return hdr, nil
}

// decodeEmbedded decodes the IP header plus leading transport bytes quoted in
// an ICMP error. The quoted total length describes the original datagram, so
// the header is decoded from whatever bytes are present.
func decodeEmbedded(data []byte) *core.EmbeddedDatagram {
	if len(data) < ipv4HeaderMinLen || data[0]>>4 != 4 {
		return nil
	}
	ihl := int(data[0]&0x0f) * 4
	if ihl < ipv4HeaderMinLen || len(data) < ihl {
		return nil
	}

	var ip layers.IPv4
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil
	}
	src, ok := addrFrom4(ip.SrcIP)
	if !ok {
		return nil
	}
	dst, ok := addrFrom4(ip.DstIP)
	if !ok {
		return nil
	}

	emb := &core.EmbeddedDatagram{
		TOS:      ip.TOS,
		TotalLen: ip.Length,
		Protocol: uint8(ip.Protocol),
		SrcIP:    src,
		DstIP:    dst,
	}
	rest := data[ihl:]
	if (emb.Protocol == core.ProtoTCP || emb.Protocol == core.ProtoUDP) && len(rest) >= 4 {
		emb.SrcPort = binary.BigEndian.Uint16(rest[0:2])
		emb.DstPort = binary.BigEndian.Uint16(rest[2:4])
	}
	return emb
}
