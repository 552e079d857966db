// Package decoder implements L2-L4 header decoding on top of gopacket layers.
package decoder

import (
	"fmt"

	"firestige.xyz/netsensor/internal/core"
)

// Decoder decodes captured frames into structured headers.
type Decoder interface {
	Decode(pkt core.CapturedPacket) (core.DecodedPacket, error)
}

// StandardDecoder decodes Ethernet (with 802.1Q tags), IPv4 and TCP/UDP/ICMP/IGMP.
//
// Decode returns core.ErrNotIPv4 for frames that carry something other than
// IPv4 and core.ErrPacketTooShort for truncated L2/L3 headers. Transport
// failures do not fail the call; they are reported in DecodedPacket.TransportErr
// so that topology can still be updated from the IP header.
type StandardDecoder struct{}

// NewStandardDecoder creates a new decoder.
func NewStandardDecoder() *StandardDecoder {
	return &StandardDecoder{}
}

// Decode implements Decoder.
func (d *StandardDecoder) Decode(pkt core.CapturedPacket) (core.DecodedPacket, error) {
	out := core.DecodedPacket{
		Timestamp: pkt.Timestamp,
		Interface: pkt.Interface,
		Length:    pkt.Received,
	}

	eth, payload, err := decodeEthernet(pkt.Data)
	if err != nil {
		return out, fmt.Errorf("ethernet: %w", err)
	}
	out.Ethernet = eth
	if eth.EtherType != core.EtherTypeIPv4 {
		return out, core.ErrNotIPv4
	}

	ip, payload, err := decodeIPv4(payload)
	if err != nil {
		return out, fmt.Errorf("ipv4: %w", err)
	}
	out.IP = ip

	if ip.FragOff != 0 {
		out.Transport = core.TransportHeader{Protocol: ip.Protocol}
		out.TransportErr = fmt.Errorf("non-first fragment: %w", core.ErrUnsupportedProto)
		return out, nil
	}

	switch ip.Protocol {
	case core.ProtoTCP, core.ProtoUDP:
		out.Transport, out.TransportErr = decodeTransport(payload, ip)
	case core.ProtoICMP:
		out.Transport = core.TransportHeader{Protocol: core.ProtoICMP}
		out.ICMP, out.TransportErr = decodeICMP(payload)
	case core.ProtoIGMP:
		out.Transport = core.TransportHeader{Protocol: core.ProtoIGMP}
	default:
		out.Transport = core.TransportHeader{Protocol: ip.Protocol}
		out.TransportErr = core.ErrUnsupportedProto
	}
	return out, nil
}

// DecodeTCP is the cheap path used by the RTT worker: it fails unless the frame
// is a well-formed IPv4/TCP segment.
func (d *StandardDecoder) DecodeTCP(pkt core.CapturedPacket) (core.DecodedPacket, error) {
	out, err := d.Decode(pkt)
	if err != nil {
		return out, err
	}
	if out.IP.Protocol != core.ProtoTCP {
		return out, core.ErrUnsupportedProto
	}
	if out.TransportErr != nil {
		return out, out.TransportErr
	}
	return out, nil
}
