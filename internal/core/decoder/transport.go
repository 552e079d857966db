package decoder

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netsensor/internal/core"
)

const udpHeaderLen = 8

// decodeTransport decodes the TCP or UDP header. The payload length is derived
// from the IP total length rather than the captured bytes, so snaplen
// truncation does not shrink it.
func decodeTransport(data []byte, ip core.IPHeader) (core.TransportHeader, error) {
	l4Len := int(ip.TotalLen) - ip.HeaderLen

	switch ip.Protocol {
	case core.ProtoTCP:
		var tcp layers.TCP
		if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return core.TransportHeader{Protocol: core.ProtoTCP}, core.ErrPacketTooShort
		}
		return core.TransportHeader{
			SrcPort:    uint16(tcp.SrcPort),
			DstPort:    uint16(tcp.DstPort),
			Protocol:   core.ProtoTCP,
			TCPFlags:   tcpFlags(&tcp),
			SeqNum:     tcp.Seq,
			AckNum:     tcp.Ack,
			PayloadLen: nonNegative(l4Len - int(tcp.DataOffset)*4),
		}, nil

	case core.ProtoUDP:
		var udp layers.UDP
		if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return core.TransportHeader{Protocol: core.ProtoUDP}, core.ErrPacketTooShort
		}
		return core.TransportHeader{
			SrcPort:    uint16(udp.SrcPort),
			DstPort:    uint16(udp.DstPort),
			Protocol:   core.ProtoUDP,
			PayloadLen: nonNegative(l4Len - udpHeaderLen),
		}, nil

	default:
		return core.TransportHeader{Protocol: ip.Protocol}, core.ErrUnsupportedProto
	}
}

func tcpFlags(tcp *layers.TCP) core.TCPFlags {
	var f core.TCPFlags
	if tcp.FIN {
		f |= core.TCPFlagFIN
	}
	if tcp.SYN {
		f |= core.TCPFlagSYN
	}
	if tcp.RST {
		f |= core.TCPFlagRST
	}
	if tcp.PSH {
		f |= core.TCPFlagPSH
	}
	if tcp.ACK {
		f |= core.TCPFlagACK
	}
	if tcp.URG {
		f |= core.TCPFlagURG
	}
	return f
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
