// Package core defines the sensor's shared data structures with zero external dependencies.
package core

import (
	"net"
	"net/netip"
	"time"
)

// MaxPacketSize is the largest frame a CapturedPacket holds (jumbo frame).
const MaxPacketSize = 9038

// CapturedPacket is a frame read by an interface monitor. Data is an owned copy,
// never a reference into a capture ring buffer.
type CapturedPacket struct {
	Data      []byte
	Timestamp time.Time // Receive timestamp
	Interface string    // Monitored interface name
	Received  int       // Bytes received on the wire
}

// NewCapturedPacket copies data (truncated to MaxPacketSize) into a new packet.
func NewCapturedPacket(iface string, data []byte, wireLen int, ts time.Time) CapturedPacket {
	n := len(data)
	if n > MaxPacketSize {
		n = MaxPacketSize
	}
	buf := make([]byte, n)
	copy(buf, data[:n])
	if wireLen <= 0 {
		wireLen = len(data)
	}
	return CapturedPacket{
		Data:      buf,
		Timestamp: ts,
		Interface: iface,
		Received:  wireLen,
	}
}

// Clone returns a packet with its own copy of Data.
func (p CapturedPacket) Clone() CapturedPacket {
	buf := make([]byte, len(p.Data))
	copy(buf, p.Data)
	p.Data = buf
	return p
}

// DecodedPacket is the result of L2-L4 header decoding.
type DecodedPacket struct {
	Timestamp time.Time
	Interface string
	Length    int // Bytes received on the wire

	Ethernet  EthernetHeader
	IP        IPHeader
	Transport TransportHeader
	ICMP      ICMPHeader // Valid when IP.Protocol == ProtoICMP and TransportErr == nil

	// TransportErr is set when the IPv4 header decoded but the transport
	// header did not (ErrUnsupportedProto or ErrPacketTooShort).
	TransportErr error
}

// HasTransport reports whether the transport header decoded.
func (p *DecodedPacket) HasTransport() bool {
	return p.TransportErr == nil
}

// EthernetHeader is the L2 frame header.
type EthernetHeader struct {
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	EtherType uint16
	VLANs     []uint16
}

// IPHeader is the IPv4 header.
type IPHeader struct {
	HeaderLen int // Bytes, from the IHL nibble
	TOS       uint8
	TotalLen  uint16
	Protocol  uint8
	TTL       uint8
	FragOff   uint16 // In 8-byte units; non-zero for all but the first fragment
	SrcIP     netip.Addr
	DstIP     netip.Addr
}

// TransportHeader is the L4 header (TCP/UDP). ICMP and IGMP leave ports at zero.
type TransportHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Protocol   uint8
	TCPFlags   TCPFlags
	SeqNum     uint32
	AckNum     uint32
	PayloadLen int // TCP/UDP payload bytes, derived from the IP total length
}

// ICMPHeader carries the ICMPv4 fields the ICMP table keeps.
type ICMPHeader struct {
	Type       uint8
	Code       uint8
	Identifier uint16
	Sequence   uint16
	Pointer    uint8 // Parameter problem

	// Redirect gateway or address mask, when the message carries one.
	Address netip.Addr

	// Timestamp request/reply.
	OriginateTimestamp uint32
	ReceiveTimestamp   uint32
	TransmitTimestamp  uint32

	// Original datagram embedded in error messages.
	Embedded *EmbeddedDatagram
}

// EmbeddedDatagram is the IP header and leading transport bytes quoted by an ICMP error.
type EmbeddedDatagram struct {
	TOS      uint8
	TotalLen uint16
	Protocol uint8
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
}
