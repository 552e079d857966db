// Package testutil builds Ethernet/IPv4 frames for tests.
package testutil

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netsensor/internal/core"
)

// Frame holds the L2/L3 addressing shared by the builders.
type Frame struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
	VLAN   uint16 // 0 means untagged
	SrcIP  string
	DstIP  string
	TTL    uint8
}

// MustMAC parses a MAC address or panics.
func MustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// TCP builds a TCP segment.
func TCP(f Frame, sport, dport uint16, seq, ack uint32, flags core.TCPFlags, payload []byte) []byte {
	ip := f.ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     seq,
		Ack:     ack,
		Window:  65535,
		FIN:     flags.Has(core.TCPFlagFIN),
		SYN:     flags.Has(core.TCPFlagSYN),
		RST:     flags.Has(core.TCPFlagRST),
		PSH:     flags.Has(core.TCPFlagPSH),
		ACK:     flags.Has(core.TCPFlagACK),
		URG:     flags.Has(core.TCPFlagURG),
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return f.serialize(ip, tcp, gopacket.Payload(payload))
}

// UDP builds a UDP datagram.
func UDP(f Frame, sport, dport uint16, payload []byte) []byte {
	ip := f.ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(sport),
		DstPort: layers.UDPPort(dport),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return f.serialize(ip, udp, gopacket.Payload(payload))
}

// ICMP builds an ICMPv4 message. body follows the 8-byte header.
func ICMP(f Frame, typ, code uint8, id, seq uint16, body []byte) []byte {
	ip := f.ipv4(layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(typ, code),
		Id:       id,
		Seq:      seq,
	}
	return f.serialize(ip, icmp, gopacket.Payload(body))
}

// Raw builds an IPv4 packet with an arbitrary protocol number and payload.
func Raw(f Frame, proto uint8, payload []byte) []byte {
	ip := f.ipv4(layers.IPProtocol(proto))
	return f.serialize(ip, gopacket.Payload(payload))
}

// ARP builds an ARP request, which the pipeline treats as non-IPv4.
func ARP(f Frame) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       f.SrcMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   f.SrcMAC,
		SourceProtAddress: net.ParseIP(f.SrcIP).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.ParseIP(f.DstIP).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// IPv4Header returns the serialized IPv4 header of a packet with the given
// protocol followed by transport bytes, as quoted by ICMP errors.
func IPv4Header(src, dst string, proto uint8, transport []byte) []byte {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocol(proto),
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(transport)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (f Frame) ipv4(proto layers.IPProtocol) *layers.IPv4 {
	ttl := f.TTL
	if ttl == 0 {
		ttl = 64
	}
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: proto,
		SrcIP:    net.ParseIP(f.SrcIP).To4(),
		DstIP:    net.ParseIP(f.DstIP).To4(),
	}
}

func (f Frame) serialize(l ...gopacket.SerializableLayer) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       f.SrcMAC,
		DstMAC:       f.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	stack := []gopacket.SerializableLayer{eth}
	if f.VLAN != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{
			VLANIdentifier: f.VLAN,
			Type:           layers.EthernetTypeIPv4,
		})
	}
	stack = append(stack, l...)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
