package wire

import (
	"net/netip"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
)

// Traffic entry fields.
const (
	TrafficSrcIP protowire.Number = iota + 1
	TrafficDstIP
	TrafficSrcPort
	TrafficDstPort
	TrafficProtocol
	TrafficClass
	TrafficResolutionMs
	TrafficBytesPerSec
	TrafficPacketsPerSec
	TrafficWindowBytes
	TrafficWindowPackets
	TrafficTotalBytes
	TrafficTotalPackets
	TrafficLastSeenMs
)

// Topology entry fields.
const (
	TopologyIP protowire.Number = iota + 1
	TopologyMAC
	TopologyInternal
	TopologyFirstSeenMs
	TopologyLastSeenMs
)

// ICMP entry fields. Extra is a repeated {1 ip, 2 count} message.
const (
	ICMPSrcIP protowire.Number = iota + 1
	ICMPDstIP
	ICMPType
	ICMPCode
	ICMPPacketsPerSec
	ICMPWindowCount
	ICMPTotal
	ICMPIdentifier
	ICMPSequence
	ICMPPointer
	ICMPOriginate
	ICMPReceive
	ICMPTransmit
	ICMPEmbedded
	ICMPExtra
	ICMPLastSeenMs
)

// Embedded datagram fields inside ICMPEmbedded.
const (
	EmbeddedProtocol protowire.Number = iota + 1
	EmbeddedSrcIP
	EmbeddedDstIP
	EmbeddedSrcPort
	EmbeddedDstPort
)

// RTT entry fields. Durations are in microseconds.
const (
	RTTLocalIP protowire.Number = iota + 1
	RTTLocalPort
	RTTRemoteIP
	RTTRemotePort
	RTTClass
	RTTMinUs
	RTTMaxUs
	RTTLastUs
	RTTMeanUs
	RTTWindowMeanUs
	RTTSamples
	RTTPending
	RTTClosed
	RTTLastSeenMs
)

func ip(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func millis(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixMilli())
}

func micros(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d.Microseconds())
}

// EncodeTraffic encodes one microflow.
func EncodeTraffic(st traffic.Stat) []byte {
	var b []byte
	b = appendString(b, TrafficSrcIP, ip(st.Key.SrcIP))
	b = appendString(b, TrafficDstIP, ip(st.Key.DstIP))
	b = appendUint(b, TrafficSrcPort, uint64(st.Key.SrcPort))
	b = appendUint(b, TrafficDstPort, uint64(st.Key.DstPort))
	b = appendString(b, TrafficProtocol, st.Key.Protocol)
	b = appendString(b, TrafficClass, st.Class.String())
	b = appendUint(b, TrafficResolutionMs, uint64(st.Resolution.Milliseconds()))
	b = appendDouble(b, TrafficBytesPerSec, st.BytesPerSec)
	b = appendDouble(b, TrafficPacketsPerSec, st.PacketsPerSec)
	b = appendUint(b, TrafficWindowBytes, st.WindowBytes)
	b = appendUint(b, TrafficWindowPackets, st.WindowPackets)
	b = appendUint(b, TrafficTotalBytes, st.TotalBytes)
	b = appendUint(b, TrafficTotalPackets, st.TotalPackets)
	b = appendUint(b, TrafficLastSeenMs, millis(st.LastSeen))
	return b
}

// EncodeTopology encodes one host.
func EncodeTopology(e topology.Entry, internal bool) []byte {
	var b []byte
	b = appendString(b, TopologyIP, ip(e.IP))
	if len(e.MAC) > 0 {
		b = appendString(b, TopologyMAC, e.MAC.String())
	}
	b = appendBool(b, TopologyInternal, internal)
	b = appendUint(b, TopologyFirstSeenMs, millis(e.FirstSeen))
	b = appendUint(b, TopologyLastSeenMs, millis(e.LastSeen))
	return b
}

// EncodeICMP encodes one ICMP entry. Extra addresses are ordered by address.
func EncodeICMP(st icmp.Stat) []byte {
	var b []byte
	b = appendString(b, ICMPSrcIP, ip(st.Key.SrcIP))
	b = appendString(b, ICMPDstIP, ip(st.Key.DstIP))
	b = appendUint(b, ICMPType, uint64(st.Key.Type))
	b = appendUint(b, ICMPCode, uint64(st.Key.Code))
	b = appendDouble(b, ICMPPacketsPerSec, st.PacketsPerSec)
	b = appendUint(b, ICMPWindowCount, st.WindowCount)
	b = appendUint(b, ICMPTotal, st.Total)

	d := st.Details
	b = appendUint(b, ICMPIdentifier, uint64(d.Identifier))
	b = appendUint(b, ICMPSequence, uint64(d.Sequence))
	b = appendUint(b, ICMPPointer, uint64(d.Pointer))
	b = appendUint(b, ICMPOriginate, uint64(d.OriginateTimestamp))
	b = appendUint(b, ICMPReceive, uint64(d.ReceiveTimestamp))
	b = appendUint(b, ICMPTransmit, uint64(d.TransmitTimestamp))
	if e := d.Embedded; e != nil {
		var m []byte
		m = appendUint(m, EmbeddedProtocol, uint64(e.Protocol))
		m = appendString(m, EmbeddedSrcIP, ip(e.SrcIP))
		m = appendString(m, EmbeddedDstIP, ip(e.DstIP))
		m = appendUint(m, EmbeddedSrcPort, uint64(e.SrcPort))
		m = appendUint(m, EmbeddedDstPort, uint64(e.DstPort))
		b = appendMessage(b, ICMPEmbedded, m)
	}

	addrs := make([]netip.Addr, 0, len(st.Extra))
	for a := range st.Extra {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	for _, a := range addrs {
		var m []byte
		m = appendString(m, 1, ip(a))
		m = appendUint(m, 2, uint64(st.Extra[a]))
		b = appendMessage(b, ICMPExtra, m)
	}

	b = appendUint(b, ICMPLastSeenMs, millis(st.LastSeen))
	return b
}

// EncodeRTT encodes one TCP stream.
func EncodeRTT(st tcprtt.Stat) []byte {
	var b []byte
	b = appendString(b, RTTLocalIP, ip(st.Key.LocalIP))
	b = appendUint(b, RTTLocalPort, uint64(st.Key.LocalPort))
	b = appendString(b, RTTRemoteIP, ip(st.Key.RemoteIP))
	b = appendUint(b, RTTRemotePort, uint64(st.Key.RemotePort))
	b = appendString(b, RTTClass, st.Class.String())
	b = appendUint(b, RTTMinUs, micros(st.Min))
	b = appendUint(b, RTTMaxUs, micros(st.Max))
	b = appendUint(b, RTTLastUs, micros(st.Last))
	b = appendUint(b, RTTMeanUs, micros(st.Mean))
	b = appendUint(b, RTTWindowMeanUs, micros(st.WindowMean))
	b = appendUint(b, RTTSamples, st.Samples)
	b = appendUint(b, RTTPending, uint64(st.Pending))
	b = appendString(b, RTTClosed, st.Closed.String())
	b = appendUint(b, RTTLastSeenMs, millis(st.LastSeen))
	return b
}
