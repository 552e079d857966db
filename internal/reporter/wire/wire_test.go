package wire

import (
	"bytes"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
)

var header = Header{
	Type:      Traffic,
	Time:      time.Unix(1700000000, 123000000).UTC(),
	Interface: "eth0",
	Network: NetworkInfo{
		Name:        "eth0",
		Netmask:     "255.255.255.0",
		InterfaceIP: "10.0.0.5",
		Gateway:     "10.0.0.1",
	},
}

func TestEncodeDecode(t *testing.T) {
	entries := [][]byte{[]byte("a"), []byte("bc"), {}}
	b, err := Encode(header, entries)
	require.NoError(t, err)

	c, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, header, c.Header)
	assert.True(t, c.Time.Equal(header.Time))
	require.Len(t, c.Entries, 3)
	assert.Equal(t, []byte("bc"), c.Entries[1])
	assert.Empty(t, c.Entries[2])
}

func TestDecodeTruncated(t *testing.T) {
	b, err := Encode(header, [][]byte{[]byte("payload")})
	require.NoError(t, err)
	_, err = Decode(b[:len(b)-3])
	assert.Error(t, err)
}

func TestDataTypeString(t *testing.T) {
	assert.Equal(t, "traffic", Traffic.String())
	assert.Equal(t, "topology", Topology.String())
	assert.Equal(t, "icmp", ICMP.String())
	assert.Equal(t, "rtt", RTT.String())
	assert.Equal(t, "datatype(9)", DataType(9).String())
}

func TestChunk(t *testing.T) {
	head, err := Encode(header, nil)
	require.NoError(t, err)

	entry := bytes.Repeat([]byte{0xaa}, 20)
	max := len(head) + 2*entrySize(entry)

	out, err := Chunk(header, [][]byte{entry, entry, entry}, max)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, b := range out {
		assert.LessOrEqual(t, len(b), max)
	}

	first, err := Decode(out[0])
	require.NoError(t, err)
	second, err := Decode(out[1])
	require.NoError(t, err)
	assert.Len(t, first.Entries, 2)
	assert.Len(t, second.Entries, 1)
	assert.Equal(t, "eth0", second.Interface)
}

func TestChunkSkipsOversize(t *testing.T) {
	head, err := Encode(header, nil)
	require.NoError(t, err)

	small := []byte("ok")
	max := len(head) + 40
	huge := bytes.Repeat([]byte{1}, 100)

	out, err := Chunk(header, [][]byte{small, huge, small}, max)
	require.ErrorIs(t, err, ErrEntryTooLarge)
	assert.Contains(t, err.Error(), "1 entries skipped")
	require.Len(t, out, 1)

	c, err := Decode(out[0])
	require.NoError(t, err)
	assert.Len(t, c.Entries, 2)
}

func TestChunkEmpty(t *testing.T) {
	out, err := Chunk(header, nil, 1500)
	require.NoError(t, err)
	require.Len(t, out, 1)

	c, err := Decode(out[0])
	require.NoError(t, err)
	assert.Empty(t, c.Entries)
	assert.Equal(t, "eth0", c.Interface)
}

func TestChunkHeaderTooLarge(t *testing.T) {
	_, err := Chunk(header, nil, 10)
	assert.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestEncodeTraffic(t *testing.T) {
	st := traffic.Stat{
		Key: traffic.Key{
			SrcIP:    netip.MustParseAddr("10.0.0.5"),
			DstIP:    netip.MustParseAddr("8.8.8.8"),
			SrcPort:  5353,
			DstPort:  53,
			Protocol: "UDP",
		},
		Class:         core.SNT,
		Resolution:    5 * time.Second,
		BytesPerSec:   12.5,
		PacketsPerSec: 0.25,
		WindowBytes:   62,
		WindowPackets: 1,
		TotalBytes:    620,
		TotalPackets:  10,
		LastSeen:      time.UnixMilli(1700000000500),
	}
	fs, err := Fields(EncodeTraffic(st))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", fs.String(TrafficSrcIP))
	assert.Equal(t, "8.8.8.8", fs.String(TrafficDstIP))
	assert.EqualValues(t, 5353, fs.Uint(TrafficSrcPort))
	assert.EqualValues(t, 53, fs.Uint(TrafficDstPort))
	assert.Equal(t, "UDP", fs.String(TrafficProtocol))
	assert.Equal(t, "SNT", fs.String(TrafficClass))
	assert.EqualValues(t, 5000, fs.Uint(TrafficResolutionMs))
	assert.Equal(t, 12.5, fs.Double(TrafficBytesPerSec))
	assert.Equal(t, 0.25, fs.Double(TrafficPacketsPerSec))
	assert.EqualValues(t, 62, fs.Uint(TrafficWindowBytes))
	assert.EqualValues(t, 620, fs.Uint(TrafficTotalBytes))
	assert.EqualValues(t, 10, fs.Uint(TrafficTotalPackets))
	assert.EqualValues(t, 1700000000500, fs.Uint(TrafficLastSeenMs))
}

func TestEncodeTopology(t *testing.T) {
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	e := topology.Entry{
		IP:        netip.MustParseAddr("10.0.0.7"),
		MAC:       mac,
		FirstSeen: time.UnixMilli(1000),
		LastSeen:  time.UnixMilli(2000),
	}

	fs, err := Fields(EncodeTopology(e, true))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", fs.String(TopologyIP))
	assert.Equal(t, "00:11:22:33:44:55", fs.String(TopologyMAC))
	assert.EqualValues(t, 1, fs.Uint(TopologyInternal))
	assert.EqualValues(t, 1000, fs.Uint(TopologyFirstSeenMs))
	assert.EqualValues(t, 2000, fs.Uint(TopologyLastSeenMs))

	fs, err = Fields(EncodeTopology(topology.Entry{IP: e.IP}, false))
	require.NoError(t, err)
	assert.Zero(t, fs.Uint(TopologyInternal))
	assert.Empty(t, fs.String(TopologyMAC))
}

func TestEncodeICMP(t *testing.T) {
	st := icmp.Stat{
		Key: icmp.Key{
			SrcIP: netip.MustParseAddr("10.0.0.1"),
			DstIP: netip.MustParseAddr("10.0.0.5"),
			Type:  3,
			Code:  3,
		},
		Details: icmp.Details{
			Embedded: &core.EmbeddedDatagram{
				Protocol: 17,
				SrcIP:    netip.MustParseAddr("10.0.0.5"),
				DstIP:    netip.MustParseAddr("10.0.0.9"),
				SrcPort:  40000,
				DstPort:  161,
			},
		},
		WindowCount: 2,
		Total:       7,
		Extra: map[netip.Addr]uint32{
			netip.MustParseAddr("10.0.0.9"): 2,
			netip.MustParseAddr("10.0.0.3"): 5,
		},
	}

	fs, err := Fields(EncodeICMP(st))
	require.NoError(t, err)
	assert.EqualValues(t, 3, fs.Uint(ICMPType))
	assert.EqualValues(t, 3, fs.Uint(ICMPCode))
	assert.EqualValues(t, 2, fs.Uint(ICMPWindowCount))
	assert.EqualValues(t, 7, fs.Uint(ICMPTotal))

	emb := fs.All(ICMPEmbedded)
	require.Len(t, emb, 1)
	efs, err := Fields(emb[0])
	require.NoError(t, err)
	assert.EqualValues(t, 17, efs.Uint(EmbeddedProtocol))
	assert.Equal(t, "10.0.0.9", efs.String(EmbeddedDstIP))
	assert.EqualValues(t, 161, efs.Uint(EmbeddedDstPort))

	extras := fs.All(ICMPExtra)
	require.Len(t, extras, 2)
	x0, err := Fields(extras[0])
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", x0.String(1))
	assert.EqualValues(t, 5, x0.Uint(2))
	x1, err := Fields(extras[1])
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", x1.String(1))
}

func TestEncodeRTT(t *testing.T) {
	st := tcprtt.Stat{
		Key: tcprtt.StreamKey{
			LocalIP:    netip.MustParseAddr("10.0.0.5"),
			LocalPort:  40000,
			RemoteIP:   netip.MustParseAddr("203.0.113.9"),
			RemotePort: 443,
		},
		Class:      core.SNT,
		Min:        1500 * time.Microsecond,
		Max:        9 * time.Millisecond,
		Last:       2 * time.Millisecond,
		Mean:       3 * time.Millisecond,
		WindowMean: 2500 * time.Microsecond,
		Samples:    4,
		Pending:    1,
		Closed:     tcprtt.ClosedByFIN,
	}

	fs, err := Fields(EncodeRTT(st))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", fs.String(RTTLocalIP))
	assert.EqualValues(t, 443, fs.Uint(RTTRemotePort))
	assert.EqualValues(t, 1500, fs.Uint(RTTMinUs))
	assert.EqualValues(t, 9000, fs.Uint(RTTMaxUs))
	assert.EqualValues(t, 2500, fs.Uint(RTTWindowMeanUs))
	assert.EqualValues(t, 4, fs.Uint(RTTSamples))
	assert.EqualValues(t, 1, fs.Uint(RTTPending))
	assert.Equal(t, tcprtt.ClosedByFIN.String(), fs.String(RTTClosed))
}

func TestFieldsMissing(t *testing.T) {
	fs, err := Fields(nil)
	require.NoError(t, err)
	assert.Zero(t, fs.Uint(1))
	assert.Zero(t, fs.Double(1))
	assert.Empty(t, fs.String(1))
}
