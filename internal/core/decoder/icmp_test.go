package decoder

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/testutil"
)

func TestDecodeICMPEcho(t *testing.T) {
	decoded, err := NewStandardDecoder().Decode(captured(testutil.ICMP(frame(), ICMPEchoRequest, 0, 7, 3, []byte("ping"))))
	require.NoError(t, err)
	require.NoError(t, decoded.TransportErr)

	assert.Equal(t, uint8(ICMPEchoRequest), decoded.ICMP.Type)
	assert.Equal(t, uint16(7), decoded.ICMP.Identifier)
	assert.Equal(t, uint16(3), decoded.ICMP.Sequence)
	assert.Nil(t, decoded.ICMP.Embedded)
}

func TestDecodeICMPRedirect(t *testing.T) {
	// Gateway 10.0.0.254 sits in the id/seq word.
	quoted := testutil.IPv4Header("10.0.0.5", "8.8.8.8", core.ProtoUDP, []byte{0x30, 0x39, 0x00, 0x35, 0, 0, 0, 0})
	data := testutil.ICMP(frame(), ICMPRedirect, 1, 0x0a00, 0x00fe, quoted)

	decoded, err := NewStandardDecoder().Decode(captured(data))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.254"), decoded.ICMP.Address)
	require.NotNil(t, decoded.ICMP.Embedded)
	assert.Equal(t, netip.MustParseAddr("8.8.8.8"), decoded.ICMP.Embedded.DstIP)
}

func TestDecodeICMPAddressMaskReply(t *testing.T) {
	data := testutil.ICMP(frame(), ICMPAddressMaskReply, 0, 1, 1, []byte{255, 255, 255, 0})

	decoded, err := NewStandardDecoder().Decode(captured(data))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("255.255.255.0"), decoded.ICMP.Address)
}

func TestDecodeICMPTimestamp(t *testing.T) {
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:4], 100)
	binary.BigEndian.PutUint32(body[4:8], 200)
	binary.BigEndian.PutUint32(body[8:12], 300)

	decoded, err := NewStandardDecoder().Decode(captured(testutil.ICMP(frame(), ICMPTimestampReply, 0, 1, 1, body)))
	require.NoError(t, err)
	assert.Equal(t, uint32(100), decoded.ICMP.OriginateTimestamp)
	assert.Equal(t, uint32(200), decoded.ICMP.ReceiveTimestamp)
	assert.Equal(t, uint32(300), decoded.ICMP.TransmitTimestamp)
}

func TestDecodeICMPUnreachable(t *testing.T) {
	quoted := testutil.IPv4Header("192.168.1.2", "203.0.113.9", core.ProtoTCP, []byte{0x9c, 0x40, 0x01, 0xbb, 0, 0, 0, 1})
	data := testutil.ICMP(frame(), ICMPDestUnreachable, 3, 0, 0, quoted)

	decoded, err := NewStandardDecoder().Decode(captured(data))
	require.NoError(t, err)

	emb := decoded.ICMP.Embedded
	require.NotNil(t, emb)
	assert.Equal(t, uint8(core.ProtoTCP), emb.Protocol)
	assert.Equal(t, netip.MustParseAddr("192.168.1.2"), emb.SrcIP)
	assert.Equal(t, netip.MustParseAddr("203.0.113.9"), emb.DstIP)
	assert.Equal(t, uint16(40000), emb.SrcPort)
	assert.Equal(t, uint16(443), emb.DstPort)
}

func TestDecodeICMPParameterProblem(t *testing.T) {
	quoted := testutil.IPv4Header("192.168.1.2", "203.0.113.9", core.ProtoUDP, make([]byte, 8))
	data := testutil.ICMP(frame(), ICMPParameterProblem, 0, 0x1400, 0, quoted)

	decoded, err := NewStandardDecoder().Decode(captured(data))
	require.NoError(t, err)
	assert.Equal(t, uint8(20), decoded.ICMP.Pointer)
	assert.NotNil(t, decoded.ICMP.Embedded)
}

func TestDecodeICMPTooShort(t *testing.T) {
	data := testutil.ICMP(frame(), ICMPEchoRequest, 0, 1, 1, nil)

	// Ethernet + IPv4 + 4 bytes of ICMP.
	decoded, err := NewStandardDecoder().Decode(captured(data[:14+20+4]))
	require.NoError(t, err)
	assert.Error(t, decoded.TransportErr)
}

func TestIsICMPError(t *testing.T) {
	for _, typ := range []uint8{3, 4, 11, 12} {
		assert.True(t, IsICMPError(typ), "type %d", typ)
	}
	for _, typ := range []uint8{0, 5, 8, 13, 18} {
		assert.False(t, IsICMPError(typ), "type %d", typ)
	}
}
