package file

import (
	"errors"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/source"
	"firestige.xyz/netsensor/internal/testutil"
)

// writePcap writes frames one millisecond apart.
func writePcap(t *testing.T, linkType layers.LinkType, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, linkType))
	base := time.Unix(1700000000, 0)
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func frame() []byte {
	return testutil.UDP(testutil.Frame{
		SrcMAC: testutil.MustMAC("02:00:00:00:00:09"),
		DstMAC: testutil.MustMAC("02:00:00:00:00:05"),
		SrcIP:  "10.0.0.9",
		DstIP:  "10.0.0.5",
	}, 5000, 53, []byte("query"))
}

func TestReadUntilEOF(t *testing.T) {
	path := writePcap(t, layers.LinkTypeEthernet, frame(), frame())
	s, err := Open("eth0", Options{Path: path})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		data, ci, err := s.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, frame(), data)
		assert.Equal(t, time.Unix(1700000000, 0).Add(time.Duration(i)*time.Millisecond).UTC(), ci.Timestamp.UTC())
	}
	_, _, err = s.ReadPacket()
	assert.Equal(t, io.EOF, err)
}

func TestExplicitAddresses(t *testing.T) {
	path := writePcap(t, layers.LinkTypeEthernet)
	s, err := Open("eth0", Options{
		Path:    path,
		Address: "10.0.0.5",
		Netmask: "255.255.255.0",
		MAC:     "02:00:00:00:00:05",
		Gateway: "10.0.0.1",
	})
	require.NoError(t, err)
	defer s.Close()

	ip, err := s.IPv4Addr()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), ip)

	mask, err := s.Netmask()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("255.255.255.0"), mask)

	mac, err := s.MACAddr()
	require.NoError(t, err)
	assert.Equal(t, "02:00:00:00:00:05", mac.String())

	gw, err := s.DefaultGateway()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), gw)
}

func TestMissingAddressesAreNotResolved(t *testing.T) {
	s, err := Open("lo", Options{Path: writePcap(t, layers.LinkTypeEthernet)})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.IPv4Addr()
	assert.True(t, errors.Is(err, core.ErrAddressResolution))
	_, err = s.Netmask()
	assert.True(t, errors.Is(err, core.ErrNetmaskResolution))
	_, err = s.MACAddr()
	assert.True(t, errors.Is(err, core.ErrMACResolution))
	gw, err := s.DefaultGateway()
	assert.NoError(t, err)
	assert.False(t, gw.IsValid())
}

func TestOpenErrors(t *testing.T) {
	_, err := Open("eth0", Options{})
	assert.Error(t, err)

	_, err = Open("eth0", Options{Path: filepath.Join(t.TempDir(), "missing.pcap")})
	assert.Error(t, err)

	_, err = Open("eth0", Options{Path: writePcap(t, layers.LinkTypeRaw)})
	assert.Error(t, err)
}

func TestRegisteredKind(t *testing.T) {
	path := writePcap(t, layers.LinkTypeEthernet, frame())
	s, err := source.Open(Kind, "eth0", map[string]any{"path": path, "address": "10.0.0.5"})
	require.NoError(t, err)
	defer s.Close()

	ip, err := s.IPv4Addr()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip.String())
}
