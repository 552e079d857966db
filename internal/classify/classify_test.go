package classify

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/netset"
)

var (
	ifaceMAC = mustMAC("00:00:00:00:00:05")
	peerMAC  = mustMAC("00:00:00:00:00:09")
	otherMAC = mustMAC("00:00:00:00:00:0a")
	proxyIn  = mustMAC("02:00:00:00:00:01")
	proxyOut = mustMAC("02:00:00:00:00:02")

	multicast = netset.MustNew(netset.DefaultMulticast)
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func eth0() core.InterfaceDescriptor {
	return core.InterfaceDescriptor{
		Name:    "eth0",
		IP:      netip.MustParseAddr("10.0.0.5"),
		Netmask: netip.MustParseAddr("255.255.255.0"),
		MAC:     ifaceMAC,
	}
}

func addr(s string) netip.Addr { return netip.MustParseAddr(s) }

func TestDirection(t *testing.T) {
	d := eth0()
	tests := []struct {
		name   string
		src    net.HardwareAddr
		dst    net.HardwareAddr
		dstIP  string
		expect core.Classification
	}{
		{"Sent", ifaceMAC, peerMAC, "8.8.8.8", core.SNT},
		{"SentToMulticast", ifaceMAC, peerMAC, "224.0.0.251", core.SNT},
		{"Received", peerMAC, ifaceMAC, "10.0.0.5", core.RCV},
		{"ReceivedMulticast", peerMAC, otherMAC, "239.1.1.1", core.RCV},
		{"Observed", peerMAC, otherMAC, "10.0.0.7", core.OBS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Direction(d, tt.src, tt.dst, addr(tt.dstIP), multicast))
		})
	}
}

// Swapping src/dst MACs of a SNT frame yields RCV and vice versa.
func TestDirectionSymmetry(t *testing.T) {
	d := eth0()
	for _, peer := range []net.HardwareAddr{peerMAC, otherMAC, proxyIn} {
		fwd := Direction(d, ifaceMAC, peer, addr("192.0.2.1"), multicast)
		rev := Direction(d, peer, ifaceMAC, addr("192.0.2.1"), multicast)
		assert.Equal(t, core.SNT, fwd)
		assert.Equal(t, core.RCV, rev)
	}
}

func TestDirectionInternalInterface(t *testing.T) {
	d := eth0()
	d.Internal = true
	assert.Equal(t, core.OBS, Direction(d, ifaceMAC, peerMAC, addr("8.8.8.8"), multicast))
	assert.Equal(t, core.OBS, Direction(d, peerMAC, ifaceMAC, addr("10.0.0.5"), multicast))
}

func TestDirectionWithoutMulticastSet(t *testing.T) {
	assert.Equal(t, core.OBS, Direction(eth0(), peerMAC, otherMAC, addr("239.1.1.1"), nil))
}

func TestIsInternalNetmask(t *testing.T) {
	d := eth0()
	tests := []struct {
		ip     string
		expect bool
	}{
		{"10.0.0.7", true},
		{"10.0.0.5", true},
		{"10.0.0.255", true},
		{"10.0.0.0", false}, // network address
		{"0.0.0.0", false},
		{"10.0.1.7", false},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expect, IsInternal(d, addr(tt.ip), peerMAC), tt.ip)
	}
	assert.False(t, IsInternal(d, netip.Addr{}, peerMAC))
}

func TestIsInternalNetProxy(t *testing.T) {
	d := eth0()
	d.Mode = core.ModeNetProxy
	d.ProxyInternalMAC = proxyIn
	d.ProxyExternalMAC = proxyOut

	// The proxy's own address is internal regardless of MAC.
	assert.True(t, IsInternal(d, addr("10.0.0.5"), proxyIn))

	assert.Equal(t, Internal, Locate(d, addr("10.0.0.5"), peerMAC))

	// Forwarded frames are no evidence either way, even with an on-subnet source.
	assert.Equal(t, Excluded, Locate(d, addr("10.0.0.7"), proxyIn))
	assert.Equal(t, Excluded, Locate(d, addr("198.51.100.4"), proxyOut))
	assert.False(t, IsInternal(d, addr("10.0.0.7"), proxyIn))

	// Direct frames fall back to the subnet rule.
	assert.True(t, IsInternal(d, addr("10.0.0.7"), peerMAC))
	assert.Equal(t, External, Locate(d, addr("198.51.100.4"), peerMAC))
	assert.Equal(t, External, Locate(d, addr("0.0.0.0"), peerMAC))
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "internal", Internal.String())
	assert.Equal(t, "external", External.String())
	assert.Equal(t, "excluded", Excluded.String())
}
