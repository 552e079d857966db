package source

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strings"

	"firestige.xyz/netsensor/internal/core"
)

// RouteTable is the kernel IPv4 routing table.
var RouteTable = "/proc/net/route"

// InterfaceIPv4 returns the first IPv4 address of the named interface and
// its netmask.
func InterfaceIPv4(name string) (ip, mask netip.Addr, err error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return ip, mask, fmt.Errorf("%w: %s: %v", core.ErrInterfaceNotFound, name, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ip, mask, fmt.Errorf("%w: %s: %v", core.ErrAddressResolution, name, err)
	}

	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipn.IP.To4()
		if v4 == nil {
			continue
		}
		ip, _ = netip.AddrFromSlice(v4)
		if len(ipn.Mask) != net.IPv4len {
			return ip, mask, fmt.Errorf("%w: %s: mask %s", core.ErrNetmaskResolution, name, ipn.Mask)
		}
		mask, _ = netip.AddrFromSlice(ipn.Mask)
		return ip, mask, nil
	}
	return ip, mask, fmt.Errorf("%w: %s has no IPv4 address", core.ErrAddressResolution, name)
}

// InterfaceMAC returns the hardware address of the named interface.
func InterfaceMAC(name string) (net.HardwareAddr, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInterfaceNotFound, name, err)
	}
	if len(ifi.HardwareAddr) == 0 {
		return nil, fmt.Errorf("%w: %s has no hardware address", core.ErrMACResolution, name)
	}
	return ifi.HardwareAddr, nil
}

// InterfaceGateway returns the default gateway routed through the named
// interface, or the zero Addr when there is none.
func InterfaceGateway(name string) (netip.Addr, error) {
	f, err := os.Open(RouteTable)
	if err != nil {
		return netip.Addr{}, err
	}
	defer f.Close()
	return parseRouteTable(f, name)
}

// parseRouteTable scans /proc/net/route for the default route of iface.
// Addresses in the table are little-endian hex.
func parseRouteTable(r io.Reader, iface string) (netip.Addr, error) {
	sc := bufio.NewScanner(r)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || fields[0] != iface || fields[1] != "00000000" {
			continue
		}
		b, err := hex.DecodeString(fields[2])
		if err != nil || len(b) != 4 {
			return netip.Addr{}, fmt.Errorf("malformed gateway %q", fields[2])
		}
		var a [4]byte
		binary.BigEndian.PutUint32(a[:], binary.LittleEndian.Uint32(b))
		return netip.AddrFrom4(a), nil
	}
	return netip.Addr{}, sc.Err()
}
