package source

import (
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netsensor/internal/core"
)

const routes = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth1	0000A8C0	00000000	0001	0	0	0	00FFFFFF	0	0	0
eth0	00000000	0100000A	0003	0	0	100	00000000	0	0	0
eth0	0000000A	00000000	0001	0	0	100	00FFFFFF	0	0	0
`

func TestParseRouteTable(t *testing.T) {
	gw, err := parseRouteTable(strings.NewReader(routes), "eth0")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), gw)

	gw, err = parseRouteTable(strings.NewReader(routes), "eth1")
	require.NoError(t, err)
	assert.False(t, gw.IsValid())
}

func TestParseRouteTableMalformed(t *testing.T) {
	_, err := parseRouteTable(strings.NewReader("h\neth0 00000000 zz\n"), "eth0")
	assert.Error(t, err)
}

func TestResolveUnknownInterface(t *testing.T) {
	_, _, err := InterfaceIPv4("no-such-if0")
	assert.True(t, errors.Is(err, core.ErrInterfaceNotFound))

	_, err = InterfaceMAC("no-such-if0")
	assert.True(t, errors.Is(err, core.ErrInterfaceNotFound))
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open("carrier-pigeon", "eth0", nil)
	assert.True(t, errors.Is(err, core.ErrCaptureOpen))
}

func TestRegisterAndOpen(t *testing.T) {
	Register("test-null", func(iface string, _ map[string]any) (Source, error) {
		if iface == "" {
			return nil, errors.New("no interface")
		}
		return nil, nil
	})
	assert.Contains(t, Kinds(), "test-null")

	_, err := Open("test-null", "eth0", nil)
	assert.NoError(t, err)

	_, err = Open("test-null", "", nil)
	assert.True(t, errors.Is(err, core.ErrCaptureOpen))

	assert.Panics(t, func() {
		Register("test-null", func(string, map[string]any) (Source, error) { return nil, nil })
	})
}

func TestOpenKeepsFactoryError(t *testing.T) {
	Register("test-missing", func(iface string, _ map[string]any) (Source, error) {
		return nil, core.ErrInterfaceNotFound
	})
	_, err := Open("test-missing", "eth9", nil)
	assert.True(t, errors.Is(err, core.ErrCaptureOpen))
	assert.True(t, errors.Is(err, core.ErrInterfaceNotFound))
}
