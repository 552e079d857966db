package netset

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetContains(t *testing.T) {
	s, err := New(DefaultMulticast, "10.1.0.0/16", "192.0.2.7")
	require.NoError(t, err)

	tests := []struct {
		addr string
		want bool
	}{
		{"224.0.0.1", true},
		{"239.255.255.250", true},
		{"240.0.0.1", false},
		{"10.1.200.3", true},
		{"10.2.0.1", false},
		{"192.0.2.7", true},
		{"192.0.2.8", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Contains(netip.MustParseAddr(tt.addr)), tt.addr)
	}
	assert.Equal(t, 3, s.Len())
}

func TestSetLookupDeepest(t *testing.T) {
	s := MustNew("10.0.0.0/8", "10.1.0.0/16")

	p, ok := s.Lookup(netip.MustParseAddr("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.1.0.0/16"), p)

	p, ok = s.Lookup(netip.MustParseAddr("10.9.2.3"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), p)
}

func TestSetInvalid(t *testing.T) {
	_, err := New("224.0.0.0/33")
	assert.Error(t, err)
	_, err = New("ff02::/16")
	assert.Error(t, err)
	_, err = New("multicast")
	assert.Error(t, err)
}

func TestNilSet(t *testing.T) {
	var s *Set
	assert.False(t, s.Contains(netip.MustParseAddr("224.0.0.1")))
	assert.Nil(t, s.Prefixes())
	assert.Equal(t, 0, s.Len())
}

func TestEmptySet(t *testing.T) {
	s := MustNew()
	assert.False(t, s.Contains(netip.MustParseAddr("224.0.0.1")))
	assert.False(t, s.Contains(netip.Addr{}))
}
