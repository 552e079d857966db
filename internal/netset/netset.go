// Package netset implements IPv4 prefix membership on a patricia tree.
package netset

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/kentik/patricia"
	"github.com/kentik/patricia/generics_tree"
)

// DefaultMulticast is the IPv4 multicast block.
const DefaultMulticast = "224.0.0.0/4"

// Set is an immutable set of IPv4 prefixes. It is safe for concurrent reads.
type Set struct {
	tree     *generics_tree.TreeV4[netip.Prefix]
	prefixes []netip.Prefix
}

// New builds a set from CIDR strings. A bare address is a /32.
func New(cidrs ...string) (*Set, error) {
	s := &Set{tree: generics_tree.NewTreeV4[netip.Prefix]()}
	for _, c := range cidrs {
		p, err := parsePrefix(c)
		if err != nil {
			return nil, err
		}
		if !p.Addr().Is4() {
			return nil, fmt.Errorf("netset: %s is not IPv4", c)
		}

		v4, _, err := patricia.ParseIPFromString(p.String())
		if err != nil || v4 == nil {
			return nil, fmt.Errorf("netset: invalid prefix %s: %v", c, err)
		}
		s.tree.Set(*v4, p)
		s.prefixes = append(s.prefixes, p)
	}
	return s, nil
}

// MustNew is New for static input.
func MustNew(cidrs ...string) *Set {
	s, err := New(cidrs...)
	if err != nil {
		panic(err)
	}
	return s
}

func parsePrefix(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("netset: invalid prefix %q", s)
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// Lookup returns the most specific prefix containing a.
func (s *Set) Lookup(a netip.Addr) (netip.Prefix, bool) {
	if s == nil || !a.Is4() {
		return netip.Prefix{}, false
	}
	b := a.As4()
	found, p := s.tree.FindDeepestTag(patricia.NewIPv4Address(binary.BigEndian.Uint32(b[:]), 32))
	return p, found
}

// Contains reports whether a falls in any prefix of the set.
func (s *Set) Contains(a netip.Addr) bool {
	_, ok := s.Lookup(a)
	return ok
}

// Prefixes returns the prefixes in insertion order.
func (s *Set) Prefixes() []netip.Prefix {
	if s == nil {
		return nil
	}
	out := make([]netip.Prefix, len(s.prefixes))
	copy(out, s.prefixes)
	return out
}

// Len returns the number of prefixes.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.prefixes)
}
