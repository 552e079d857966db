package tcprtt

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"firestige.xyz/netsensor/internal/netset"
)

// Endpoint matches one side of a stream. A zero Prefix matches any address
// and a zero Port any port.
type Endpoint struct {
	Prefix netip.Prefix
	Port   uint16
}

// ParseEndpoint parses "ip[/len][:port]". The empty string matches anything.
func ParseEndpoint(s string) (Endpoint, error) {
	var ep Endpoint
	s = strings.TrimSpace(s)
	if s == "" {
		return ep, nil
	}

	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		port, err := strconv.ParseUint(s[i+1:], 10, 16)
		if err != nil {
			return ep, fmt.Errorf("invalid port in %q: %w", s, err)
		}
		ep.Port = uint16(port)
		s = s[:i]
	}
	if s == "" || s == "*" {
		return ep, nil
	}

	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return ep, fmt.Errorf("invalid prefix %q: %w", s, err)
		}
		ep.Prefix = p.Masked()
	} else {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return ep, fmt.Errorf("invalid address %q: %w", s, err)
		}
		ep.Prefix = netip.PrefixFrom(a, a.BitLen())
	}
	if !ep.Prefix.Addr().Is4() {
		return ep, fmt.Errorf("%q is not IPv4", s)
	}
	return ep, nil
}

// Match reports whether ip:port falls in the endpoint.
func (e Endpoint) Match(ip netip.Addr, port uint16) bool {
	if e.Prefix.IsValid() && !e.Prefix.Contains(ip) {
		return false
	}
	return e.Port == 0 || e.Port == port
}

// Filter selects streams by their local and remote endpoints.
type Filter struct {
	Local  Endpoint
	Remote Endpoint
}

// ParseFilter parses a local/remote endpoint pair.
func ParseFilter(local, remote string) (Filter, error) {
	l, err := ParseEndpoint(local)
	if err != nil {
		return Filter{}, fmt.Errorf("local: %w", err)
	}
	r, err := ParseEndpoint(remote)
	if err != nil {
		return Filter{}, fmt.Errorf("remote: %w", err)
	}
	return Filter{Local: l, Remote: r}, nil
}

// Match reports whether the stream key satisfies the filter.
func (f Filter) Match(k StreamKey) bool {
	return f.Local.Match(k.LocalIP, k.LocalPort) && f.Remote.Match(k.RemoteIP, k.RemotePort)
}

// Matcher selects the streams to track. An empty matcher accepts all.
type Matcher struct {
	filters []Filter
	local   *netset.Set // Prefilter on local prefixes, nil when any filter leaves local open
}

// NewMatcher indexes the filters' local prefixes in a patricia tree.
func NewMatcher(filters []Filter) (*Matcher, error) {
	m := &Matcher{filters: append([]Filter(nil), filters...)}
	if len(filters) == 0 {
		return m, nil
	}

	cidrs := make([]string, 0, len(filters))
	for _, f := range filters {
		if !f.Local.Prefix.IsValid() {
			return m, nil
		}
		cidrs = append(cidrs, f.Local.Prefix.String())
	}
	set, err := netset.New(cidrs...)
	if err != nil {
		return nil, err
	}
	m.local = set
	return m, nil
}

// Explicit reports whether filters were configured.
func (m *Matcher) Explicit() bool {
	return m != nil && len(m.filters) > 0
}

// Match reports whether k is selected.
func (m *Matcher) Match(k StreamKey) bool {
	if !m.Explicit() {
		return true
	}
	if m.local != nil && !m.local.Contains(k.LocalIP) {
		return false
	}
	for _, f := range m.filters {
		if f.Match(k) {
			return true
		}
	}
	return false
}
