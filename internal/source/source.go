// Package source defines the capture-source abstraction and the registry of
// source implementations.
package source

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/google/gopacket"

	"firestige.xyz/netsensor/internal/core"
)

// Source yields raw Ethernet frames for one interface and knows the
// interface's addressing.
type Source interface {
	// ReadPacket returns the next frame. The data is only valid until the
	// next call. io.EOF marks the end of a finite source.
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)

	IPv4Addr() (netip.Addr, error)
	Netmask() (netip.Addr, error)
	MACAddr() (net.HardwareAddr, error)
	DefaultGateway() (netip.Addr, error)

	Close() error
}

// ErrTimeout is returned by ReadPacket when no frame arrived within the
// source's poll interval. Callers simply read again.
var ErrTimeout = errors.New("source: read timeout")

// Factory opens a source on iface with implementation-specific options.
type Factory func(iface string, options map[string]any) (Source, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a source kind available to Open. It panics on duplicates.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("source: %s registered twice", kind))
	}
	factories[kind] = f
}

// Open creates a source of the given kind. Failures wrap core.ErrCaptureOpen
// as well as the factory's own error.
func Open(kind, iface string, options map[string]any) (Source, error) {
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown source kind %q", core.ErrCaptureOpen, kind)
	}

	s, err := f(iface, options)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %w", core.ErrCaptureOpen, kind, iface, err)
	}
	return s, nil
}

// Kinds lists the registered source kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
