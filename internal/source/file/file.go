// Package file replays a capture file as a packet source. Interface addresses
// are never resolved from the host; they come from the source options.
package file

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/netsensor/internal/config"
	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/source"
)

// Kind is the capture.type of this source.
const Kind = "file"

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Options are decoded from capture.options.
type Options struct {
	Path    string `mapstructure:"path"`
	Address string `mapstructure:"address"`
	Netmask string `mapstructure:"netmask"`
	MAC     string `mapstructure:"mac"`
	Gateway string `mapstructure:"gateway"`
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads frames from a pcap or pcapng file.
type Source struct {
	iface  string
	opts   Options
	f      *os.File
	reader packetReader
}

func init() {
	source.Register(Kind, func(iface string, options map[string]any) (source.Source, error) {
		var opts Options
		if err := config.DecodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return Open(iface, opts)
	})
}

// Open opens the capture file named by opts.Path.
func Open(iface string, opts Options) (*Source, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", opts.Path, err)
	}

	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("%s: link type %s, want Ethernet", opts.Path, r.LinkType())
	}

	return &Source{iface: iface, opts: opts, f: f, reader: r}, nil
}

// ReadPacket implements source.Source. It returns io.EOF at the end of file.
func (s *Source) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.reader.ReadPacketData()
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// A truncated last record ends the replay like a clean EOF.
		err = io.EOF
	}
	return data, ci, err
}

func (s *Source) IPv4Addr() (netip.Addr, error) {
	return parseAddr(s.opts.Address, core.ErrAddressResolution, s.iface)
}

func (s *Source) Netmask() (netip.Addr, error) {
	return parseAddr(s.opts.Netmask, core.ErrNetmaskResolution, s.iface)
}

func (s *Source) MACAddr() (net.HardwareAddr, error) {
	if s.opts.MAC == "" {
		return nil, fmt.Errorf("%w: %s: no mac configured for replay", core.ErrMACResolution, s.iface)
	}
	mac, err := net.ParseMAC(s.opts.MAC)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrMACResolution, s.iface, err)
	}
	return mac, nil
}

// DefaultGateway returns the configured gateway, or the zero Addr.
func (s *Source) DefaultGateway() (netip.Addr, error) {
	if s.opts.Gateway == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(s.opts.Gateway)
}

// Close closes the file.
func (s *Source) Close() error {
	return s.f.Close()
}

func parseAddr(v string, sentinel error, iface string) (netip.Addr, error) {
	if v == "" {
		return netip.Addr{}, fmt.Errorf("%w: %s: not configured for replay", sentinel, iface)
	}
	a, err := netip.ParseAddr(v)
	if err != nil || !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s: invalid IPv4 %q", sentinel, iface, v)
	}
	return a, nil
}
