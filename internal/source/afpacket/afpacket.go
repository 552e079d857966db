//go:build linux

package afpacket

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"

	"firestige.xyz/netsensor/internal/config"
	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/source"
)

// Kind is the capture.type of this source.
const Kind = "afpacket"

const (
	defaultSnapLen      = core.MaxPacketSize
	defaultBufferSizeMB = 64
	defaultPollTimeout  = 100 * time.Millisecond
)

// Options are decoded from capture.options.
type Options struct {
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	FanoutID     uint16        `mapstructure:"fanout_id"`
	BPFFilter    string        `mapstructure:"bpf_filter"`
}

// Source reads frames from an AF_PACKET ring.
type Source struct {
	iface  string
	handle *afpacket.TPacket
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

// Open creates the ring on iface.
func Open(iface string, opts Options) (*Source, error) {
	if opts.SnapLen <= 0 {
		opts.SnapLen = defaultSnapLen
	}
	if opts.BufferSizeMB <= 0 {
		opts.BufferSizeMB = defaultBufferSizeMB
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}

	if _, err := net.InterfaceByName(iface); err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, iface)
	}

	frameSize, blockSize, numBlocks, err := ringSize(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, err
	}

	if opts.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, opts.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("fanout: %w", err)
		}
	}
	if opts.BPFFilter != "" {
		prog, err := compileBPF(opts.BPFFilter, opts.SnapLen)
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(prog); err != nil {
			tp.Close()
			return nil, fmt.Errorf("set bpf: %w", err)
		}
	}

	return &Source{iface: iface, handle: tp}, nil
}

// ReadPacket implements source.Source. The returned data aliases the ring
// and is overwritten by the next call.
func (s *Source) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, source.ErrTimeout
	}
	return data, ci, err
}

func (s *Source) IPv4Addr() (netip.Addr, error) {
	ip, _, err := source.InterfaceIPv4(s.iface)
	return ip, err
}

func (s *Source) Netmask() (netip.Addr, error) {
	_, mask, err := source.InterfaceIPv4(s.iface)
	return mask, err
}

func (s *Source) MACAddr() (net.HardwareAddr, error) {
	return source.InterfaceMAC(s.iface)
}

func (s *Source) DefaultGateway() (netip.Addr, error) {
	return source.InterfaceGateway(s.iface)
}

// Close releases the ring. Call it only after the reading goroutine returned.
func (s *Source) Close() error {
	s.handle.Close()
	return nil
}
