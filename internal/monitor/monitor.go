// Package monitor runs one capture loop per interface: it opens the capture
// source, resolves the interface descriptor and feeds frames to the queues.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/metrics"
	"firestige.xyz/netsensor/internal/queue"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/source"
)

// DefaultRetryDelay is the pause after a failed or empty read.
const DefaultRetryDelay = 50 * time.Millisecond

// Overrides are forced descriptor values. Set fields win over resolution.
type Overrides struct {
	Address netip.Addr
	Netmask netip.Addr
	MAC     net.HardwareAddr
	Gateway netip.Addr
}

// OpenFunc opens a capture source; source.Open by default.
type OpenFunc func(kind, iface string, options map[string]any) (source.Source, error)

// Options configures a Monitor.
type Options struct {
	Interface      string
	Kind           string
	CaptureOptions map[string]any
	Internal       bool
	Mode           core.TopologyMode
	ProxyMACs      [2]net.HardwareAddr // internal-link and external-link forwarding MACs
	Overrides      Overrides

	Registry   *registry.Registry
	Fanout     queue.Fanout
	Logger     log.Logger
	RetryDelay time.Duration
	Open       OpenFunc
}

// Monitor owns one capture source.
type Monitor struct {
	opts   Options
	logger log.Logger
	src    source.Source
	desc   core.InterfaceDescriptor
	status InitStatus
}

// New creates a monitor. Call Init before Run.
func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Open == nil {
		opts.Open = source.Open
	}
	return &Monitor{
		opts:   opts,
		logger: opts.Logger.WithField("interface", opts.Interface),
		status: StatusCaptureOpen,
	}
}

// Name returns the interface name.
func (m *Monitor) Name() string { return m.opts.Interface }

// Status returns the last Init result.
func (m *Monitor) Status() InitStatus { return m.status }

// Descriptor returns the resolved descriptor. Valid after a successful Init.
func (m *Monitor) Descriptor() core.InterfaceDescriptor { return m.desc.Clone() }

// Init opens the source and resolves the descriptor. On success the
// descriptor is published to the registry. A failing step leaves the monitor
// unusable and is reported through the returned status; it never panics.
func (m *Monitor) Init() InitStatus {
	err := m.init()
	m.status = StatusOf(err)
	metrics.MonitorStatus.WithLabelValues(m.opts.Interface).Set(float64(m.status))
	if err != nil {
		m.logger.WithError(err).Errorf("init failed with status %d (%s)", m.status, m.status)
		if m.src != nil {
			m.src.Close()
			m.src = nil
		}
		return m.status
	}

	m.opts.Registry.Put(m.desc)
	m.logger.WithFields(map[string]interface{}{
		"ip":      m.desc.IP,
		"netmask": m.desc.Netmask,
		"mac":     m.desc.MAC,
		"gateway": m.desc.Gateway,
		"mode":    m.desc.Mode,
	}).Info("interface ready")
	return m.status
}

func (m *Monitor) init() error {
	src, err := m.opts.Open(m.opts.Kind, m.opts.Interface, m.opts.CaptureOptions)
	if err != nil {
		return err
	}
	m.src = src
	o := m.opts.Overrides

	d := core.InterfaceDescriptor{
		Name:             m.opts.Interface,
		Internal:         m.opts.Internal,
		Mode:             m.opts.Mode,
		ProxyInternalMAC: m.opts.ProxyMACs[0],
		ProxyExternalMAC: m.opts.ProxyMACs[1],
	}

	if d.IP = o.Address; !d.IP.IsValid() {
		if d.IP, err = src.IPv4Addr(); err != nil {
			return wrapStep(core.ErrAddressResolution, err)
		}
	}
	if d.MAC = o.MAC; len(d.MAC) == 0 {
		if d.MAC, err = src.MACAddr(); err != nil {
			return wrapStep(core.ErrMACResolution, err)
		}
	}
	if d.Netmask = o.Netmask; !d.Netmask.IsValid() {
		if d.Netmask, err = src.Netmask(); err != nil {
			return wrapStep(core.ErrNetmaskResolution, err)
		}
	}
	if d.Gateway = o.Gateway; !d.Gateway.IsValid() {
		if d.Gateway, err = src.DefaultGateway(); err != nil {
			// The gateway is informational only.
			m.logger.WithError(err).Warn("default gateway not resolved")
		}
	}

	m.desc = d
	return nil
}

// wrapStep tags err with the step's sentinel unless it already carries a
// more specific one.
func wrapStep(step, err error) error {
	if errors.Is(err, core.ErrInterfaceNotFound) || errors.Is(err, step) {
		return err
	}
	return fmt.Errorf("%w: %w", step, err)
}

// Run reads frames until ctx is done or the source is exhausted, enqueueing
// each one with backpressure. It returns nil on cancellation and EOF.
func (m *Monitor) Run(ctx context.Context) error {
	if m.status != StatusOK || m.src == nil {
		return fmt.Errorf("monitor %s not initialized (status %d)", m.opts.Interface, m.status)
	}
	defer func() {
		m.src.Close()
		m.src = nil
	}()

	packets := metrics.CapturePacketsTotal.WithLabelValues(m.opts.Interface)
	readErrors := metrics.CaptureErrorsTotal.WithLabelValues(m.opts.Interface)
	m.logger.Info("capture started")

	for ctx.Err() == nil {
		data, ci, err := m.src.ReadPacket()
		switch {
		case errors.Is(err, io.EOF):
			m.logger.Info("capture source exhausted")
			return nil
		case errors.Is(err, source.ErrTimeout):
			continue
		case err != nil || len(data) == 0:
			readErrors.Inc()
			if err != nil {
				m.logger.WithError(err).Debug("read failed")
			}
			if !sleep(ctx, m.opts.RetryDelay) {
				return nil
			}
			continue
		}

		pkt := core.NewCapturedPacket(m.opts.Interface, data, ci.Length, time.Now())
		packets.Inc()
		if err := m.opts.Fanout.Enqueue(ctx, pkt); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("monitor %s: %w", m.opts.Interface, err)
		}
	}
	m.logger.Info("capture stopped")
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
