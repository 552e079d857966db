// Package reporter periodically snapshots the tables and delivers them to
// collectors.
package reporter

import (
	"context"
	"errors"
	"sync"
	"time"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/metrics"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/reporter/transport"
	"firestige.xyz/netsensor/internal/reporter/wire"
	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"
)

// Headroom is subtracted from the MTU to size each container.
const Headroom = 100

// Periods holds the delivery interval of each datatype. Zero disables it.
type Periods struct {
	Traffic  time.Duration
	Topology time.Duration
	ICMP     time.Duration
	RTT      time.Duration
}

// Options configures a Reporter. Nil tables are not reported.
type Options struct {
	Registry  *registry.Registry
	Traffic   *traffic.Table
	Topology  *topology.Table
	ICMP      *icmp.Table
	RTT       *tcprtt.Table
	Transport transport.Transport
	MTU       int
	Periods   Periods
	Logger    log.Logger
	Now       func() time.Time
}

// Reporter delivers table snapshots.
type Reporter struct {
	opts   Options
	logger log.Logger
}

func New(opts Options) *Reporter {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reporter{opts: opts, logger: opts.Logger}
}

func (r *Reporter) period(dt wire.DataType) time.Duration {
	switch dt {
	case wire.Traffic:
		if r.opts.Traffic != nil {
			return r.opts.Periods.Traffic
		}
	case wire.Topology:
		if r.opts.Topology != nil {
			return r.opts.Periods.Topology
		}
	case wire.ICMP:
		if r.opts.ICMP != nil {
			return r.opts.Periods.ICMP
		}
	case wire.RTT:
		if r.opts.RTT != nil {
			return r.opts.Periods.RTT
		}
	}
	return 0
}

// Run starts one ticker per enabled datatype and blocks until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, dt := range []wire.DataType{wire.Traffic, wire.Topology, wire.ICMP, wire.RTT} {
		p := r.period(dt)
		if p <= 0 {
			continue
		}
		wg.Add(1)
		go func(dt wire.DataType, p time.Duration) {
			defer wg.Done()
			ticker := time.NewTicker(p)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := r.Report(dt); err != nil {
						r.logger.WithError(err).WithField("datatype", dt.String()).Warn("snapshot delivery failed")
					}
				}
			}
		}(dt, p)
	}
	wg.Wait()
}

// Report snapshots one datatype for every registered interface and sends
// the resulting containers.
func (r *Reporter) Report(dt wire.DataType) error {
	now := r.opts.Now()
	var errs []error
	for _, name := range r.opts.Registry.Names() {
		desc, ok := r.opts.Registry.Get(name)
		if !ok {
			continue
		}
		entries := r.entries(dt, name, now)
		if entries == nil {
			continue
		}
		if err := r.deliver(dt, header(dt, desc, now), entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func header(dt wire.DataType, d core.InterfaceDescriptor, now time.Time) wire.Header {
	h := wire.Header{
		Type:      dt,
		Time:      now,
		Interface: d.Name,
		Network:   wire.NetworkInfo{Name: d.Name},
	}
	if d.IP.IsValid() {
		h.Network.InterfaceIP = d.IP.String()
	}
	if d.Netmask.IsValid() {
		h.Network.Netmask = d.Netmask.String()
	}
	if d.Gateway.IsValid() {
		h.Network.Gateway = d.Gateway.String()
	}
	return h
}

// entries returns nil when the datatype is not reported.
func (r *Reporter) entries(dt wire.DataType, iface string, now time.Time) [][]byte {
	out := [][]byte{}
	switch dt {
	case wire.Traffic:
		if r.opts.Traffic == nil {
			return nil
		}
		for _, st := range r.opts.Traffic.Snapshot(iface, now) {
			out = append(out, wire.EncodeTraffic(st))
		}
	case wire.Topology:
		if r.opts.Topology == nil {
			return nil
		}
		for _, e := range r.opts.Topology.SnapshotInternal(iface, now) {
			out = append(out, wire.EncodeTopology(e, true))
		}
		for _, e := range r.opts.Topology.SnapshotExternal(iface, now) {
			out = append(out, wire.EncodeTopology(e, false))
		}
	case wire.ICMP:
		if r.opts.ICMP == nil {
			return nil
		}
		for _, st := range r.opts.ICMP.Snapshot(iface, now) {
			out = append(out, wire.EncodeICMP(st))
		}
	case wire.RTT:
		if r.opts.RTT == nil {
			return nil
		}
		for _, st := range r.opts.RTT.Snapshot(iface, now) {
			out = append(out, wire.EncodeRTT(st))
		}
	default:
		return nil
	}
	return out
}

func (r *Reporter) deliver(dt wire.DataType, h wire.Header, entries [][]byte) error {
	label := dt.String()
	var errs []error
	msgs, err := wire.Chunk(h, entries, r.opts.MTU-Headroom)
	if err != nil {
		metrics.ReporterErrorsTotal.WithLabelValues(label, "encode").Inc()
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"datatype":  label,
			"interface": h.Interface,
		}).Warn("snapshot entries dropped")
		if len(msgs) == 0 {
			return err
		}
		errs = append(errs, err)
	}

	for _, m := range msgs {
		if serr := r.opts.Transport.Send(m); serr != nil {
			names := transport.Failed(serr)
			if len(names) == 0 {
				names = []string{r.opts.Transport.Name()}
			}
			for _, n := range names {
				metrics.ReporterErrorsTotal.WithLabelValues(label, n).Inc()
			}
			errs = append(errs, serr)
			continue
		}
		metrics.ReporterMessagesTotal.WithLabelValues(label).Inc()
		metrics.ReporterBytesTotal.WithLabelValues(label).Add(float64(len(m)))
	}
	r.logger.WithFields(map[string]interface{}{
		"datatype":  label,
		"interface": h.Interface,
		"entries":   len(entries),
		"messages":  len(msgs),
	}).Debug("snapshot delivered")
	return errors.Join(errs...)
}
