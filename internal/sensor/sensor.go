// Package sensor wires the capture, processing, cleaning and delivery stages
// into one runnable unit.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"time"

	"firestige.xyz/netsensor/internal/api"
	"firestige.xyz/netsensor/internal/cleaner"
	"firestige.xyz/netsensor/internal/config"
	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/handler"
	"firestige.xyz/netsensor/internal/log"
	"firestige.xyz/netsensor/internal/monitor"
	"firestige.xyz/netsensor/internal/netset"
	"firestige.xyz/netsensor/internal/queue"
	"firestige.xyz/netsensor/internal/registry"
	"firestige.xyz/netsensor/internal/reporter"
	"firestige.xyz/netsensor/internal/reporter/transport"
	"firestige.xyz/netsensor/internal/table/icmp"
	"firestige.xyz/netsensor/internal/table/tcprtt"
	"firestige.xyz/netsensor/internal/table/topology"
	"firestige.xyz/netsensor/internal/table/traffic"

	// Capture sources register themselves.
	_ "firestige.xyz/netsensor/internal/source/afpacket"
	_ "firestige.xyz/netsensor/internal/source/file"
)

// ErrNoInterface is returned when no monitor initialized.
var ErrNoInterface = errors.New("sensor: no interface could be initialized")

// Sizes are the entry counts of every table.
type Sizes struct {
	Traffic  int
	Topology int
	Cache    int
	ICMP     int
	RTT      int
}

// Sensor owns every stage of the pipeline.
type Sensor struct {
	cfg    *config.Config
	logger log.Logger
	replay bool

	registry *registry.Registry
	primary  *queue.Queue
	rttQueue *queue.Queue

	traffic  *traffic.Table
	topology *topology.Table
	cache    *topology.Cache
	icmp     *icmp.Table
	rtt      *tcprtt.Table

	handler   *handler.Handler
	pool      *handler.Pool
	rttWorker *handler.RTTWorker
	monitors  []*monitor.Monitor
	ready     []*monitor.Monitor
	cleaner   *cleaner.Cleaner
	transport transport.Transport
	reporter  *reporter.Reporter
	api       *api.Server

	now func() time.Time
}

// New builds a live sensor over every configured interface.
func New(cfg *config.Config, logger log.Logger) (*Sensor, error) {
	return build(cfg, logger, false)
}

// NewReplay builds a sensor that reads cfg.Replay.File as the traffic of
// cfg.Replay.Interface. Addresses must be given in that interface's
// configuration since nothing is resolved from the host.
func NewReplay(cfg *config.Config, logger log.Logger) (*Sensor, error) {
	if cfg.Replay.File == "" {
		return nil, fmt.Errorf("%w: replay.file is required", core.ErrConfigInvalid)
	}
	return build(cfg, logger, true)
}

func build(cfg *config.Config, logger log.Logger, replay bool) (*Sensor, error) {
	if logger == nil {
		logger = log.Discard()
	}
	s := &Sensor{
		cfg:      cfg,
		logger:   log.Named(logger, "sensor"),
		replay:   replay,
		registry: registry.New(),
		now:      time.Now,
	}

	multicast, err := netset.New(cfg.Multicast.Ranges...)
	if err != nil {
		return nil, fmt.Errorf("%w: multicast ranges: %v", core.ErrConfigInvalid, err)
	}

	if err := s.buildTables(); err != nil {
		return nil, err
	}

	s.primary = queue.New(queue.Options{Name: "primary", Capacity: cfg.Queue.Capacity, Backoff: cfg.Queue.Backoff})
	hopts := handler.Options{
		Registry:       s.registry,
		Tracker:        topology.NewTracker(s.topology, s.cache, cfg.Topology.StoreExternals),
		Traffic:        s.traffic,
		ICMP:           s.icmp,
		Multicast:      multicast,
		CountMulticast: cfg.Traffic.CountMulticast,
		SlowThreshold:  cfg.Handler.SlowThreshold,
		Logger:         log.Named(logger, "handler"),
	}
	if s.rtt != nil {
		if cfg.Detection.DedicatedRTTQueue {
			s.rttQueue = queue.New(queue.Options{Name: "rtt", Capacity: cfg.Queue.RTTCapacity, Backoff: cfg.Queue.Backoff})
			s.rttWorker = handler.NewRTTWorker(s.registry, s.rttQueue, s.rtt, multicast, cfg.Handler.DequeueTimeout, log.Named(logger, "rtt"))
		} else {
			hopts.RTT = s.rtt
		}
	}
	s.handler = handler.New(hopts)

	workers := cfg.Handler.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s.pool = handler.NewPool(s.handler, s.primary, workers, cfg.Handler.DequeueTimeout, log.Named(logger, "pool"))

	if err := s.buildMonitors(logger); err != nil {
		return nil, err
	}
	s.buildCleaner(logger)

	if err := s.buildDelivery(logger); err != nil {
		return nil, err
	}
	if cfg.API.Enabled && !replay {
		s.api = api.NewServer(api.Options{
			Listen:   cfg.API.Listen,
			Registry: s.registry,
			Traffic:  s.traffic,
			Topology: s.topology,
			ICMP:     s.icmp,
			RTT:      s.rtt,
			Monitors: s.monitorStatus,
			Logger:   log.Named(logger, "api"),
		})
	}
	return s, nil
}

func (s *Sensor) buildTables() error {
	c := s.cfg.Cleaning
	s.traffic = traffic.New(traffic.Options{Window: s.cfg.Traffic.Window, Validity: c.Traffic.Validity})
	s.topology = topology.NewTable(topology.Options{
		InternalValidity: c.Topology.InternalValidity,
		ExternalValidity: c.Topology.ExternalValidity,
	})
	s.cache = topology.NewCache(c.Topology.ExternalValidity)

	if s.cfg.Detection.ICMP {
		s.icmp = icmp.New(icmp.Options{Window: s.cfg.Traffic.Window, Validity: c.ICMP.Validity})
	}
	if s.cfg.Detection.TCPRTT {
		filters := make([]tcprtt.Filter, 0, len(s.cfg.Detection.RTTFilters))
		for i, fc := range s.cfg.Detection.RTTFilters {
			f, err := tcprtt.ParseFilter(fc.Local, fc.Remote)
			if err != nil {
				return fmt.Errorf("%w: detection.rtt_filters[%d]: %v", core.ErrConfigInvalid, i, err)
			}
			filters = append(filters, f)
		}
		matcher, err := tcprtt.NewMatcher(filters)
		if err != nil {
			return fmt.Errorf("%w: detection.rtt_filters: %v", core.ErrConfigInvalid, err)
		}
		s.rtt = tcprtt.New(tcprtt.Options{
			Window:    s.cfg.Traffic.Window,
			Validity:  c.RTT.Validity,
			MaxProbes: s.cfg.Detection.RTTMaxProbes,
			Matcher:   matcher,
		})
	}
	return nil
}

func (s *Sensor) buildMonitors(logger log.Logger) error {
	var proxy [2]net.HardwareAddr
	if s.cfg.Topology.NetProxyActive {
		proxy[0], _ = parseMAC(s.cfg.Topology.ProxyInternalMAC)
		proxy[1], _ = parseMAC(s.cfg.Topology.ProxyExternalMAC)
	}
	fanout := queue.Fanout{Primary: s.primary, RTT: s.rttQueue}

	interfaces := s.cfg.Interfaces
	if s.replay {
		ic, ok := s.cfg.InterfaceByName(s.cfg.Replay.Interface)
		if !ok {
			return fmt.Errorf("%w: replay.interface %q is not configured", core.ErrConfigInvalid, s.cfg.Replay.Interface)
		}
		ic.Capture = config.CaptureConfig{Type: "file", Options: map[string]any{"path": s.cfg.Replay.File}}
		interfaces = []config.InterfaceConfig{ic}
	}
	if len(interfaces) == 0 {
		return fmt.Errorf("%w: no interfaces configured", core.ErrConfigInvalid)
	}

	for _, ic := range interfaces {
		mode := s.cfg.DefaultMode()
		if ic.Mode != "" {
			mode, _ = core.ParseTopologyMode(ic.Mode)
		}
		overrides, err := overridesOf(ic)
		if err != nil {
			return err
		}
		s.monitors = append(s.monitors, monitor.New(monitor.Options{
			Interface:      ic.Name,
			Kind:           ic.Capture.Type,
			CaptureOptions: ic.Capture.Options,
			Internal:       ic.Internal,
			Mode:           mode,
			ProxyMACs:      proxy,
			Overrides:      overrides,
			Registry:       s.registry,
			Fanout:         fanout,
			Logger:         log.Named(logger, "monitor"),
		}))
	}
	return nil
}

func overridesOf(ic config.InterfaceConfig) (monitor.Overrides, error) {
	var o monitor.Overrides
	var err error
	for _, f := range []struct {
		val string
		dst *netip.Addr
	}{{ic.Address, &o.Address}, {ic.Netmask, &o.Netmask}, {ic.Gateway, &o.Gateway}} {
		if f.val == "" {
			continue
		}
		if *f.dst, err = netip.ParseAddr(f.val); err != nil {
			return o, fmt.Errorf("%w: interface %s: %v", core.ErrConfigInvalid, ic.Name, err)
		}
	}
	if o.MAC, err = parseMAC(ic.MAC); err != nil {
		return o, fmt.Errorf("%w: interface %s: %v", core.ErrConfigInvalid, ic.Name, err)
	}
	return o, nil
}

func parseMAC(s string) (net.HardwareAddr, error) {
	if s == "" {
		return nil, nil
	}
	return net.ParseMAC(s)
}

func (s *Sensor) buildCleaner(logger log.Logger) {
	c := s.cfg.Cleaning
	s.cleaner = cleaner.New(cleaner.Options{
		Budget: c.BudgetPerCycle,
		Logger: log.Named(logger, "cleaner"),
		Now:    s.now,
	})
	s.cleaner.Register(s.traffic, c.Traffic.Period)
	s.cleaner.Register(s.topology, c.Topology.Period)
	s.cleaner.Register(s.topology.Externals(), c.Topology.ExternalPeriod)
	s.cleaner.Register(s.cache, c.Topology.ExternalPeriod)
	if s.icmp != nil {
		s.cleaner.Register(s.icmp, c.ICMP.Period)
	}
	if s.rtt != nil {
		s.cleaner.Register(s.rtt, c.RTT.Period)
	}
}

func (s *Sensor) buildDelivery(logger log.Logger) error {
	d := s.cfg.Delivery
	if !d.Enabled {
		return nil
	}

	var multi transport.Multi
	for _, name := range d.Transports() {
		var t transport.Transport
		var err error
		switch name {
		case "udp":
			t, err = transport.NewUDP(d.Recipients, d.Port)
		case "nats":
			t, err = transport.NewNATS(d.NATS.URL, d.NATS.Subject)
		case "kafka":
			t, err = transport.NewKafka(transport.KafkaOptions{
				Brokers:      d.Kafka.Brokers,
				Topic:        d.Kafka.Topic,
				Compression:  d.Kafka.Compression,
				BatchTimeout: d.Kafka.BatchTimeout,
			})
		default:
			err = fmt.Errorf("%w: unsupported delivery.transport: %s", core.ErrConfigInvalid, name)
		}
		if err != nil {
			multi.Close()
			return err
		}
		s.logger.WithField("transport", name).Info("delivery transport ready")
		multi = append(multi, t)
	}
	s.transport = multi

	s.reporter = reporter.New(reporter.Options{
		Registry:  s.registry,
		Traffic:   s.traffic,
		Topology:  s.topology,
		ICMP:      s.icmp,
		RTT:       s.rtt,
		Transport: multi,
		MTU:       d.MTU,
		Periods: reporter.Periods{
			Traffic:  d.TrafficPeriod,
			Topology: d.TopologyPeriod,
			ICMP:     d.ICMPPeriod,
			RTT:      d.RTTPeriod,
		},
		Logger: log.Named(logger, "reporter"),
	})
	return nil
}

func (s *Sensor) monitorStatus() map[string]string {
	out := make(map[string]string, len(s.monitors))
	for _, m := range s.monitors {
		out[m.Name()] = m.Status().String()
	}
	return out
}

// Init initializes every monitor. Failed monitors are logged with their
// status and skipped; it is an error only when none succeeds.
func (s *Sensor) Init() error {
	s.ready = s.ready[:0]
	for _, m := range s.monitors {
		if st := m.Init(); st != monitor.StatusOK {
			s.logger.WithField("interface", m.Name()).Warnf("interface skipped, status %d (%s)", st, st)
			continue
		}
		s.ready = append(s.ready, m)
	}
	if len(s.ready) == 0 {
		return ErrNoInterface
	}
	s.logger.Infof("%d of %d interfaces ready", len(s.ready), len(s.monitors))
	return nil
}

// Run starts every stage and blocks until ctx is done. In replay mode it
// returns once the capture file is exhausted and the queues have drained.
// Call Init first.
func (s *Sensor) Run(ctx context.Context) error {
	if len(s.ready) == 0 {
		return ErrNoInterface
	}
	if s.api != nil {
		if err := s.api.Start(); err != nil {
			return err
		}
	}

	bg, stopBackground := context.WithCancel(ctx)
	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		s.cleaner.Run(bg)
	}()
	if s.reporter != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			s.reporter.Run(bg)
		}()
	}

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		s.pool.Run(ctx)
	}()
	if s.rttWorker != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.rttWorker.Run(ctx)
		}()
	}

	var capture sync.WaitGroup
	errs := make([]error, len(s.ready))
	for i, m := range s.ready {
		capture.Add(1)
		go func(i int, m *monitor.Monitor) {
			defer capture.Done()
			errs[i] = m.Run(ctx)
		}(i, m)
	}

	if !s.replay {
		<-ctx.Done()
	}
	capture.Wait()

	// Closed queues let the workers finish what is already queued.
	s.primary.Close()
	if s.rttQueue != nil {
		s.rttQueue.Close()
	}
	workers.Wait()

	stopBackground()
	background.Wait()
	s.shutdown()
	return errors.Join(errs...)
}

func (s *Sensor) shutdown() {
	if s.api != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.api.Stop(stopCtx); err != nil {
			s.logger.WithError(err).Warn("api server stop failed")
		}
		cancel()
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.WithError(err).Warn("transport close failed")
		}
	}
	st := s.handler.Stats()
	s.logger.WithFields(map[string]interface{}{
		"received":    st.Received,
		"handled":     st.Handled,
		"malformed":   st.Malformed,
		"unsupported": st.Unsupported,
		"panics":      st.Panics,
	}).Info("sensor stopped")
}

// Sizes reports the current entry count of every table.
func (s *Sensor) Sizes() Sizes {
	sz := Sizes{
		Traffic:  s.traffic.Len(),
		Topology: s.topology.Len(),
		Cache:    s.cache.Len(),
	}
	if s.icmp != nil {
		sz.ICMP = s.icmp.Len()
	}
	if s.rtt != nil {
		sz.RTT = s.rtt.Len()
	}
	return sz
}

// Registry returns the interface registry.
func (s *Sensor) Registry() *registry.Registry { return s.registry }

// Traffic returns the microflow table.
func (s *Sensor) Traffic() *traffic.Table { return s.traffic }

// Topology returns the host table.
func (s *Sensor) Topology() *topology.Table { return s.topology }

// RTT returns the TCP-RTT table, nil when detection is off.
func (s *Sensor) RTT() *tcprtt.Table { return s.rtt }

// ICMP returns the ICMP table, nil when detection is off.
func (s *Sensor) ICMP() *icmp.Table { return s.icmp }
