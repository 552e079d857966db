// Package config handles sensor configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/netsensor/internal/core"
	"firestige.xyz/netsensor/internal/log"
)

// Config represents the sensor configuration.
// Maps to the `netsensor:` root key in YAML.
type Config struct {
	Node       string            `mapstructure:"node"` // Empty = os.Hostname()
	Interfaces []InterfaceConfig `mapstructure:"interfaces"`
	Topology   TopologyConfig    `mapstructure:"topology"`
	Detection  DetectionConfig   `mapstructure:"detection"`
	Traffic    TrafficConfig     `mapstructure:"traffic"`
	Queue      QueueConfig       `mapstructure:"queue"`
	Handler    HandlerConfig     `mapstructure:"handler"`
	Cleaning   CleaningConfig    `mapstructure:"cleaning"`
	Delivery   DeliveryConfig    `mapstructure:"delivery"`
	Multicast  MulticastConfig   `mapstructure:"multicast"`
	Replay     ReplayConfig      `mapstructure:"replay"`
	Log        log.Config        `mapstructure:"log"`
	API        APIConfig         `mapstructure:"api"`
}

// ─── Interfaces ───

// InterfaceConfig describes one monitored interface. Address fields are
// optional overrides; when empty they are resolved from the OS.
type InterfaceConfig struct {
	Name     string        `mapstructure:"name"`
	Internal bool          `mapstructure:"internal"` // Internal-facing link
	Mode     string        `mapstructure:"mode"`     // netmask | netproxy; empty = topology default
	Address  string        `mapstructure:"address"`
	Netmask  string        `mapstructure:"netmask"`
	MAC      string        `mapstructure:"mac"`
	Gateway  string        `mapstructure:"gateway"`
	Capture  CaptureConfig `mapstructure:"capture"`
}

// CaptureConfig selects the capture source. Options are source specific and
// decoded by the source with DecodeOptions.
type CaptureConfig struct {
	Type    string         `mapstructure:"type"` // afpacket | file
	Options map[string]any `mapstructure:"options"`
}

// ─── Topology ───

// TopologyConfig controls internal/external host detection.
type TopologyConfig struct {
	NetmaskActive    bool   `mapstructure:"netmask_active"`
	NetProxyActive   bool   `mapstructure:"netproxy_active"`
	StoreExternals   bool   `mapstructure:"store_externals"`
	ProxyInternalMAC string `mapstructure:"proxy_internal_mac"`
	ProxyExternalMAC string `mapstructure:"proxy_external_mac"`
}

// ─── Detection ───

// DetectionConfig toggles the optional detectors.
type DetectionConfig struct {
	TCPRTT            bool              `mapstructure:"tcp_rtt"`
	ICMP              bool              `mapstructure:"icmp"`
	DedicatedRTTQueue bool              `mapstructure:"dedicated_rtt_queue"`
	RTTMaxProbes      int               `mapstructure:"rtt_max_probes"`
	RTTFilters        []RTTFilterConfig `mapstructure:"rtt_filters"`
}

// RTTFilterConfig is a local/remote endpoint pair, each "ip[/len][:port]".
type RTTFilterConfig struct {
	Local  string `mapstructure:"local"`
	Remote string `mapstructure:"remote"`
}

// ─── Traffic ───

// TrafficConfig controls microflow accounting.
type TrafficConfig struct {
	CountMulticast bool          `mapstructure:"count_multicast"`
	Window         time.Duration `mapstructure:"window"` // Averaging resolution
}

// ─── Queue & Handler ───

// QueueConfig sizes the packet queues.
type QueueConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	RTTCapacity int           `mapstructure:"rtt_capacity"`
	Backoff     time.Duration `mapstructure:"backoff"` // 0 = block until space frees
}

// HandlerConfig sizes the handler pool.
type HandlerConfig struct {
	Workers        int           `mapstructure:"workers"` // 0 = auto
	SlowThreshold  time.Duration `mapstructure:"slow_threshold"`
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout"`
}

// ─── Cleaning ───

// TableCleaning is the period/validity pair of one table.
type TableCleaning struct {
	Period   time.Duration `mapstructure:"period"`
	Validity time.Duration `mapstructure:"validity"`
}

// TopologyCleaning has separate validity windows for internal and external
// hosts. External hosts and the topology cache are cleaned every
// ExternalPeriod, internal hosts every Period.
type TopologyCleaning struct {
	Period           time.Duration `mapstructure:"period"`
	ExternalPeriod   time.Duration `mapstructure:"external_period"`
	InternalValidity time.Duration `mapstructure:"internal_validity"`
	ExternalValidity time.Duration `mapstructure:"external_validity"`
}

// CleaningConfig controls periodic eviction.
type CleaningConfig struct {
	BudgetPerCycle int              `mapstructure:"budget_per_cycle"`
	Traffic        TableCleaning    `mapstructure:"traffic"`
	Topology       TopologyCleaning `mapstructure:"topology"`
	ICMP           TableCleaning    `mapstructure:"icmp"`
	RTT            TableCleaning    `mapstructure:"rtt"`
}

// ─── Delivery ───

// DeliveryConfig controls snapshot delivery to collectors.
type DeliveryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Transport      string        `mapstructure:"transport"` // Comma list of udp, nats, kafka; "both" = udp,nats
	Recipients     []string      `mapstructure:"recipients"`
	Port           int           `mapstructure:"port"`
	MTU            int           `mapstructure:"mtu"`
	TrafficPeriod  time.Duration `mapstructure:"traffic_period"`
	TopologyPeriod time.Duration `mapstructure:"topology_period"`
	ICMPPeriod     time.Duration `mapstructure:"icmp_period"`
	RTTPeriod      time.Duration `mapstructure:"rtt_period"`
	NATS           NATSConfig    `mapstructure:"nats"`
	Kafka          KafkaConfig   `mapstructure:"kafka"`
}

// Transports returns the selected transport names.
func (d DeliveryConfig) Transports() []string {
	var out []string
	for _, t := range strings.Split(d.Transport, ",") {
		switch t = strings.TrimSpace(t); t {
		case "":
		case "both":
			out = append(out, "udp", "nats")
		default:
			out = append(out, t)
		}
	}
	return out
}

// NATSConfig configures the NATS sink.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ─── Misc ───

// MulticastConfig lists the CIDR ranges treated as multicast destinations.
type MulticastConfig struct {
	Ranges []string `mapstructure:"ranges"`
}

// ReplayConfig binds a capture file to a configured interface.
type ReplayConfig struct {
	File      string `mapstructure:"file"`
	Interface string `mapstructure:"interface"`
}

// APIConfig configures the diagnostics HTTP server.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netsensor: ...`.
type configRoot struct {
	NetSensor Config `mapstructure:"netsensor"`
}

// Load loads configuration from file and returns it with an accessor over the
// merged key space.
// The YAML file uses `netsensor:` as root key; env vars use the NETSENSOR_ prefix
// (e.g., NETSENSOR_QUEUE_CAPACITY).
func Load(path string) (*Config, *Accessor, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return fromViper(v)
}

// LoadDefaults returns the default configuration with environment overrides.
func LoadDefaults() (*Config, *Accessor, error) {
	return fromViper(viper.New())
}

func fromViper(v *viper.Viper) (*Config, *Accessor, error) {
	// The `netsensor.` key prefix maps to `NETSENSOR_` via the key replacer
	// (e.g., key "netsensor.log.level" → env "NETSENSOR_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.NetSensor

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, &Accessor{v: v, prefix: rootKey}, nil
}

const rootKey = "netsensor"

// setDefaults sets default values for configuration.
// All keys use "netsensor." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Topology defaults
	v.SetDefault("netsensor.topology.netmask_active", true)
	v.SetDefault("netsensor.topology.netproxy_active", false)
	v.SetDefault("netsensor.topology.store_externals", true)

	// Detection defaults
	v.SetDefault("netsensor.detection.tcp_rtt", true)
	v.SetDefault("netsensor.detection.icmp", true)
	v.SetDefault("netsensor.detection.dedicated_rtt_queue", false)
	v.SetDefault("netsensor.detection.rtt_max_probes", 1024)

	// Traffic defaults
	v.SetDefault("netsensor.traffic.count_multicast", true)
	v.SetDefault("netsensor.traffic.window", "5s")

	// Queue and handler defaults
	v.SetDefault("netsensor.queue.capacity", 10000)
	v.SetDefault("netsensor.queue.rtt_capacity", 0) // 0 = same as capacity
	v.SetDefault("netsensor.queue.backoff", "0s")
	v.SetDefault("netsensor.handler.workers", 0)
	v.SetDefault("netsensor.handler.slow_threshold", "50ms")
	v.SetDefault("netsensor.handler.dequeue_timeout", "100ms")

	// Cleaning defaults
	v.SetDefault("netsensor.cleaning.budget_per_cycle", 10000)
	v.SetDefault("netsensor.cleaning.traffic.period", "3500ms")
	v.SetDefault("netsensor.cleaning.traffic.validity", "5s")
	v.SetDefault("netsensor.cleaning.topology.period", "60s")
	v.SetDefault("netsensor.cleaning.topology.external_period", "5s")
	v.SetDefault("netsensor.cleaning.topology.internal_validity", "60s")
	v.SetDefault("netsensor.cleaning.topology.external_validity", "5s")
	v.SetDefault("netsensor.cleaning.icmp.period", "5s")
	v.SetDefault("netsensor.cleaning.icmp.validity", "5s")
	v.SetDefault("netsensor.cleaning.rtt.period", "5s")
	v.SetDefault("netsensor.cleaning.rtt.validity", "5s")

	// Delivery defaults
	v.SetDefault("netsensor.delivery.enabled", false)
	v.SetDefault("netsensor.delivery.transport", "udp")
	v.SetDefault("netsensor.delivery.port", 8686)
	v.SetDefault("netsensor.delivery.mtu", 1400)
	v.SetDefault("netsensor.delivery.traffic_period", "2s")
	v.SetDefault("netsensor.delivery.topology_period", "5s")
	v.SetDefault("netsensor.delivery.icmp_period", "5s")
	v.SetDefault("netsensor.delivery.rtt_period", "5s")
	v.SetDefault("netsensor.delivery.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("netsensor.delivery.nats.subject", "netsensor.snapshots")
	v.SetDefault("netsensor.delivery.kafka.topic", "netsensor-snapshots")
	v.SetDefault("netsensor.delivery.kafka.compression", "snappy")
	v.SetDefault("netsensor.delivery.kafka.batch_timeout", "100ms")

	// Multicast defaults
	v.SetDefault("netsensor.multicast.ranges", []string{"224.0.0.0/4"})

	// Log defaults
	v.SetDefault("netsensor.log.level", "info")
	v.SetDefault("netsensor.log.file.max_size", 100)
	v.SetDefault("netsensor.log.file.max_backups", 5)
	v.SetDefault("netsensor.log.file.max_age", 30)

	// API defaults
	v.SetDefault("netsensor.api.enabled", true)
	v.SetDefault("netsensor.api.listen", ":9100")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}

	if cfg.Node == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node = hostname
	}

	seen := make(map[string]bool, len(cfg.Interfaces))
	for i := range cfg.Interfaces {
		ic := &cfg.Interfaces[i]
		if ic.Name == "" {
			return fmt.Errorf("%w: interfaces[%d].name is required", core.ErrConfigInvalid, i)
		}
		if seen[ic.Name] {
			return fmt.Errorf("%w: duplicate interface %s", core.ErrConfigInvalid, ic.Name)
		}
		seen[ic.Name] = true

		if _, ok := core.ParseTopologyMode(ic.Mode); !ok {
			return fmt.Errorf("%w: interfaces[%d].mode: unknown mode %q (must be netmask/netproxy)", core.ErrConfigInvalid, i, ic.Mode)
		}
		if ic.Capture.Type == "" {
			ic.Capture.Type = "afpacket"
		}
		if ic.Capture.Type != "afpacket" && ic.Capture.Type != "file" {
			return fmt.Errorf("%w: interfaces[%d].capture.type: unsupported %q", core.ErrConfigInvalid, i, ic.Capture.Type)
		}
		for _, f := range []struct{ key, val string }{{"address", ic.Address}, {"netmask", ic.Netmask}, {"gateway", ic.Gateway}} {
			if f.val == "" {
				continue
			}
			if _, err := netip.ParseAddr(f.val); err != nil {
				return fmt.Errorf("%w: interfaces[%d].%s: %v", core.ErrConfigInvalid, i, f.key, err)
			}
		}
		if ic.MAC != "" {
			if _, err := net.ParseMAC(ic.MAC); err != nil {
				return fmt.Errorf("%w: interfaces[%d].mac: %v", core.ErrConfigInvalid, i, err)
			}
		}
	}

	if cfg.Topology.NetProxyActive {
		for _, m := range []string{cfg.Topology.ProxyInternalMAC, cfg.Topology.ProxyExternalMAC} {
			if m == "" {
				continue
			}
			if _, err := net.ParseMAC(m); err != nil {
				return fmt.Errorf("%w: topology proxy MAC: %v", core.ErrConfigInvalid, err)
			}
		}
	}

	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("%w: queue.capacity must be positive", core.ErrConfigInvalid)
	}
	if cfg.Queue.RTTCapacity <= 0 {
		cfg.Queue.RTTCapacity = cfg.Queue.Capacity
	}
	if cfg.Cleaning.BudgetPerCycle <= 0 {
		return fmt.Errorf("%w: cleaning.budget_per_cycle must be positive", core.ErrConfigInvalid)
	}
	if t := cfg.Cleaning.Topology; t.ExternalPeriod <= 0 || t.ExternalPeriod > t.ExternalValidity {
		return fmt.Errorf("%w: cleaning.topology.external_period must be positive and at most external_validity", core.ErrConfigInvalid)
	}
	if cfg.Detection.RTTMaxProbes <= 0 {
		cfg.Detection.RTTMaxProbes = 1024
	}

	if cfg.Delivery.Enabled {
		transports := cfg.Delivery.Transports()
		if len(transports) == 0 {
			return fmt.Errorf("%w: delivery.transport is required", core.ErrConfigInvalid)
		}
		for _, t := range transports {
			switch t {
			case "udp":
				if len(cfg.Delivery.Recipients) == 0 {
					return fmt.Errorf("%w: delivery.recipients is required for udp transport", core.ErrConfigInvalid)
				}
			case "nats":
			case "kafka":
				if len(cfg.Delivery.Kafka.Brokers) == 0 {
					return fmt.Errorf("%w: delivery.kafka.brokers is required for kafka transport", core.ErrConfigInvalid)
				}
				switch cfg.Delivery.Kafka.Compression {
				case "", "none", "gzip", "snappy", "lz4":
				default:
					return fmt.Errorf("%w: invalid delivery.kafka.compression: %s", core.ErrConfigInvalid, cfg.Delivery.Kafka.Compression)
				}
			default:
				return fmt.Errorf("%w: unsupported delivery.transport: %s (must be udp/nats/kafka)", core.ErrConfigInvalid, t)
			}
		}
		if cfg.Delivery.MTU <= 200 {
			return fmt.Errorf("%w: delivery.mtu too small: %d", core.ErrConfigInvalid, cfg.Delivery.MTU)
		}
	}

	for _, r := range cfg.Multicast.Ranges {
		if _, err := netip.ParsePrefix(r); err != nil {
			return fmt.Errorf("%w: multicast range %q: %v", core.ErrConfigInvalid, r, err)
		}
	}

	return nil
}

// InterfaceByName returns the configuration of the named interface.
func (cfg *Config) InterfaceByName(name string) (InterfaceConfig, bool) {
	for _, ic := range cfg.Interfaces {
		if ic.Name == name {
			return ic, true
		}
	}
	return InterfaceConfig{}, false
}

// DefaultMode returns the topology mode used when an interface does not set one.
func (cfg *Config) DefaultMode() core.TopologyMode {
	if cfg.Topology.NetProxyActive {
		return core.ModeNetProxy
	}
	return core.ModeNetmask
}
