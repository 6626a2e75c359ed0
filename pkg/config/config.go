// Package config holds the immutable configuration record consumed at
// procctx.Initialize. It mirrors the option groups an external YAML loader
// would populate; this module never reads a file itself — loading from
// YAML is explicitly out of scope, consistent with spec.md §1.
package config

import "time"

// UDPMode selects how the UDP transport addresses its peers.
type UDPMode string

const (
	UDPMulticast UDPMode = "multicast"
	UDPUnicast   UDPMode = "unicast"
)

// LoggingMode selects the logging sink.
type LoggingMode string

const (
	LoggingConsole LoggingMode = "console"
	LoggingFile    LoggingMode = "file"
	LoggingUDP     LoggingMode = "udp"
)

// Registration groups the registration layer's options.
type Registration struct {
	RefreshIntervalMS int64  `yaml:"refresh_interval_ms"`
	TimeoutMS         int64  `yaml:"timeout_ms"`
	LayerUDPEnable    bool   `yaml:"layer_udp_enable"`
	LayerSHMEnable    bool   `yaml:"layer_shm_enable"`
	HostGroupName     string `yaml:"host_group_name"`
	NetworkEnabled    bool   `yaml:"network_enabled"`
}

// UDPLayer groups the UDP transport's options.
type UDPLayer struct {
	Mode UDPMode `yaml:"mode"`
	Port int     `yaml:"port"`
	TTL  int     `yaml:"ttl"`
	Mask string  `yaml:"mask"`
}

// TCPLayer groups the TCP transport's options.
type TCPLayer struct {
	Enable                     bool `yaml:"enable"`
	NumberOfExecutorReaders    int  `yaml:"number_of_executor_reader_threads"`
	NumberOfExecutorWriters    int  `yaml:"number_of_executor_writer_threads"`
}

// SHMLayer groups the shared-memory transport's options.
type SHMLayer struct {
	Enable                 bool  `yaml:"enable"`
	MemfileMinSizeBytes    int64 `yaml:"memfile_min_size_bytes"`
	MemfileReservePercent  int   `yaml:"memfile_reserve_percent"`
	AckTimeoutMS           int64 `yaml:"ack_timeout_ms"`
	ZeroCopy               bool  `yaml:"zero_copy"`
}

// TransportLayer groups all transport options.
type TransportLayer struct {
	UDP UDPLayer `yaml:"udp"`
	TCP TCPLayer `yaml:"tcp"`
	SHM SHMLayer `yaml:"shm"`
}

// Subscriber groups the subscriber's options.
type Subscriber struct {
	DropOutOfOrder       bool  `yaml:"drop_out_of_order"`
	FilterExpiredSamples int64 `yaml:"filter_expired_samples_ms"`
}

// Publisher groups the publisher's options.
type Publisher struct {
	LayerPriorityLocal  []string `yaml:"layer_priority_local"`
	LayerPriorityRemote []string `yaml:"layer_priority_remote"`
}

// Service groups the service server/client protocol options.
type Service struct {
	ProtocolV0Enable bool `yaml:"protocol_v0_enable"`
	ProtocolV1Enable bool `yaml:"protocol_v1_enable"`
}

// Monitoring groups the monitoring aggregator's options.
type Monitoring struct {
	TimeoutMS     int64  `yaml:"timeout_ms"`
	FilterExcl    string `yaml:"filter_excl"`
	FilterIncl    string `yaml:"filter_incl"`
	FilterEnabled bool   `yaml:"filter_enabled"`
}

// Logging groups the logging options.
type Logging struct {
	Level string      `yaml:"level"`
	Mode  LoggingMode `yaml:"mode"`
}

// Config is the full, immutable configuration record.
type Config struct {
	Registration   Registration   `yaml:"registration"`
	TransportLayer TransportLayer `yaml:"transport_layer"`
	Subscriber     Subscriber     `yaml:"subscriber"`
	Publisher      Publisher      `yaml:"publisher"`
	Service        Service        `yaml:"service"`
	Monitoring     Monitoring     `yaml:"monitoring"`
	Logging        Logging        `yaml:"logging"`
}

// Default returns the configuration record with every default named in
// spec.md §4.2.
func Default() Config {
	return Config{
		Registration: Registration{
			RefreshIntervalMS: 1000,
			TimeoutMS:         5100,
			LayerUDPEnable:    true,
			LayerSHMEnable:    true,
			NetworkEnabled:    true,
		},
		TransportLayer: TransportLayer{
			UDP: UDPLayer{
				Mode: UDPMulticast,
				Port: 14000,
				TTL:  2,
				Mask: "239.0.0.0/8",
			},
			TCP: TCPLayer{
				Enable:                  true,
				NumberOfExecutorReaders: 4,
				NumberOfExecutorWriters: 4,
			},
			SHM: SHMLayer{
				Enable:                true,
				MemfileMinSizeBytes:   4096,
				MemfileReservePercent: 50,
				AckTimeoutMS:          100,
				ZeroCopy:              false,
			},
		},
		Subscriber: Subscriber{
			DropOutOfOrder: true,
		},
		Publisher: Publisher{
			LayerPriorityLocal:  []string{"shm", "udp", "tcp"},
			LayerPriorityRemote: []string{"udp", "tcp"},
		},
		Service: Service{
			ProtocolV0Enable: false,
			ProtocolV1Enable: true,
		},
		Monitoring: Monitoring{
			TimeoutMS: 5100,
		},
		Logging: Logging{
			Level: "info",
			Mode:  LoggingConsole,
		},
	}
}

// RefreshInterval returns the registration refresh interval as a Duration.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Registration.RefreshIntervalMS) * time.Millisecond
}

// RegistrationTimeout returns the registration timeout as a Duration.
func (c Config) RegistrationTimeout() time.Duration {
	return time.Duration(c.Registration.TimeoutMS) * time.Millisecond
}

// MonitoringTimeout returns the monitoring timeout as a Duration.
func (c Config) MonitoringTimeout() time.Duration {
	return time.Duration(c.Monitoring.TimeoutMS) * time.Millisecond
}

// AckTimeout returns the shared-memory ack timeout as a Duration.
func (c SHMLayer) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

// Timeout returns the monitoring staleness window as a Duration, the
// value pkg/monitor's GetMonitoring uses to hide entities that have not
// refreshed recently enough, independent of the registration layer's own
// Registration.TimeoutMS-driven purge.
func (c Monitoring) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
