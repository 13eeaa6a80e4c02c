package config

import "time"

// Default configuration values.
const (
	DefaultDataDir     = "/var/lib/colod"
	DefaultListenAddr  = "0.0.0.0:7070"
	DefaultAPIAddr     = "127.0.0.1:7080"
	DefaultMetricsAddr = "127.0.0.1:9464"

	DefaultDialTimeout             = 5 * time.Second
	DefaultForceCheckpointInterval = 10 * time.Second
	DefaultPollInterval            = 100 * time.Millisecond
	DefaultGraceWindow             = 2 * time.Second
	DefaultBufferSize              = 4 << 20
	DefaultMaxPayloadSize          = 1 << 30

	DefaultHeartbeatPort = 7946

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration. Role is left empty and must
// be set.
func Default() *Config {
	return &Config{
		Node: NodeSection{
			DataDir: DefaultDataDir,
		},
		Replication: ReplicationSection{
			ListenAddr:              DefaultListenAddr,
			DialTimeout:             DefaultDialTimeout,
			ForceCheckpointInterval: DefaultForceCheckpointInterval,
			PollInterval:            DefaultPollInterval,
			GraceWindow:             DefaultGraceWindow,
			BufferSize:              DefaultBufferSize,
			MaxPayloadSize:          DefaultMaxPayloadSize,
		},
		Heartbeat: HeartbeatSection{
			BindAddr: "0.0.0.0",
			BindPort: DefaultHeartbeatPort,
		},
		Workload: WorkloadSection{
			APIAddr: DefaultAPIAddr,
		},
		Metrics: MetricsSection{
			Addr: DefaultMetricsAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
