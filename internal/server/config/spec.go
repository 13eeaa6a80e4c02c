package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration for colod.
type Config struct {
	Node        NodeSection        `koanf:"node"`
	Replication ReplicationSection `koanf:"replication"`
	Heartbeat   HeartbeatSection   `koanf:"heartbeat"`
	Network     NetworkSection     `koanf:"network"`
	Storage     StorageSection     `koanf:"storage"`
	Workload    WorkloadSection    `koanf:"workload"`
	Ledger      LedgerSection      `koanf:"ledger"`
	Metrics     MetricsSection     `koanf:"metrics"`
	Log         LogSection         `koanf:"log"`
}

// NodeSection identifies this process.
type NodeSection struct {
	// Role is "primary" or "secondary".
	Role string `koanf:"role"`

	// NodeID names the node in the heartbeat cluster. Generated when empty.
	NodeID string `koanf:"node_id"`

	// DataDir holds the ledger and relative disk directories.
	DataDir string `koanf:"data_dir"`
}

// ReplicationSection configures the checkpoint session.
type ReplicationSection struct {
	// ListenAddr is where the secondary accepts the control channel.
	ListenAddr string `koanf:"listen_addr"`

	// PeerAddr is the secondary address the primary dials.
	PeerAddr string `koanf:"peer_addr"`

	DialTimeout             time.Duration `koanf:"dial_timeout"`
	ForceCheckpointInterval time.Duration `koanf:"force_checkpoint_interval"`
	PollInterval            time.Duration `koanf:"poll_interval"`

	// MinCheckpointInterval rate-limits divergence-triggered checkpoints.
	// Zero disables the limit.
	MinCheckpointInterval time.Duration `koanf:"min_checkpoint_interval"`

	// GraceWindow is how long a failed secondary waits for a failover
	// request before terminating.
	GraceWindow time.Duration `koanf:"grace_window"`

	// BufferSize is the initial checkpoint buffer capacity in bytes.
	BufferSize int `koanf:"buffer_size"`

	// MaxPayloadSize is the largest snapshot in bytes a secondary accepts.
	MaxPayloadSize int64 `koanf:"max_payload_size"`
}

// HeartbeatSection configures gossip-based peer liveness.
type HeartbeatSection struct {
	Enabled       bool          `koanf:"enabled"`
	BindAddr      string        `koanf:"bind_addr"`
	BindPort      int           `koanf:"bind_port"`
	Seeds         []string      `koanf:"seeds"`
	PeerName      string        `koanf:"peer_name"`
	ProbeInterval time.Duration `koanf:"probe_interval"`

	// SecretKey is a base64 gossip encryption key (16, 24 or 32 bytes).
	SecretKey string `koanf:"secret_key"`
}

// NetworkSection configures the network topology script.
type NetworkSection struct {
	Script string      `koanf:"script"`
	IfUp   string      `koanf:"ifup"`
	IfDown string      `koanf:"ifdown"`
	NICs   []NICConfig `koanf:"nics"`
}

// NICConfig is one attached network device.
type NICConfig struct {
	Name   string `koanf:"name"`
	IfName string `koanf:"ifname"`
	Kind   string `koanf:"kind"` // tap (default), hub_port or guest
	Peer   string `koanf:"peer"`
	Script string `koanf:"script"`
	Index  int    `koanf:"index"`
}

// StorageSection lists replicated disks.
type StorageSection struct {
	Disks []DiskConfig `koanf:"disks"`
}

// DiskConfig is one badger-backed disk.
type DiskConfig struct {
	Name     string `koanf:"name"`
	Dir      string `koanf:"dir"`
	ReadOnly bool   `koanf:"read_only"`
}

// WorkloadSection configures the in-memory KV workload.
type WorkloadSection struct {
	// BackingDisk names a storage disk written through by the workload.
	BackingDisk string `koanf:"backing_disk"`

	// APIAddr serves the workload's HTTP KV API. Empty disables it.
	APIAddr string `koanf:"api_addr"`

	// SnapshotKey is a base64 32-byte key sealing checkpoint snapshots.
	// Both nodes must use the same key. Empty sends snapshots in the clear.
	SnapshotKey string `koanf:"snapshot_key"`

	// SnapshotCipher is auto, aes-gcm or chacha20-poly1305.
	SnapshotCipher string `koanf:"snapshot_cipher"`
}

// LedgerSection configures the session ledger.
type LedgerSection struct {
	// Path of the BoltDB file. Defaults to <data_dir>/ledger.db.
	Path string `koanf:"path"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr serves /metrics. Empty disables it.
	Addr string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LedgerPath returns the effective ledger file path.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.Node.DataDir, "ledger.db")
}

// DiskDir returns the effective directory of d; relative paths are under DataDir.
func (c *Config) DiskDir(d DiskConfig) string {
	if filepath.IsAbs(d.Dir) {
		return d.Dir
	}
	return filepath.Join(c.Node.DataDir, d.Dir)
}
