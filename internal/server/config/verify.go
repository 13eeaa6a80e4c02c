package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yndnr/colo-go/internal/core/domain"
	"github.com/yndnr/colo-go/internal/netconf"
	"github.com/yndnr/colo-go/pkg/seal"
)

// Verify validates the configuration and reports every problem found.
// The returned error matches domain.ErrInvalidConfig.
func Verify(cfg *Config) error {
	var errs []error

	role, err := domain.ParseRole(cfg.Node.Role)
	if err != nil {
		errs = append(errs, fmt.Errorf("node.role: %w", err))
	}
	errs = append(errs, verifyReplication(&cfg.Replication, role)...)
	errs = append(errs, verifyHeartbeat(&cfg.Heartbeat)...)
	errs = append(errs, verifyNetwork(&cfg.Network, role)...)
	errs = append(errs, verifyStorage(cfg)...)
	errs = append(errs, verifyLog(&cfg.Log)...)

	if len(errs) == 0 {
		return nil
	}
	return domain.ErrInvalidConfig.WithCause(errors.Join(errs...))
}

// SnapshotSealer builds the snapshot sealer. It returns nil when no key is
// configured.
func (c *Config) SnapshotSealer() (*seal.Sealer, error) {
	alg, err := seal.ParseAlgorithm(c.Workload.SnapshotCipher)
	if err != nil {
		return nil, fmt.Errorf("workload.snapshot_cipher: %w", err)
	}
	if c.Workload.SnapshotKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Workload.SnapshotKey)
	if err != nil {
		return nil, fmt.Errorf("decode workload.snapshot_key: %w", err)
	}
	s, err := seal.NewWith(key, alg)
	if err != nil {
		return nil, fmt.Errorf("workload.snapshot_key: %w", err)
	}
	return s, nil
}

// Role returns the parsed node role.
func (c *Config) Role() (domain.Role, error) {
	return domain.ParseRole(c.Node.Role)
}

// HeartbeatKey decodes the gossip secret key. It returns nil when unset.
func (c *Config) HeartbeatKey() ([]byte, error) {
	if c.Heartbeat.SecretKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Heartbeat.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("decode heartbeat.secret_key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("heartbeat.secret_key must decode to 16, 24 or 32 bytes, got %d", len(key))
	}
}

func verifyReplication(r *ReplicationSection, role domain.Role) []error {
	var errs []error
	switch role {
	case domain.RoleSecondary:
		if r.ListenAddr == "" {
			errs = append(errs, errors.New("replication.listen_addr is required on the secondary"))
		}
	case domain.RolePrimary:
		if r.PeerAddr == "" {
			errs = append(errs, errors.New("replication.peer_addr is required on the primary"))
		}
	}

	if r.ForceCheckpointInterval <= 0 {
		errs = append(errs, errors.New("replication.force_checkpoint_interval must be positive"))
	}
	if r.PollInterval <= 0 {
		errs = append(errs, errors.New("replication.poll_interval must be positive"))
	}
	if r.MinCheckpointInterval < 0 {
		errs = append(errs, errors.New("replication.min_checkpoint_interval must not be negative"))
	}
	if r.GraceWindow <= 0 {
		errs = append(errs, errors.New("replication.grace_window must be positive"))
	}
	if r.DialTimeout <= 0 {
		errs = append(errs, errors.New("replication.dial_timeout must be positive"))
	}
	if r.BufferSize <= 0 {
		errs = append(errs, errors.New("replication.buffer_size must be positive"))
	}
	if r.MaxPayloadSize <= 0 {
		errs = append(errs, errors.New("replication.max_payload_size must be positive"))
	}
	return errs
}

func verifyHeartbeat(h *HeartbeatSection) []error {
	if !h.Enabled {
		return nil
	}
	var errs []error
	if h.BindPort < 0 || h.BindPort > 65535 {
		errs = append(errs, fmt.Errorf("heartbeat.bind_port %d out of range", h.BindPort))
	}
	if h.ProbeInterval < 0 {
		errs = append(errs, errors.New("heartbeat.probe_interval must not be negative"))
	}
	if _, err := (&Config{Heartbeat: *h}).HeartbeatKey(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func verifyNetwork(n *NetworkSection, role domain.Role) []error {
	if len(n.NICs) == 0 {
		return nil
	}
	var errs []error
	if role == domain.RoleSecondary && (n.IfUp == "" || n.IfDown == "") {
		errs = append(errs, errors.New("network.ifup and network.ifdown are required on the secondary"))
	}

	seen := make(map[string]bool, len(n.NICs))
	for i, nic := range n.NICs {
		if nic.Name == "" {
			errs = append(errs, fmt.Errorf("network.nics[%d].name is required", i))
			continue
		}
		if seen[nic.Name] {
			errs = append(errs, fmt.Errorf("network.nics[%d]: duplicate name %q", i, nic.Name))
		}
		seen[nic.Name] = true

		kind, err := netconf.ParseKind(nic.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("network.nics[%d]: %w", i, err))
			continue
		}
		if kind != netconf.KindTap {
			continue
		}
		if nic.IfName == "" {
			errs = append(errs, fmt.Errorf("network.nics[%d].ifname is required for a tap", i))
		}
		if nic.Script == "" && n.Script == "" {
			errs = append(errs, fmt.Errorf("network.nics[%d]: no script configured", i))
		}
	}
	return errs
}

func verifyStorage(cfg *Config) []error {
	var errs []error
	disks := make(map[string]DiskConfig, len(cfg.Storage.Disks))
	for i, d := range cfg.Storage.Disks {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("storage.disks[%d].name is required", i))
			continue
		}
		if _, dup := disks[d.Name]; dup {
			errs = append(errs, fmt.Errorf("storage.disks[%d]: duplicate name %q", i, d.Name))
		}
		if d.Dir == "" {
			errs = append(errs, fmt.Errorf("storage.disks[%d].dir is required", i))
		}
		disks[d.Name] = d
	}
	if len(cfg.Storage.Disks) > 0 && cfg.Node.DataDir == "" {
		for _, d := range cfg.Storage.Disks {
			if d.Dir != "" && !filepath.IsAbs(d.Dir) {
				errs = append(errs, fmt.Errorf("storage disk %q has a relative dir and node.data_dir is empty", d.Name))
			}
		}
	}
	if cfg.Node.DataDir == "" && cfg.Ledger.Path == "" {
		errs = append(errs, errors.New("node.data_dir or ledger.path is required"))
	}

	if _, err := cfg.SnapshotSealer(); err != nil {
		errs = append(errs, err)
	}

	if name := cfg.Workload.BackingDisk; name != "" {
		d, ok := disks[name]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("workload.backing_disk %q is not a configured disk", name))
		case d.ReadOnly:
			errs = append(errs, fmt.Errorf("workload.backing_disk %q is read-only", name))
		}
	}
	return errs
}

func verifyLog(l *LogSection) []error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", l.Format))
	}
	return errs
}
