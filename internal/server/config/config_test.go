package config

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/colo-go/internal/core/domain"
)

func validPrimary() *Config {
	cfg := Default()
	cfg.Node.Role = "primary"
	cfg.Replication.PeerAddr = "10.0.0.2:7070"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Replication.ForceCheckpointInterval != DefaultForceCheckpointInterval {
		t.Errorf("ForceCheckpointInterval = %v", cfg.Replication.ForceCheckpointInterval)
	}
	if cfg.Replication.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v", cfg.Replication.PollInterval)
	}
	if cfg.Replication.GraceWindow != DefaultGraceWindow {
		t.Errorf("GraceWindow = %v", cfg.Replication.GraceWindow)
	}
	if cfg.Replication.BufferSize != 4*1024*1024 {
		t.Errorf("BufferSize = %d, want 4 MiB", cfg.Replication.BufferSize)
	}
	if cfg.Replication.MaxPayloadSize != 1<<30 {
		t.Errorf("MaxPayloadSize = %d, want 1 GiB", cfg.Replication.MaxPayloadSize)
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Node.Role != "" {
		t.Error("Default() should leave the role unset")
	}
}

func TestVerify_Valid(t *testing.T) {
	if err := Verify(validPrimary()); err != nil {
		t.Fatalf("Verify(primary) error = %v", err)
	}

	sec := Default()
	sec.Node.Role = "secondary"
	if err := Verify(sec); err != nil {
		t.Fatalf("Verify(secondary) error = %v", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown role", func(c *Config) { c.Node.Role = "observer" }, "node.role"},
		{"primary without peer", func(c *Config) { c.Replication.PeerAddr = "" }, "peer_addr"},
		{"secondary without listen", func(c *Config) {
			c.Node.Role = "secondary"
			c.Replication.ListenAddr = ""
		}, "listen_addr"},
		{"zero force interval", func(c *Config) { c.Replication.ForceCheckpointInterval = 0 }, "force_checkpoint_interval"},
		{"zero poll interval", func(c *Config) { c.Replication.PollInterval = 0 }, "poll_interval"},
		{"negative min interval", func(c *Config) { c.Replication.MinCheckpointInterval = -1 }, "min_checkpoint_interval"},
		{"zero grace window", func(c *Config) { c.Replication.GraceWindow = 0 }, "grace_window"},
		{"zero buffer", func(c *Config) { c.Replication.BufferSize = 0 }, "buffer_size"},
		{"zero max payload", func(c *Config) { c.Replication.MaxPayloadSize = 0 }, "max_payload_size"},
		{"secondary nics without ifup", func(c *Config) {
			c.Node.Role = "secondary"
			c.Network.Script = "/etc/colo/net.sh"
			c.Network.NICs = []NICConfig{{Name: "net0", IfName: "tap0"}}
		}, "ifup"},
		{"tap without script", func(c *Config) {
			c.Network.NICs = []NICConfig{{Name: "net0", IfName: "tap0"}}
		}, "no script"},
		{"bad nic kind", func(c *Config) {
			c.Network.NICs = []NICConfig{{Name: "net0", Kind: "bridge"}}
		}, "nic kind"},
		{"duplicate disk", func(c *Config) {
			c.Storage.Disks = []DiskConfig{{Name: "d", Dir: "a"}, {Name: "d", Dir: "b"}}
		}, "duplicate"},
		{"unknown backing disk", func(c *Config) { c.Workload.BackingDisk = "nope" }, "backing_disk"},
		{"read-only backing disk", func(c *Config) {
			c.Storage.Disks = []DiskConfig{{Name: "d", Dir: "a", ReadOnly: true}}
			c.Workload.BackingDisk = "d"
		}, "read-only"},
		{"bad secret key", func(c *Config) {
			c.Heartbeat.Enabled = true
			c.Heartbeat.SecretKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, "secret_key"},
		{"short snapshot key", func(c *Config) {
			c.Workload.SnapshotKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, "snapshot_key"},
		{"unknown snapshot cipher", func(c *Config) { c.Workload.SnapshotCipher = "rot13" }, "snapshot_cipher"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validPrimary()
			tt.mutate(cfg)
			err := Verify(cfg)
			if err == nil {
				t.Fatal("Verify() error = nil")
			}
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("error %v does not match ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestVerify_ReportsEveryProblem(t *testing.T) {
	cfg := validPrimary()
	cfg.Replication.PollInterval = 0
	cfg.Replication.BufferSize = -1

	err := Verify(cfg)
	if err == nil {
		t.Fatal("Verify() error = nil")
	}
	for _, want := range []string{"poll_interval", "buffer_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.Node.DataDir = "/data"

	if got := cfg.LedgerPath(); got != "/data/ledger.db" {
		t.Errorf("LedgerPath() = %q", got)
	}
	cfg.Ledger.Path = "/elsewhere/l.db"
	if got := cfg.LedgerPath(); got != "/elsewhere/l.db" {
		t.Errorf("LedgerPath() = %q", got)
	}

	if got := cfg.DiskDir(DiskConfig{Dir: "disk0"}); got != "/data/disk0" {
		t.Errorf("DiskDir(relative) = %q", got)
	}
	if got := cfg.DiskDir(DiskConfig{Dir: "/mnt/d"}); got != "/mnt/d" {
		t.Errorf("DiskDir(absolute) = %q", got)
	}
}

func TestHeartbeatKey(t *testing.T) {
	cfg := Default()
	if key, err := cfg.HeartbeatKey(); err != nil || key != nil {
		t.Fatalf("HeartbeatKey() unset = %v, %v", key, err)
	}

	raw := []byte("0123456789abcdef")
	cfg.Heartbeat.SecretKey = base64.StdEncoding.EncodeToString(raw)
	key, err := cfg.HeartbeatKey()
	if err != nil || string(key) != string(raw) {
		t.Fatalf("HeartbeatKey() = %q, %v", key, err)
	}

	cfg.Heartbeat.SecretKey = "!!!"
	if _, err := cfg.HeartbeatKey(); err == nil {
		t.Error("HeartbeatKey() accepted invalid base64")
	}
}

func TestSnapshotSealer(t *testing.T) {
	cfg := Default()
	if s, err := cfg.SnapshotSealer(); err != nil || s != nil {
		t.Fatalf("SnapshotSealer() unset = %v, %v", s, err)
	}

	cfg.Workload.SnapshotKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cfg.Workload.SnapshotCipher = "chacha20-poly1305"
	s, err := cfg.SnapshotSealer()
	if err != nil {
		t.Fatalf("SnapshotSealer() error = %v", err)
	}
	if got := s.Algorithm().String(); got != "chacha20-poly1305" {
		t.Errorf("Algorithm() = %q", got)
	}

	cfg.Workload.SnapshotKey = "%%%"
	if _, err := cfg.SnapshotSealer(); err == nil {
		t.Error("SnapshotSealer() accepted invalid base64")
	}
}

func TestSanitize(t *testing.T) {
	cfg := Default()
	cfg.Heartbeat.SecretKey = "c2VjcmV0LWtleS0xMjM0NQ=="

	sanitized := Sanitize(cfg)

	if cfg.Heartbeat.SecretKey != "c2VjcmV0LWtleS0xMjM0NQ==" {
		t.Error("Sanitize modified the original")
	}
	if sanitized.Heartbeat.SecretKey == cfg.Heartbeat.SecretKey {
		t.Error("secret key not masked")
	}
	if len(sanitized.Heartbeat.SecretKey) != len(cfg.Heartbeat.SecretKey) {
		t.Error("masked key length changed")
	}
	cfg.Workload.SnapshotKey = "c25hcHNob3Qta2V5LTEyMzQ1Ng=="
	if Sanitize(cfg).Workload.SnapshotKey == cfg.Workload.SnapshotKey {
		t.Error("snapshot key not masked")
	}
	if got := maskSecret("abc"); got != "****" {
		t.Errorf("maskSecret(short) = %q", got)
	}
}
