package heartbeat

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(t *testing.T, id, peer string, seeds []string) *Monitor {
	t.Helper()
	m, err := New(Config{
		NodeID:          id,
		BindAddr:        "127.0.0.1",
		BindPort:        0,
		ReplicationAddr: id + ":7400",
		Seeds:           seeds,
		PeerName:        peer,
		Logger:          testLogger(),
	})
	if err != nil {
		t.Fatalf("New(%s) error = %v", id, err)
	}
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func TestNew_RequiresNodeID(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without node id should fail")
	}
}

func TestMonitor_PeerJoinAndLoss(t *testing.T) {
	primary := newTestMonitor(t, "primary", "secondary", nil)

	joined := make(chan string, 1)
	lost := make(chan string, 1)
	primary.OnPeerJoin(func(node, replAddr string) {
		if replAddr != "secondary:7400" {
			t.Errorf("replication addr = %q", replAddr)
		}
		joined <- node
	})
	primary.OnPeerLost(func(node string) { lost <- node })

	secondary := newTestMonitor(t, "secondary", "primary", []string{primary.Addr()})

	select {
	case node := <-joined:
		if node != "secondary" {
			t.Errorf("joined node = %q", node)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("peer join not observed")
	}
	if !primary.PeerAlive() {
		t.Error("PeerAlive() = false after join")
	}
	if n := len(secondary.Members()); n != 2 {
		t.Errorf("Members() = %d, want 2", n)
	}

	if err := secondary.Leave(time.Second); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	secondary.Shutdown()

	select {
	case node := <-lost:
		if node != "secondary" {
			t.Errorf("lost node = %q", node)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("peer loss not observed")
	}
	if primary.PeerAlive() {
		t.Error("PeerAlive() = true after loss")
	}
}

func TestMonitor_ShutdownTwice(t *testing.T) {
	m := newTestMonitor(t, "solo", "", nil)
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

func TestLevelWriter_InfersLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newHCLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), "memberlist")
	std := l.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	std.Print("[WARN] memberlist: refuting a suspect message")
	std.Print("[DEBUG] memberlist: stream connection")
	std.Print("no prefix at all")

	out := buf.String()
	for _, want := range []string{
		`level=WARN msg="memberlist: refuting a suspect message"`,
		`level=DEBUG msg="memberlist: stream connection"`,
		`level=INFO msg="no prefix at all"`,
		"subsystem=memberlist",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHCLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := newHCLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), "x")
	l.SetLevel(hclog.Warn)

	l.Info("dropped")
	l.Warn("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("level filtering failed:\n%s", buf.String())
	}
	if l.IsInfo() || !l.IsWarn() {
		t.Error("IsInfo/IsWarn do not reflect the level")
	}
	if l.Named("child").Name() != "x.child" {
		t.Error("Named() should extend the name")
	}
}

func TestNewRejectsBadSecretKey(t *testing.T) {
	_, err := New(Config{
		NodeID:    "bad-key",
		BindAddr:  "127.0.0.1",
		SecretKey: []byte("short"),
	})
	if err == nil {
		t.Fatal("New() with a 5-byte secret key succeeded")
	}
}
