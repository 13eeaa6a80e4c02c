package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func TestLedger_SessionLifecycle(t *testing.T) {
	l := New(raft.NewInmemStore())
	defer l.Close()

	start := time.Unix(1700000000, 0).UTC()
	if err := l.Begin("01HX", "primary", "10.0.0.2:7400", start); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for seq := uint64(1); seq <= 3; seq++ {
		if err := l.Checkpoint("01HX", seq, 4096, 0xdeadbeef+seq); err != nil {
			t.Fatalf("Checkpoint() error = %v", err)
		}
	}
	if err := l.Finish("01HX", "completed", "peer lost", start.Add(time.Minute)); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	e, err := l.Get("01HX")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Role != "primary" || e.Peer != "10.0.0.2:7400" {
		t.Errorf("entry = %+v", e)
	}
	if e.Checkpoints != 3 || e.LastSeq != 3 || e.LastDigest != 0xdeadbeef+3 {
		t.Errorf("checkpoints = %d, last seq = %d, digest = %x", e.Checkpoints, e.LastSeq, e.LastDigest)
	}
	if e.State != "completed" || e.Reason != "peer lost" {
		t.Errorf("state = %q, reason = %q", e.State, e.Reason)
	}
	if !e.EndedAt.Equal(start.Add(time.Minute)) {
		t.Errorf("EndedAt = %v", e.EndedAt)
	}

	sessions, checkpoints, err := l.Totals()
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if sessions != 1 || checkpoints != 3 {
		t.Errorf("Totals() = %d, %d, want 1, 3", sessions, checkpoints)
	}
}

func TestLedger_Last(t *testing.T) {
	l := New(raft.NewInmemStore())

	if _, err := l.Last(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Last() on empty ledger error = %v, want ErrNotFound", err)
	}

	l.Begin("a", "secondary", "", time.Now())
	l.Begin("b", "secondary", "", time.Now())

	e, err := l.Last()
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if e.SessionID != "b" {
		t.Errorf("Last() = %q, want b", e.SessionID)
	}
}

func TestLedger_UnknownSession(t *testing.T) {
	l := New(raft.NewInmemStore())
	if err := l.Checkpoint("missing", 1, 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Checkpoint() error = %v, want ErrNotFound", err)
	}
}

func TestLedger_BoltPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := l.Begin("s1", "primary", "peer", time.Now()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := l.Checkpoint("s1", 1, 10, 42); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l.Close()

	e, err := l.Last()
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if e.SessionID != "s1" || e.LastDigest != 42 {
		t.Errorf("entry after reopen = %+v", e)
	}
	sessions, checkpoints, _ := l.Totals()
	if sessions != 1 || checkpoints != 1 {
		t.Errorf("Totals() = %d, %d", sessions, checkpoints)
	}
}
