package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_StopIdempotent(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.StartAsync()
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestWatcher_NonexistentDir(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Watch("/nonexistent/dir/colod.yaml"); err == nil {
		t.Error("Watch() on missing directory should fail")
	}
}

func TestWatcher_FileChange(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "colod.yaml")
	other := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(target, []byte("a: 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Watch(target); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	changed := make(chan string, 16)
	w.OnChange(func(path string) {
		select {
		case changed <- path:
		default:
		}
	})
	w.StartAsync()
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(other, []byte("b: 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("a: 2"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case path := <-changed:
		if path != filepath.Clean(target) {
			t.Errorf("callback path = %q, want %q", path, target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnChange callback not triggered")
	}

	// drain, then make sure the other file never showed up
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case path := <-changed:
			if path != filepath.Clean(target) {
				t.Errorf("callback for unwatched file %q", path)
			}
		case <-deadline:
			return
		}
	}
}
