package blockrepl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/colo-go/internal/core/domain"
)

func openTestDisk(t *testing.T, readOnly bool) *BadgerDisk {
	t.Helper()

	cfg := DefaultDiskConfig("data", t.TempDir())
	cfg.GCInterval = time.Hour
	cfg.ReadOnly = readOnly

	d, err := OpenBadgerDisk(cfg, testLogger())
	if err != nil {
		t.Fatalf("OpenBadgerDisk() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func mustGet(t *testing.T, d *BadgerDisk, key string) string {
	t.Helper()
	v, err := d.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	return string(v)
}

func TestBadgerDisk_BasicOperations(t *testing.T) {
	d := openTestDisk(t, false)

	if err := d.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, d, "k1"); got != "v1" {
		t.Errorf("Get() = %q, want v1", got)
	}

	if err := d.Delete([]byte("k1")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Get([]byte("k1")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrKeyNotFound", err)
	}
}

func TestBadgerDisk_SecondaryCheckpointDiscardsOverlay(t *testing.T) {
	d := openTestDisk(t, false)
	ctx := context.Background()

	d.Put([]byte("base"), []byte("v0"))

	if err := d.StartReplication(ctx, domain.RoleSecondary); err != nil {
		t.Fatalf("StartReplication() error = %v", err)
	}

	d.Put([]byte("base"), []byte("local"))
	d.Put([]byte("new"), []byte("local"))
	if got := mustGet(t, d, "base"); got != "local" {
		t.Errorf("overlay should shadow base, got %q", got)
	}

	stats, _ := d.Stats()
	if stats.OverlayKeys != 2 {
		t.Errorf("OverlayKeys = %d, want 2", stats.OverlayKeys)
	}

	if err := d.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if got := mustGet(t, d, "base"); got != "v0" {
		t.Errorf("after checkpoint Get() = %q, want v0", got)
	}
	if _, err := d.Get([]byte("new")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("discarded key still visible: %v", err)
	}

	stats, _ = d.Stats()
	if stats.Discarded != 2 || stats.Checkpoints != 1 {
		t.Errorf("Discarded = %d, Checkpoints = %d", stats.Discarded, stats.Checkpoints)
	}
}

func TestBadgerDisk_SecondaryStopMergesOverlay(t *testing.T) {
	d := openTestDisk(t, false)
	ctx := context.Background()

	d.Put([]byte("keep"), []byte("v0"))
	d.Put([]byte("gone"), []byte("v0"))

	d.StartReplication(ctx, domain.RoleSecondary)
	d.Put([]byte("keep"), []byte("v1"))
	d.Delete([]byte("gone"))
	if _, err := d.Get([]byte("gone")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("tombstone should hide base key, got %v", err)
	}

	if err := d.StopReplication(ctx); err != nil {
		t.Fatalf("StopReplication() error = %v", err)
	}

	if got := mustGet(t, d, "keep"); got != "v1" {
		t.Errorf("Get(keep) = %q, want v1", got)
	}
	if _, err := d.Get([]byte("gone")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(gone) error = %v, want ErrKeyNotFound", err)
	}

	var keys []string
	d.Scan(nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	if len(keys) != 1 || keys[0] != "keep" {
		t.Errorf("Scan() keys = %q, want [keep]", keys)
	}

	stats, _ := d.Stats()
	if stats.OverlayKeys != 0 || stats.Merged != 2 {
		t.Errorf("OverlayKeys = %d, Merged = %d", stats.OverlayKeys, stats.Merged)
	}
}

func TestBadgerDisk_PrimaryWritesBase(t *testing.T) {
	d := openTestDisk(t, false)
	ctx := context.Background()

	d.StartReplication(ctx, domain.RolePrimary)
	d.Put([]byte("k"), []byte("v"))
	if err := d.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	stats, _ := d.Stats()
	if stats.OverlayKeys != 0 {
		t.Error("primary writes should not use the overlay")
	}
	if err := d.StopReplication(ctx); err != nil {
		t.Fatalf("StopReplication() error = %v", err)
	}
	if got := mustGet(t, d, "k"); got != "v" {
		t.Errorf("Get() = %q", got)
	}
}

func TestBadgerDisk_ReadOnly(t *testing.T) {
	d := openTestDisk(t, true)
	if err := d.Put([]byte("k"), []byte("v")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Put() error = %v, want ErrReadOnly", err)
	}
	if !d.ReadOnly() {
		t.Error("ReadOnly() = false")
	}
}

func TestBadgerDisk_ReplicatorIntegration(t *testing.T) {
	d := openTestDisk(t, false)
	r := NewReplicator(testLogger(), d)
	ctx := context.Background()

	if err := r.Start(ctx, domain.RoleSecondary); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d.Put([]byte("k"), []byte("v"))
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := mustGet(t, d, "k"); got != "v" {
		t.Errorf("Get() = %q, want v", got)
	}
}

func TestBadgerDisk_Collectors(t *testing.T) {
	d := openTestDisk(t, false)
	if n := len(d.Collectors()); n != 3 {
		t.Errorf("Collectors() = %d, want 3", n)
	}
}

func TestBadgerDisk_Closed(t *testing.T) {
	d := openTestDisk(t, false)
	d.Close()
	if err := d.Put([]byte("k"), []byte("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() after Close error = %v, want ErrClosed", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
