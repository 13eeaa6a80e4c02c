package blockrepl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrReadOnly    = errors.New("disk is read-only")
	ErrClosed      = errors.New("disk closed")
)

var (
	basePrefix    = []byte("b/")
	overlayPrefix = []byte("o/")
)

// overlay value markers
const (
	markValue     byte = 0
	markTombstone byte = 1
)

// DiskConfig configures a BadgerDisk.
type DiskConfig struct {
	// Name identifies the disk in logs and metrics.
	Name string

	// Dir is the storage directory.
	Dir string

	// ReadOnly disks serve reads and are skipped by replication.
	ReadOnly bool

	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64

	// SyncWrites enables fsync after each write.
	SyncWrites bool
}

// DefaultDiskConfig returns the default configuration for a disk in dir.
func DefaultDiskConfig(name, dir string) DiskConfig {
	return DiskConfig{
		Name:        name,
		Dir:         dir,
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		CacheSize:   16 << 20,
	}
}

// DiskStats contains disk statistics.
type DiskStats struct {
	LSMSize      uint64
	ValueLogSize uint64
	OverlayKeys  uint64
	Checkpoints  uint64
	Discarded    uint64
	Merged       uint64
}

// BadgerDisk is a key-value backing store on Badger v3 that supports
// checkpoint replication.
type BadgerDisk struct {
	db     *badger.DB
	cfg    DiskConfig
	logger *slog.Logger

	mu          sync.RWMutex
	role        domain.Role
	replicating bool
	closed      bool

	checkpoints atomic.Uint64
	discarded   atomic.Uint64
	merged      atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenBadgerDisk opens (or creates) a disk.
func OpenBadgerDisk(cfg DiskConfig, logger *slog.Logger) (*BadgerDisk, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("badger: name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = 0.5
	}
	logger = logger.With("disk", cfg.Name)

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	d := &BadgerDisk{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go d.gcLoop()

	logger.Info("disk opened",
		"dir", cfg.Dir,
		"read_only", cfg.ReadOnly,
		"gc_interval", cfg.GCInterval)

	return d, nil
}

// Name returns the disk name.
func (d *BadgerDisk) Name() string { return d.cfg.Name }

// ReadOnly reports whether the disk rejects writes.
func (d *BadgerDisk) ReadOnly() bool { return d.cfg.ReadOnly }

// Get retrieves a value. While the secondary replicates, overlay entries
// shadow the base.
func (d *BadgerDisk) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		if d.useOverlay() {
			item, err := txn.Get(prefixed(overlayPrefix, key))
			switch {
			case err == nil:
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if len(v) == 0 || v[0] == markTombstone {
					return ErrKeyNotFound
				}
				value = v[1:]
				return nil
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
		}

		item, err := txn.Get(prefixed(basePrefix, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores a key-value pair.
func (d *BadgerDisk) Put(key, value []byte) error {
	return d.write(key, value, false)
}

// Delete removes a key.
func (d *BadgerDisk) Delete(key []byte) error {
	return d.write(key, nil, true)
}

func (d *BadgerDisk) write(key, value []byte, tombstone bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	if d.cfg.ReadOnly {
		return ErrReadOnly
	}

	return d.db.Update(func(txn *badger.Txn) error {
		if d.useOverlay() {
			mark := markValue
			if tombstone {
				mark = markTombstone
			}
			v := make([]byte, 0, len(value)+1)
			v = append(v, mark)
			v = append(v, value...)
			return txn.Set(prefixed(overlayPrefix, key), v)
		}
		if tombstone {
			return txn.Delete(prefixed(basePrefix, key))
		}
		return txn.Set(prefixed(basePrefix, key), value)
	})
}

// Scan iterates over visible keys with the given prefix, in key order.
// Overlay entries are not merged into the iteration; Scan sees the base.
func (d *BadgerDisk) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixed(basePrefix, prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.Key()[len(basePrefix):], value) {
				break
			}
		}
		return nil
	})
}

// StartReplication implements Disk.
func (d *BadgerDisk) StartReplication(ctx context.Context, role domain.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.replicating {
		return fmt.Errorf("disk %s already replicating", d.cfg.Name)
	}
	if !role.Valid() {
		return domain.ErrInvalidRole.WithDetails(role.String())
	}

	// stale overlay from an earlier session is meaningless now
	if err := d.db.DropPrefix(overlayPrefix); err != nil {
		return fmt.Errorf("drop stale overlay: %w", err)
	}

	d.role = role
	d.replicating = true
	d.logger.Info("disk replication started", "role", role.String())
	return nil
}

// Checkpoint implements Disk.
func (d *BadgerDisk) Checkpoint(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.replicating {
		return nil
	}

	if d.role == domain.RoleSecondary {
		n, err := d.countOverlay()
		if err != nil {
			return err
		}
		if err := d.db.DropPrefix(overlayPrefix); err != nil {
			return fmt.Errorf("discard overlay: %w", err)
		}
		d.discarded.Add(n)
	} else if err := d.db.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	d.checkpoints.Add(1)
	return nil
}

// StopReplication implements Disk. On the secondary the overlay is merged
// into the base.
func (d *BadgerDisk) StopReplication(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.replicating {
		return nil
	}
	d.replicating = false

	if d.role == domain.RoleSecondary {
		n, err := d.mergeOverlay()
		if err != nil {
			return err
		}
		d.merged.Add(n)
		d.logger.Info("disk overlay merged", "keys", n)
	}

	if err := d.db.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	d.logger.Info("disk replication stopped", "role", d.role.String())
	return nil
}

// Stats returns disk statistics.
func (d *BadgerDisk) Stats() (DiskStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return DiskStats{}, ErrClosed
	}

	lsm, vlog := d.db.Size()
	overlay, err := d.countOverlay()
	if err != nil {
		return DiskStats{}, err
	}
	return DiskStats{
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		OverlayKeys:  overlay,
		Checkpoints:  d.checkpoints.Load(),
		Discarded:    d.discarded.Load(),
		Merged:       d.merged.Load(),
	}, nil
}

// Close stops background GC and closes the database.
func (d *BadgerDisk) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	d.logger.Info("disk closed")
	return nil
}

// Collectors returns Prometheus collectors describing the disk.
func (d *BadgerDisk) Collectors() []prometheus.Collector {
	labels := prometheus.Labels{"disk": d.cfg.Name}
	stat := func(pick func(DiskStats) uint64) func() float64 {
		return func() float64 {
			s, err := d.Stats()
			if err != nil {
				return 0
			}
			return float64(pick(s))
		}
	}

	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "colo",
			Subsystem:   "disk",
			Name:        "lsm_size_bytes",
			Help:        "Badger LSM tree size in bytes",
			ConstLabels: labels,
		}, stat(func(s DiskStats) uint64 { return s.LSMSize })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "colo",
			Subsystem:   "disk",
			Name:        "value_log_size_bytes",
			Help:        "Badger value log size in bytes",
			ConstLabels: labels,
		}, stat(func(s DiskStats) uint64 { return s.ValueLogSize })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "colo",
			Subsystem:   "disk",
			Name:        "overlay_keys",
			Help:        "Keys written on the secondary since the last checkpoint",
			ConstLabels: labels,
		}, stat(func(s DiskStats) uint64 { return s.OverlayKeys })),
	}
}

// useOverlay must be called with mu held.
func (d *BadgerDisk) useOverlay() bool {
	return d.replicating && d.role == domain.RoleSecondary
}

func (d *BadgerDisk) countOverlay() (uint64, error) {
	var n uint64
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = overlayPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (d *BadgerDisk) mergeOverlay() (uint64, error) {
	type op struct {
		key   []byte
		value []byte
	}
	var ops []op

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = overlayPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			ops = append(ops, op{key: item.KeyCopy(nil)[len(overlayPrefix):], value: v})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read overlay: %w", err)
	}

	wb := d.db.NewWriteBatch()
	for _, o := range ops {
		base := prefixed(basePrefix, o.key)
		if len(o.value) == 0 || o.value[0] == markTombstone {
			err = wb.Delete(base)
		} else {
			err = wb.Set(base, o.value[1:])
		}
		if err != nil {
			wb.Cancel()
			return 0, fmt.Errorf("merge overlay: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("merge overlay: %w", err)
	}

	if err := d.db.DropPrefix(overlayPrefix); err != nil {
		return 0, fmt.Errorf("drop merged overlay: %w", err)
	}
	return uint64(len(ops)), nil
}

// gcLoop runs periodic value log garbage collection.
func (d *BadgerDisk) gcLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				if err := d.db.RunValueLogGC(d.cfg.GCThreshold); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						d.logger.Error("value log gc failed", "error", err)
					}
					break
				}
			}
		case <-d.stopCh:
			return
		}
	}
}

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
