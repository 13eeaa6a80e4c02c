package memkv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack"

	"github.com/yndnr/colo-go/pkg/cmap"
)

// snapshotVersion is bumped when the encoded layout changes.
const snapshotVersion = 1

var (
	// ErrEmptyKey is returned for writes with an empty key.
	ErrEmptyKey = errors.New("memkv: empty key")
	// ErrUnsupportedSnapshot is returned by ApplyFrom for an unknown layout.
	ErrUnsupportedSnapshot = errors.New("memkv: unsupported snapshot version")
)

// Sealer encrypts snapshots. Both sides of a pair must share its key.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// snapshotAAD binds sealed snapshots to this layout.
var snapshotAAD = []byte("memkv/snapshot/v1")

// Backing is a persistent store written through on every mutation.
type Backing interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Scan(prefix []byte, fn func(key, value []byte) bool) error
}

type entry struct {
	Key   string `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

type snapshot struct {
	Version int     `msgpack:"ver"`
	Writes  uint64  `msgpack:"writes"`
	Entries []entry `msgpack:"entries"`
}

// Store is the workload.
type Store struct {
	data    *cmap.Map[[]byte]
	backing Backing
	sealer  Sealer
	logger  *slog.Logger

	// gate is read-held by every mutation and write-held while stopped.
	gate    sync.RWMutex
	ctl     sync.Mutex
	stopped atomic.Bool
	writes  atomic.Uint64

	cacheMu sync.Mutex
	staging []entry
}

// Option configures a Store.
type Option func(*Store)

// WithBacking writes every mutation through to b.
func WithBacking(b Backing) Option {
	return func(s *Store) { s.backing = b }
}

// WithSealer encrypts every captured snapshot and requires applied ones to
// be sealed with the same key.
func WithSealer(sl Sealer) Option {
	return func(s *Store) { s.sealer = sl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a running, empty store.
func New(opts ...Option) *Store {
	s := &Store{
		data:   cmap.New[[]byte](),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load fills the store from its backing store, replacing the current contents.
func (s *Store) Load() error {
	if s.backing == nil {
		return nil
	}
	var items []cmap.Item[[]byte]
	err := s.backing.Scan(nil, func(k, v []byte) bool {
		items = append(items, cmap.Item[[]byte]{Key: string(k), Value: v})
		return true
	})
	if err != nil {
		return fmt.Errorf("load from backing: %w", err)
	}
	s.data.Replace(items)
	s.logger.Info("workload loaded", "keys", len(items))
	return nil
}

// Persist rewrites the backing store to match the in-memory contents.
// A promoted secondary calls it because applied snapshots bypass the
// write-through path.
func (s *Store) Persist() error {
	if s.backing == nil {
		return nil
	}
	s.gate.RLock()
	defer s.gate.RUnlock()

	var stale [][]byte
	err := s.backing.Scan(nil, func(k, _ []byte) bool {
		if !s.data.Has(string(k)) {
			stale = append(stale, append([]byte(nil), k...))
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("scan backing: %w", err)
	}
	for _, k := range stale {
		if err := s.backing.Delete(k); err != nil {
			return fmt.Errorf("delete stale %q: %w", k, err)
		}
	}
	for _, it := range s.data.Snapshot() {
		if err := s.backing.Put([]byte(it.Key), it.Value); err != nil {
			return fmt.Errorf("persist %q: %w", it.Key, err)
		}
	}
	s.logger.Info("workload persisted", "keys", s.data.Count(), "removed", len(stale))
	return nil
}

// Get returns the value for key. Reads are served while stopped.
func (s *Store) Get(key string) ([]byte, bool) {
	v, ok := s.data.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Put stores value under key, blocking while the store is stopped.
func (s *Store) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.gate.RLock()
	defer s.gate.RUnlock()

	if s.backing != nil {
		if err := s.backing.Put([]byte(key), value); err != nil {
			return fmt.Errorf("write through %q: %w", key, err)
		}
	}
	s.data.Set(key, append([]byte(nil), value...))
	s.writes.Add(1)
	return nil
}

// Delete removes key, blocking while the store is stopped.
func (s *Store) Delete(key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	s.gate.RLock()
	defer s.gate.RUnlock()

	if s.backing != nil {
		if err := s.backing.Delete([]byte(key)); err != nil {
			return false, fmt.Errorf("write through delete %q: %w", key, err)
		}
	}
	ok := s.data.Delete(key)
	if ok {
		s.writes.Add(1)
	}
	return ok, nil
}

// Len returns the number of keys.
func (s *Store) Len() int { return s.data.Count() }

// Writes returns the number of mutations applied since creation,
// including those carried in by applied snapshots.
func (s *Store) Writes() uint64 { return s.writes.Load() }

// Stop waits for in-flight writes and blocks new ones until Start.
func (s *Store) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.stopped.Load() {
		return nil
	}
	s.gate.Lock()
	s.stopped.Store(true)
	return nil
}

// Start lets blocked writes proceed.
func (s *Store) Start() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if !s.stopped.Load() {
		return nil
	}
	s.stopped.Store(false)
	s.gate.Unlock()
	return nil
}

// IsStopped reports whether writes are blocked.
func (s *Store) IsStopped() bool { return s.stopped.Load() }

// CaptureInto encodes the whole store to w. Entries are sorted by key, so
// equal states encode to equal bytes unless a sealer is set.
func (s *Store) CaptureInto(w io.Writer) error {
	items := s.data.Snapshot()
	snap := snapshot{
		Version: snapshotVersion,
		Writes:  s.writes.Load(),
		Entries: make([]entry, len(items)),
	}
	for i, it := range items {
		snap.Entries[i] = entry{Key: it.Key, Value: it.Value}
	}

	if s.sealer == nil {
		if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		return nil
	}

	plain, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	sealed, err := s.sealer.Seal(plain, snapshotAAD)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}
	if _, err := w.Write(sealed); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ApplyFrom decodes a snapshot from r and installs it. The store is left
// untouched if decoding fails.
func (s *Store) ApplyFrom(r io.Reader) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.sealer != nil {
		sealed, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		plain, err := s.sealer.Open(sealed, snapshotAAD)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		r = bytes.NewReader(plain)
	}

	snap := snapshot{Entries: s.staging[:0]}
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, snap.Version)
	}

	items := make([]cmap.Item[[]byte], len(snap.Entries))
	for i, e := range snap.Entries {
		// staging entries are reused by the next decode
		items[i] = cmap.Item[[]byte]{Key: e.Key, Value: append([]byte(nil), e.Value...)}
	}
	s.data.Replace(items)
	s.writes.Store(snap.Writes)

	if s.staging != nil {
		s.staging = snap.Entries[:0]
	}
	return nil
}

// ResetToCleanState empties the store. The backing store is not touched.
func (s *Store) ResetToCleanState() error {
	s.data.Clear()
	s.writes.Store(0)
	return nil
}

// PrepareCache allocates the staging area snapshots are decoded into.
func (s *Store) PrepareCache() error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.staging = make([]entry, 0, s.data.Count())
	s.logger.Debug("snapshot cache prepared", "capacity", cap(s.staging))
	return nil
}

// ReleaseCache frees the staging area.
func (s *Store) ReleaseCache() {
	s.cacheMu.Lock()
	s.staging = nil
	s.cacheMu.Unlock()
}
