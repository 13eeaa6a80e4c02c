// Package ledger keeps a durable record of replication sessions.
//
// Entries live in a raft.StableStore: a BoltDB file in production, an
// in-memory store in tests. Each session gets one msgpack-encoded entry that
// is rewritten as checkpoints complete and once more with the final outcome.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/vmihailenco/msgpack"
)

var (
	keyLastSession     = []byte("last_session")
	keySessionsTotal   = []byte("sessions_total")
	keyCheckpointTotal = []byte("checkpoints_total")
)

// ErrNotFound is returned when no entry exists.
var ErrNotFound = errors.New("ledger: not found")

// Entry records one session.
type Entry struct {
	SessionID   string    `msgpack:"session_id"`
	Role        string    `msgpack:"role"`
	Peer        string    `msgpack:"peer"`
	StartedAt   time.Time `msgpack:"started_at"`
	EndedAt     time.Time `msgpack:"ended_at"`
	State       string    `msgpack:"state"`
	Reason      string    `msgpack:"reason"`
	Checkpoints uint64    `msgpack:"checkpoints"`
	LastSeq     uint64    `msgpack:"last_seq"`
	LastBytes   int       `msgpack:"last_bytes"`
	LastDigest  uint64    `msgpack:"last_digest"`
}

// Ledger stores session entries.
type Ledger struct {
	mu    sync.Mutex
	store raft.StableStore
	close func() error
}

// Open opens (or creates) a BoltDB-backed ledger at path.
func Open(path string) (*Ledger, error) {
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	return &Ledger{store: store, close: store.Close}, nil
}

// New wraps an existing stable store.
func New(store raft.StableStore) *Ledger {
	return &Ledger{store: store, close: func() error { return nil }}
}

// Begin records the start of a session.
func (l *Ledger) Begin(sessionID, role, peer string, started time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		SessionID: sessionID,
		Role:      role,
		Peer:      peer,
		StartedAt: started,
		State:     "handshaking",
	}
	if err := l.put(e); err != nil {
		return err
	}
	if err := l.store.Set(keyLastSession, []byte(sessionID)); err != nil {
		return fmt.Errorf("ledger: set last session: %w", err)
	}
	return l.incr(keySessionsTotal, 1)
}

// Checkpoint records a completed checkpoint.
func (l *Ledger) Checkpoint(sessionID string, seq uint64, size int, digest uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.get(sessionID)
	if err != nil {
		return err
	}
	e.State = "replicating"
	e.Checkpoints++
	e.LastSeq = seq
	e.LastBytes = size
	e.LastDigest = digest
	if err := l.put(e); err != nil {
		return err
	}
	return l.incr(keyCheckpointTotal, 1)
}

// Finish records the outcome of a session.
func (l *Ledger) Finish(sessionID, state, reason string, ended time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.get(sessionID)
	if err != nil {
		return err
	}
	e.State = state
	e.Reason = reason
	e.EndedAt = ended
	return l.put(e)
}

// Get returns the entry for sessionID.
func (l *Ledger) Get(sessionID string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(sessionID)
}

// Last returns the most recently started session.
func (l *Ledger) Last() (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.store.Get(keyLastSession)
	if err != nil || len(id) == 0 {
		if err == nil || isNotFound(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("ledger: get last session: %w", err)
	}
	return l.get(string(id))
}

// Totals returns the number of sessions and checkpoints recorded.
func (l *Ledger) Totals() (sessions, checkpoints uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sessions, err = l.counter(keySessionsTotal); err != nil {
		return 0, 0, err
	}
	if checkpoints, err = l.counter(keyCheckpointTotal); err != nil {
		return 0, 0, err
	}
	return sessions, checkpoints, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.close()
}

func (l *Ledger) get(sessionID string) (Entry, error) {
	data, err := l.store.Get(sessionKey(sessionID))
	if err != nil || len(data) == 0 {
		if err == nil || isNotFound(err) {
			return Entry{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return Entry{}, fmt.Errorf("ledger: get %s: %w", sessionID, err)
	}

	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("ledger: decode %s: %w", sessionID, err)
	}
	return e, nil
}

func (l *Ledger) put(e Entry) error {
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", e.SessionID, err)
	}
	if err := l.store.Set(sessionKey(e.SessionID), data); err != nil {
		return fmt.Errorf("ledger: put %s: %w", e.SessionID, err)
	}
	return nil
}

func (l *Ledger) counter(key []byte) (uint64, error) {
	v, err := l.store.GetUint64(key)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: get %s: %w", key, err)
	}
	return v, nil
}

func (l *Ledger) incr(key []byte, delta uint64) error {
	v, err := l.counter(key)
	if err != nil {
		return err
	}
	if err := l.store.SetUint64(key, v+delta); err != nil {
		return fmt.Errorf("ledger: set %s: %w", key, err)
	}
	return nil
}

func sessionKey(id string) []byte {
	return []byte("session/" + id)
}

// isNotFound matches the not-found error of both BoltStore and InmemStore.
func isNotFound(err error) bool {
	return errors.Is(err, raftboltdb.ErrKeyNotFound) || err.Error() == "not found"
}
