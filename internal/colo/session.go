package colo

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// Session is the state shared by one primary/secondary pairing: its role,
// lifecycle state, the failover flags and the execution lock.
//
// Both failover flags are monotonic. FailoverRequested becomes true once and
// stays true; Done is closed once, after all teardown work has finished.
type Session struct {
	id   string
	role domain.Role

	state      atomic.Int32
	replicated atomic.Bool

	// exec gates every workload stop, start, capture and apply. The host may
	// hold it for unrelated work, so it is only held for short critical
	// sections and never across control channel I/O.
	exec sync.Locker

	// loading is held while a snapshot is being applied.
	loading sync.Mutex

	requestOnce sync.Once
	requested   chan struct{}
	reason      atomic.Value

	completeOnce sync.Once
	completed    chan struct{}

	started time.Time
	logger  *slog.Logger
}

// NewSession creates a session in the Handshaking state.
//
// exec is the host's execution lock; nil allocates a private one.
func NewSession(role domain.Role, exec sync.Locker, logger *slog.Logger) *Session {
	if exec == nil {
		exec = &sync.Mutex{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()

	s := &Session{
		id:        id,
		role:      role,
		exec:      exec,
		requested: make(chan struct{}),
		completed: make(chan struct{}),
		started:   time.Now(),
	}
	s.state.Store(int32(domain.StateHandshaking))
	s.logger = logger.With("session_id", id, "role", role.String())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Role returns the local role.
func (s *Session) Role() domain.Role { return s.role }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

// StateValue implements metric.StateSource.
func (s *Session) StateValue() (float64, string) {
	return float64(s.State()), s.role.String()
}

// Replicated reports whether the session ever reached Replicating.
func (s *Session) Replicated() bool {
	return s.replicated.Load()
}

// Lock acquires the execution lock.
func (s *Session) Lock() { s.exec.Lock() }

// Unlock releases the execution lock.
func (s *Session) Unlock() { s.exec.Unlock() }

// FailoverRequested reports whether failover has been requested.
func (s *Session) FailoverRequested() bool {
	select {
	case <-s.requested:
		return true
	default:
		return false
	}
}

// FailoverRequestedCh is closed when failover is requested.
func (s *Session) FailoverRequestedCh() <-chan struct{} {
	return s.requested
}

// FailoverReason returns the reason given by the first requester.
func (s *Session) FailoverReason() string {
	if v, ok := s.reason.Load().(string); ok {
		return v
	}
	return ""
}

// Completed reports whether failover (or an orderly conclusion) finished.
func (s *Session) Completed() bool {
	select {
	case <-s.completed:
		return true
	default:
		return false
	}
}

// Done is closed once the session has completed.
func (s *Session) Done() <-chan struct{} {
	return s.completed
}

// WaitCompleted blocks until the session completes or ctx is done.
func (s *Session) WaitCompleted(ctx context.Context) error {
	select {
	case <-s.completed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestFailover sets the failover flag. Only the first caller wins and gets
// true.
func (s *Session) requestFailover(reason string) bool {
	first := false
	s.requestOnce.Do(func() {
		s.reason.Store(reason)
		close(s.requested)
		first = true
	})
	return first
}

// markReplicating moves Handshaking to Replicating.
func (s *Session) markReplicating() bool {
	if s.state.CompareAndSwap(int32(domain.StateHandshaking), int32(domain.StateReplicating)) {
		s.replicated.Store(true)
		return true
	}
	return false
}

// markFailover moves any non-terminal state to Failover.
func (s *Session) markFailover() {
	for {
		cur := s.state.Load()
		if domain.SessionState(cur).Terminal() || domain.SessionState(cur) == domain.StateFailover {
			return
		}
		if s.state.CompareAndSwap(cur, int32(domain.StateFailover)) {
			return
		}
	}
}

// finish sets the terminal state. Completed is only reachable when the
// session reached Replicating; otherwise the session ends Failed. A state
// that is already terminal is kept.
func (s *Session) finish() domain.SessionState {
	final := domain.StateFailed
	if s.replicated.Load() {
		final = domain.StateCompleted
	}
	for {
		cur := s.state.Load()
		if domain.SessionState(cur).Terminal() {
			return domain.SessionState(cur)
		}
		if s.state.CompareAndSwap(cur, int32(final)) {
			return final
		}
	}
}

// markCompleted closes Done. Callers must have finished all teardown.
func (s *Session) markCompleted() {
	s.completeOnce.Do(func() {
		close(s.completed)
	})
}

// waitLoading blocks until no snapshot apply is in progress.
func (s *Session) waitLoading() {
	s.loading.Lock()
	s.loading.Unlock() // an in-flight apply holds loading until it finishes
}
