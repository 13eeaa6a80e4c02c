package coloserver

import (
	"fmt"

	"github.com/yndnr/colo-go/internal/colo"
	"github.com/yndnr/colo-go/internal/core/domain"
	"github.com/yndnr/colo-go/internal/server/httpserver/handler"
)

// stateIdle is reported before a session exists.
const stateIdle = "idle"

func (s *Server) coordinator() *colo.Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coord
}

// Requested reports whether an incoming replication session is in progress
// on this secondary. It is cleared when the session ends.
func (s *Server) Requested() bool { return s.requested.Load() }

// Writable reports whether the local workload is the active instance: a
// primary always is, a secondary only after promotion.
func (s *Server) Writable() bool {
	return s.role == domain.RolePrimary || s.promoted.Load()
}

// Status implements handler.Controller.
func (s *Server) Status() handler.SessionStatus {
	st := handler.SessionStatus{
		Role:      s.role.String(),
		State:     stateIdle,
		Requested: s.requested.Load(),
		Writable:  s.Writable(),
	}
	if s.monitor != nil {
		st.PeerAlive = s.monitor.PeerAlive()
	}

	s.mu.RLock()
	coord := s.coord
	last := s.last
	s.mu.RUnlock()

	st.Checkpoints = last.count
	st.LastSeq = last.seq
	if last.count > 0 {
		st.LastDigest = fmt.Sprintf("%016x", last.digest)
	}
	if coord == nil {
		return st
	}

	sess := coord.Session()
	st.SessionID = sess.ID()
	st.State = sess.State().String()
	st.Replicated = sess.Replicated()
	st.FailoverRequested = sess.FailoverRequested()
	st.FailoverReason = sess.FailoverReason()
	return st
}

// Failover implements handler.Controller. It reports whether this call
// started the failover.
func (s *Server) Failover(reason string) (bool, error) {
	coord := s.coordinator()
	if coord == nil {
		return false, domain.ErrSessionClosed.WithDetails("no session")
	}
	if coord.Session().Completed() {
		return false, nil
	}
	return coord.Request(reason), nil
}

// SignalDivergence implements handler.Controller. The next decide step of
// the primary sees the divergence and checkpoints.
func (s *Server) SignalDivergence() error {
	s.proxy.Signal()
	return nil
}

// StateValue implements metric.StateSource. Before a session exists it
// reports the handshaking state.
func (s *Server) StateValue() (float64, string) {
	if coord := s.coordinator(); coord != nil {
		return coord.Session().StateValue()
	}
	return float64(domain.StateHandshaking), s.role.String()
}
