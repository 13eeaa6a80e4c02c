package coloserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/yndnr/colo-go/internal/colo"
	"github.com/yndnr/colo-go/internal/core/domain"
)

// run connects to the peer, runs one session to its end and records the
// outcome. The node then serves standalone until ctx is cancelled.
func (s *Server) run(ctx context.Context) {
	conn, peer, err := s.connect(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("replication not established", "error", err)
		}
		return
	}

	if err := s.runSession(ctx, conn, peer); err != nil && ctx.Err() == nil {
		s.logger.Warn("session ended", "error", err)
	}

	<-ctx.Done()
}

// connect dials the secondary (primary role) or waits for the primary
// (secondary role).
func (s *Server) connect(ctx context.Context) (net.Conn, string, error) {
	r := s.cfg.Replication
	if s.role == domain.RolePrimary {
		close(s.listening)
		s.logger.Info("connecting to secondary", "peer", r.PeerAddr)
		conn, err := dial(ctx, r.PeerAddr, r.DialTimeout)
		if err != nil {
			return nil, "", err
		}
		return conn, conn.RemoteAddr().String(), nil
	}

	conn, err := acceptOne(ctx, r.ListenAddr, func(addr net.Addr) {
		s.replAddr.Store(addr)
		close(s.listening)
		s.logger.Info("waiting for primary", "addr", addr.String())
	})
	if err != nil {
		return nil, "", err
	}
	s.requested.Store(true)
	s.logger.Info("incoming replication requested", "peer", conn.RemoteAddr().String())
	return conn, conn.RemoteAddr().String(), nil
}

// runSession wires a session over conn, runs the local engine and cleans up
// once it returns.
func (s *Server) runSession(ctx context.Context, conn net.Conn, peer string) error {
	defer s.requested.Store(false)

	sess := colo.NewSession(s.role, &s.exec, s.logger)
	coord, err := colo.NewCoordinator(colo.CoordinatorConfig{
		Session:    sess,
		Workload:   s.store,
		Storage:    s.repl,
		Oracle:     s.proxy,
		OnPromoted: s.onPromoted,
		Metrics:    s.metrics,
	})
	if err != nil {
		conn.Close()
		return err
	}

	ch := colo.NewChannel(conn)
	engineCfg := colo.EngineConfig{
		Coordinator:             coord,
		Channel:                 ch,
		Terminator:              s.terminator,
		BufferSize:              s.cfg.Replication.BufferSize,
		MaxPayloadSize:          uint64(s.cfg.Replication.MaxPayloadSize),
		ForceCheckpointInterval: s.cfg.Replication.ForceCheckpointInterval,
		PollInterval:            s.cfg.Replication.PollInterval,
		MinCheckpointInterval:   s.cfg.Replication.MinCheckpointInterval,
		GraceWindow:             s.cfg.Replication.GraceWindow,
		OnCheckpoint:            s.onCheckpoint,
	}

	if err := s.ledger.Begin(sess.ID(), s.role.String(), peer, time.Now()); err != nil {
		s.logger.Warn("ledger begin failed", "session_id", sess.ID(), "error", err)
	}

	s.mu.Lock()
	s.coord = coord
	s.last = checkpointInfo{}
	s.mu.Unlock()

	var task *colo.Task
	switch s.role {
	case domain.RolePrimary:
		var p *colo.Primary
		p, err = colo.NewPrimary(engineCfg)
		if err == nil {
			err = s.repl.Start(ctx, domain.RolePrimary)
			if err != nil {
				err = domain.ErrStorageReplication.WithDetails("start").WithCause(err)
			}
		}
		if err == nil {
			s.mu.Lock()
			s.primary = p
			s.mu.Unlock()
			task = p.Start(ctx)
		}
	default:
		var sec *colo.Secondary
		sec, err = colo.NewSecondary(engineCfg)
		if err == nil {
			task = sec.Start(ctx)
		}
	}

	if err != nil {
		ch.Close()
		s.finishLedger(sess, err)
		return err
	}

	err = task.Wait()
	s.cleanup(ctx, sess, ch, err)
	return err
}

// cleanup runs after the engine returned: it waits for an in-flight
// failover, closes the channel and records the outcome.
func (s *Server) cleanup(ctx context.Context, sess *colo.Session, ch *colo.Channel, err error) {
	if sess.FailoverRequested() {
		wctx, cancel := context.WithTimeout(ctx, time.Minute)
		if werr := sess.WaitCompleted(wctx); werr != nil {
			s.logger.Warn("failover still running at cleanup", "error", werr)
		}
		cancel()
	}
	ch.Close()

	s.mu.Lock()
	s.primary = nil
	s.mu.Unlock()

	s.finishLedger(sess, err)

	sent, received := ch.Stats()
	s.logger.Info("session cleaned up",
		"session_id", sess.ID(),
		"state", sess.State().String(),
		"bytes_sent", sent,
		"bytes_received", received)
}

func (s *Server) finishLedger(sess *colo.Session, err error) {
	reason := sess.FailoverReason()
	switch {
	case reason != "" || err == nil:
	case errors.Is(err, context.Canceled):
		reason = "node shutdown"
	default:
		reason = err.Error()
	}
	state := sess.State()
	if !state.Terminal() && err != nil {
		state = domain.StateFailed
	}
	if lerr := s.ledger.Finish(sess.ID(), state.String(), reason, time.Now()); lerr != nil {
		s.logger.Warn("ledger finish failed", "session_id", sess.ID(), "error", lerr)
	}
}

func (s *Server) onCheckpoint(rec colo.CheckpointRecord) {
	s.mu.Lock()
	s.last.count++
	s.last.seq = rec.Seq
	s.last.digest = rec.Digest
	s.mu.Unlock()

	if err := s.ledger.Checkpoint(rec.SessionID, rec.Seq, rec.Bytes, rec.Digest); err != nil {
		s.logger.Warn("ledger checkpoint failed", "seq", rec.Seq, "error", err)
	}
}

// onPromoted runs on the secondary once its workload is the sole active
// instance.
func (s *Server) onPromoted() {
	if err := s.store.Persist(); err != nil {
		s.logger.Error("persist promoted workload failed", "error", err)
	}
	s.promoted.Store(true)
	s.logger.Warn("node promoted to active")
}
