package colo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// triggerPeer marks a transaction started by the primary.
const triggerPeer = "peer"

// unknownCommandError is an unexpected opcode where the secondary awaits a
// command. Unlike an Expect mismatch it takes the grace-exit path.
type unknownCommandError struct {
	op domain.Opcode
}

func (e *unknownCommandError) Error() string {
	return fmt.Sprintf("%s: unexpected command %s", domain.ErrProtocolViolation.Code, e.op)
}

func (e *unknownCommandError) Unwrap() error {
	return domain.ErrProtocolViolation
}

// Secondary follows the primary's checkpoint transactions and applies each
// snapshot locally.
type Secondary struct {
	engine

	cache CachePreparer
}

// NewSecondary creates a secondary engine for a coordinator whose session
// has the secondary role.
func NewSecondary(cfg EngineConfig) (*Secondary, error) {
	e, err := newEngine(cfg, domain.RoleSecondary)
	if err != nil {
		return nil, err
	}
	return &Secondary{engine: e}, nil
}

// Start runs the receiver as a cancellable task.
func (s *Secondary) Start(ctx context.Context) *Task {
	return Go(ctx, s.Run)
}

// Run executes the secondary side of the session until failover completes,
// the guest shuts down, the process is terminated, or ctx is cancelled.
func (s *Secondary) Run(ctx context.Context) error {
	stop := s.watch(ctx)
	defer stop()
	defer s.releaseCache()

	if err := s.setup(ctx); err != nil {
		return s.abort(ctx, err)
	}

	for {
		op, err := s.ch.GetAny()
		if err != nil {
			return s.abort(ctx, err)
		}

		switch op {
		case domain.OpNew:
		case domain.OpGuestShutdown:
			return s.conclude(ctx)
		default:
			return s.abort(ctx, &unknownCommandError{op: op})
		}

		if err := s.transaction(ctx); err != nil {
			return s.abort(ctx, err)
		}
	}
}

// setup prepares the local side and sends READY.
func (s *Secondary) setup(ctx context.Context) error {
	if err := s.oracle.Init(ctx, domain.RoleSecondary); err != nil {
		return domain.ErrOracle.WithDetails("init").WithCause(err)
	}

	if cp, ok := s.workload.(CachePreparer); ok {
		if err := cp.PrepareCache(); err != nil {
			return domain.ErrSnapshotApply.WithDetails("prepare cache").WithCause(err)
		}
		s.cache = cp
	}

	if err := s.storage.Start(ctx, domain.RoleSecondary); err != nil {
		return domain.ErrStorageReplication.WithDetails("start").WithCause(err)
	}

	s.buf = NewBuffer(s.cfg.BufferSize)
	s.buf.SetLimit(s.cfg.MaxPayloadSize)

	if err := s.ch.PutOpcode(domain.OpReady); err != nil {
		return err
	}

	if err := s.resume(); err != nil {
		return err
	}
	s.sess.markReplicating()
	s.logger.Info("secondary replicating")
	return nil
}

func (s *Secondary) releaseCache() {
	if s.cache != nil {
		s.cache.ReleaseCache()
		s.cache = nil
	}
}

// transaction follows one checkpoint after NEW was received.
func (s *Secondary) transaction(ctx context.Context) error {
	start := time.Now()
	s.seq++

	if s.sess.FailoverRequested() {
		return domain.ErrFailoverRequested
	}

	if err := s.suspend(); err != nil {
		return err
	}
	if err := s.ch.PutOpcode(domain.OpSuspended); err != nil {
		return err
	}

	if err := s.oracle.RequestCheckpoint(ctx, domain.RoleSecondary); err != nil {
		return domain.ErrOracle.WithDetails("checkpoint").WithCause(err)
	}

	if err := s.ch.Expect(domain.OpSend); err != nil {
		return err
	}
	if _, err := s.ch.ReceivePayload(s.buf); err != nil {
		return err
	}
	if err := s.ch.PutOpcode(domain.OpReceived); err != nil {
		return err
	}

	if err := s.apply(); err != nil {
		return err
	}

	if err := s.storage.Checkpoint(ctx); err != nil {
		return domain.ErrStorageReplication.WithDetails("checkpoint").WithCause(err)
	}
	if err := s.ch.PutOpcode(domain.OpLoaded); err != nil {
		return err
	}

	if err := s.resume(); err != nil {
		return err
	}

	s.record(start, triggerPeer)
	return nil
}

func (s *Secondary) suspend() error {
	s.sess.Lock()
	defer s.sess.Unlock()

	if s.sess.FailoverRequested() {
		return domain.ErrFailoverRequested
	}
	if err := s.workload.Stop(); err != nil {
		return domain.ErrExecutionControl.WithDetails("stop").WithCause(err)
	}
	return nil
}

// apply replaces the workload state with the buffered snapshot. Failover
// waits for an apply in progress to finish.
func (s *Secondary) apply() error {
	s.sess.Lock()
	defer s.sess.Unlock()

	if s.sess.FailoverRequested() {
		return domain.ErrFailoverRequested
	}

	s.sess.loading.Lock()
	defer s.sess.loading.Unlock()

	if err := s.workload.ResetToCleanState(); err != nil {
		return domain.ErrSnapshotApply.WithDetails("reset").WithCause(err)
	}
	if err := s.workload.ApplyFrom(s.buf.Reader()); err != nil {
		return domain.ErrSnapshotApply.WithCause(err)
	}
	return nil
}

// conclude handles GUEST_SHUTDOWN from the primary.
func (s *Secondary) conclude(ctx context.Context) error {
	s.logger.Info("guest shutdown received from primary")
	if s.cfg.OnGuestShutdown != nil {
		s.cfg.OnGuestShutdown()
	}
	return s.coord.Conclude(ctx)
}

// abort routes a failed transaction. A mismatched Expect terminates at once.
// Otherwise the secondary does not promote itself: it waits up to the grace
// window for a failover request and terminates if none arrives, since the
// primary is then presumed alive and this side faulty.
func (s *Secondary) abort(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		s.logger.Info("secondary engine cancelled", "error", ctx.Err())
		return ctx.Err()
	}

	var unknown *unknownCommandError
	if errors.Is(cause, domain.ErrProtocolViolation) && !errors.As(cause, &unknown) {
		return s.terminate(cause)
	}

	s.noteAbort(cause)

	if !s.sess.FailoverRequested() {
		s.logger.Warn("waiting for failover decision", "grace", s.cfg.GraceWindow)

		timer := time.NewTimer(s.cfg.GraceWindow)
		select {
		case <-s.sess.FailoverRequestedCh():
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if !s.sess.FailoverRequested() {
		return s.terminate(cause)
	}

	if err := s.coord.Wait(ctx); err != nil {
		return err
	}
	return cause
}
