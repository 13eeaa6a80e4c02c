package colo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/colo-go/internal/core/domain"
	"github.com/yndnr/colo-go/internal/telemetry/metric"
)

// triggerShutdown marks a transaction started to carry a guest shutdown.
const triggerShutdown = "shutdown"

// Primary drives checkpoint transactions from the primary side.
//
// Each iteration of the replicating loop decides when to checkpoint, then
// runs one transaction: NEW, SUSPENDED, capture, SEND, RECEIVED, LOADED,
// resume. Any failure aborts the transaction and requests failover.
type Primary struct {
	engine

	limiter  *rate.Limiter
	shutdown atomic.Bool
}

// NewPrimary creates a primary engine for a coordinator whose session has
// the primary role.
func NewPrimary(cfg EngineConfig) (*Primary, error) {
	e, err := newEngine(cfg, domain.RolePrimary)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.MinCheckpointInterval > 0 {
		limit = rate.Every(cfg.MinCheckpointInterval)
	}

	return &Primary{
		engine:  e,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// RequestGuestShutdown asks the primary to forward an orderly shutdown.
// The request is carried by the next transaction: after LOADED the primary
// sends GUEST_SHUTDOWN and the session concludes without failover.
func (p *Primary) RequestGuestShutdown() {
	if p.shutdown.CompareAndSwap(false, true) {
		p.logger.Info("guest shutdown requested")
	}
}

// Start runs the engine in its own goroutine.
func (p *Primary) Start(ctx context.Context) *Task {
	return Go(ctx, p.Run)
}

// Run executes the primary side of the session until failover completes,
// the guest shuts down, or ctx is cancelled.
func (p *Primary) Run(ctx context.Context) error {
	stop := p.watch(ctx)
	defer stop()

	if err := p.handshake(ctx); err != nil {
		return p.abort(ctx, err)
	}

	for {
		if p.sess.FailoverRequested() {
			return p.abort(ctx, domain.ErrFailoverRequested)
		}

		trigger, err := p.decide(ctx)
		if err != nil {
			return p.abort(ctx, err)
		}

		done, err := p.transaction(ctx, trigger)
		if err != nil {
			return p.abort(ctx, err)
		}
		if done {
			return p.conclude(ctx)
		}
	}
}

// handshake waits for the secondary's READY and starts the workload.
func (p *Primary) handshake(ctx context.Context) error {
	if err := p.oracle.Init(ctx, domain.RolePrimary); err != nil {
		return domain.ErrOracle.WithDetails("init").WithCause(err)
	}

	if err := p.ch.Expect(domain.OpReady); err != nil {
		return err
	}
	p.logger.Info("secondary ready")

	p.buf = NewBuffer(p.cfg.BufferSize)

	if err := p.resume(); err != nil {
		return err
	}
	p.sess.markReplicating()
	return nil
}

// decide returns when a checkpoint is due: the oracle reported divergence,
// the force interval elapsed, or a guest shutdown is pending.
func (p *Primary) decide(ctx context.Context) (string, error) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(p.cfg.ForceCheckpointInterval)

	for {
		if p.shutdown.Load() {
			return triggerShutdown, nil
		}

		diverged, err := p.oracle.PollDivergence(ctx)
		if err != nil {
			return "", domain.ErrOracle.WithDetails("poll").WithCause(err)
		}
		if diverged && p.limiter.Allow() {
			return metric.TriggerDivergence, nil
		}
		if !time.Now().Before(deadline) {
			return metric.TriggerTimer, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-p.sess.FailoverRequestedCh():
			return "", domain.ErrFailoverRequested
		case <-ticker.C:
		}
	}
}

// transaction runs one checkpoint. It reports done when a guest shutdown was
// forwarded and the session should conclude.
func (p *Primary) transaction(ctx context.Context, trigger string) (done bool, err error) {
	start := time.Now()
	p.seq++
	p.metrics.RecordTrigger(trigger)

	if err := p.ch.PutOpcode(domain.OpNew); err != nil {
		return false, err
	}
	if err := p.ch.Expect(domain.OpSuspended); err != nil {
		return false, err
	}

	p.buf.Reset()
	if err := p.capture(); err != nil {
		return false, err
	}

	if err := p.oracle.RequestCheckpoint(ctx, domain.RolePrimary); err != nil {
		return false, domain.ErrOracle.WithDetails("checkpoint").WithCause(err)
	}
	if err := p.storage.Checkpoint(ctx); err != nil {
		return false, domain.ErrStorageReplication.WithDetails("checkpoint").WithCause(err)
	}

	if err := p.ch.SendPayload(p.buf.Bytes()); err != nil {
		return false, err
	}
	if err := p.ch.Expect(domain.OpReceived); err != nil {
		return false, err
	}
	if err := p.ch.Expect(domain.OpLoaded); err != nil {
		return false, err
	}

	p.record(start, trigger)

	if p.shutdown.Load() {
		if err := p.ch.PutOpcode(domain.OpGuestShutdown); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := p.resume(); err != nil {
		return false, err
	}
	return false, nil
}

// capture stops the workload and encodes it into the buffer under the
// execution lock.
func (p *Primary) capture() error {
	p.sess.Lock()
	defer p.sess.Unlock()

	if p.sess.FailoverRequested() {
		return domain.ErrFailoverRequested
	}
	if err := p.workload.Stop(); err != nil {
		return domain.ErrExecutionControl.WithDetails("stop").WithCause(err)
	}
	// failover may have been requested while the workload was stopping
	if p.sess.FailoverRequested() {
		return domain.ErrFailoverRequested
	}

	if err := p.workload.CaptureInto(p.buf); err != nil {
		return domain.ErrSnapshotCapture.WithCause(err)
	}
	return nil
}

// conclude finishes an orderly guest shutdown.
func (p *Primary) conclude(ctx context.Context) error {
	p.logger.Info("guest shutdown forwarded to secondary")
	if p.cfg.OnGuestShutdown != nil {
		p.cfg.OnGuestShutdown()
	}
	return p.coord.Conclude(ctx)
}

// abort routes a failed transaction. Protocol violations terminate; anything
// else fails over to the primary running alone.
func (p *Primary) abort(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		p.logger.Info("primary engine cancelled", "error", ctx.Err())
		return ctx.Err()
	}
	if errors.Is(cause, domain.ErrProtocolViolation) {
		return p.terminate(cause)
	}

	p.noteAbort(cause)
	p.coord.Request(fmt.Sprintf("primary: %v", cause))

	if err := p.coord.Wait(ctx); err != nil {
		return err
	}
	return cause
}
