package colo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/colo-go/internal/core/domain"
	"github.com/yndnr/colo-go/internal/telemetry/metric"
)

// Default engine timings.
const (
	DefaultForceCheckpointInterval = 10 * time.Second
	DefaultPollInterval            = 100 * time.Millisecond
	DefaultGraceWindow             = 2 * time.Second
)

// EngineConfig configures a Primary or Secondary engine.
type EngineConfig struct {
	// Coordinator owns the session and its collaborators. Required.
	Coordinator *Coordinator

	// Channel is the control channel to the peer. Required.
	Channel *Channel

	// Terminator is invoked on fatal conditions. Defaults to ExitTerminator.
	Terminator Terminator

	// BufferSize is the initial checkpoint buffer capacity.
	// Defaults to DefaultBufferSize.
	BufferSize int

	// MaxPayloadSize is the largest snapshot the secondary accepts from the
	// peer. Defaults to DefaultMaxPayloadSize. Secondary only.
	MaxPayloadSize uint64

	// ForceCheckpointInterval is the longest the primary runs without a
	// checkpoint when the oracle reports no divergence. Primary only.
	ForceCheckpointInterval time.Duration

	// PollInterval is the sleep increment of the primary's decide step.
	// Primary only.
	PollInterval time.Duration

	// MinCheckpointInterval rate-limits divergence-triggered checkpoints.
	// Zero means no limit. Primary only.
	MinCheckpointInterval time.Duration

	// GraceWindow is how long the secondary waits for a failover decision
	// after an error before it gives up and terminates. Secondary only.
	GraceWindow time.Duration

	// OnCheckpoint is called after every completed transaction. Optional.
	OnCheckpoint func(CheckpointRecord)

	// OnGuestShutdown is called when an orderly guest shutdown is forwarded
	// (primary) or received (secondary). Optional.
	OnGuestShutdown func()
}

func (c *EngineConfig) validate() error {
	if c.Coordinator == nil {
		return fmt.Errorf("engine: coordinator is required")
	}
	if c.Channel == nil {
		return fmt.Errorf("engine: channel is required")
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if c.ForceCheckpointInterval <= 0 {
		c.ForceCheckpointInterval = DefaultForceCheckpointInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	if c.Terminator == nil {
		c.Terminator = ExitTerminator(c.Coordinator.logger)
	}
	return nil
}

// CheckpointRecord describes one completed checkpoint transaction.
type CheckpointRecord struct {
	SessionID string
	Role      domain.Role
	Seq       uint64
	Bytes     int
	Digest    uint64
	Trigger   string
	Duration  time.Duration
}

// engine holds what the primary and secondary loops share.
type engine struct {
	cfg   EngineConfig
	coord *Coordinator
	sess  *Session
	ch    *Channel

	workload Workload
	storage  StorageReplicator
	oracle   Oracle

	buf *Buffer
	seq uint64

	metrics *metric.Registry
	logger  *slog.Logger
}

func newEngine(cfg EngineConfig, role domain.Role) (engine, error) {
	if err := cfg.validate(); err != nil {
		return engine{}, err
	}
	c := cfg.Coordinator
	if c.sess.Role() != role {
		return engine{}, domain.ErrInvalidRole.WithDetails(
			fmt.Sprintf("%s engine on a %s session", role, c.sess.Role()))
	}
	return engine{
		cfg:      cfg,
		coord:    c,
		sess:     c.sess,
		ch:       cfg.Channel,
		workload: c.workload,
		storage:  c.storage,
		oracle:   c.oracle,
		metrics:  c.metrics,
		logger:   c.logger,
	}, nil
}

// watch closes the channel when ctx is cancelled or the session completes,
// unblocking any pending read or write. The returned func stops watching; it
// closes the channel itself if the session has completed by then, so no
// opcode crosses a completed session.
func (e *engine) watch(ctx context.Context) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-e.sess.Done():
		case <-stop:
			return
		}
		e.ch.Close()
	}()
	return func() {
		close(stop)
		if e.sess.Completed() {
			e.ch.Close()
		}
	}
}

// resume starts the workload unless failover has taken over.
func (e *engine) resume() error {
	e.sess.Lock()
	defer e.sess.Unlock()

	if e.sess.FailoverRequested() {
		return domain.ErrFailoverRequested
	}
	if !e.workload.IsStopped() {
		return nil
	}
	if err := e.workload.Start(); err != nil {
		return domain.ErrExecutionControl.WithDetails("resume").WithCause(err)
	}
	return nil
}

// record reports a completed transaction to metrics and the OnCheckpoint hook.
func (e *engine) record(start time.Time, trigger string) CheckpointRecord {
	rec := CheckpointRecord{
		SessionID: e.sess.ID(),
		Role:      e.sess.Role(),
		Seq:       e.seq,
		Bytes:     e.buf.Len(),
		Digest:    murmur3.Sum64(e.buf.Bytes()),
		Trigger:   trigger,
		Duration:  time.Since(start),
	}

	e.metrics.RecordCheckpoint(rec.Role.String(), true, rec.Bytes, rec.Duration)
	e.logger.Debug("checkpoint completed",
		"seq", rec.Seq,
		"bytes", rec.Bytes,
		"digest", fmt.Sprintf("%016x", rec.Digest),
		"trigger", rec.Trigger,
		"duration", rec.Duration)

	if e.cfg.OnCheckpoint != nil {
		e.cfg.OnCheckpoint(rec)
	}
	return rec
}

// terminate invokes the terminal action.
func (e *engine) terminate(cause error) error {
	e.metrics.RecordError(domain.GetErrorCode(cause))
	e.logger.Error("fatal replication error", "error", cause)
	e.cfg.Terminator(cause)
	return domain.ErrTerminated.WithCause(cause)
}

// noteAbort logs and counts an aborted transaction.
func (e *engine) noteAbort(err error) {
	e.metrics.RecordCheckpoint(e.sess.Role().String(), false, 0, 0)
	e.metrics.RecordError(domain.GetErrorCode(err))
	if errors.Is(err, domain.ErrFailoverRequested) || errors.Is(err, domain.ErrSessionClosed) {
		e.logger.Warn("checkpoint loop stopped", "reason", err, "seq", e.seq)
		return
	}
	e.logger.Error("checkpoint loop aborted", "error", err, "seq", e.seq)
}
