package colo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/colo-go/internal/core/domain"
	"github.com/yndnr/colo-go/internal/telemetry/metric"
)

// CoordinatorConfig configures a failover Coordinator.
type CoordinatorConfig struct {
	// Session is the session being protected. Required.
	Session *Session

	// Workload is the protected workload. Required.
	Workload Workload

	// Storage replicates backing stores. Defaults to NopStorage.
	Storage StorageReplicator

	// Oracle is the packet consistency oracle. Defaults to NopOracle.
	Oracle Oracle

	// OnPromoted is called on the secondary after the workload has been
	// resumed as the sole active instance, before completion is signalled.
	// It hands control back to whatever awaited this session's outcome.
	OnPromoted func()

	// TeardownTimeout bounds each collaborator call made during failover.
	// Defaults to 30s.
	TeardownTimeout time.Duration

	// Metrics receives failover counts. Optional.
	Metrics *metric.Registry

	// Logger for logging. Defaults to the session logger.
	Logger *slog.Logger
}

// Coordinator terminates replication and promotes the local side to sole
// active execution. It runs at most once per session.
//
// Any number of goroutines may call Request: an engine that hit an error, a
// heartbeat monitor, or an operator. The first caller sets the session's
// failover flag and starts the failover; later callers find it already set.
type Coordinator struct {
	sess     *Session
	workload Workload
	storage  StorageReplicator
	oracle   Oracle

	onPromoted      func()
	teardownTimeout time.Duration

	metrics *metric.Registry
	logger  *slog.Logger

	// ended guards the single run of failover or Conclude.
	mu    sync.Mutex
	ended bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("coordinator: session is required")
	}
	if cfg.Workload == nil {
		return nil, fmt.Errorf("coordinator: workload is required")
	}
	if !cfg.Session.Role().Valid() {
		return nil, domain.ErrInvalidRole.WithDetails(cfg.Session.Role().String())
	}
	if cfg.Storage == nil {
		cfg.Storage = NopStorage{}
	}
	if cfg.Oracle == nil {
		cfg.Oracle = NopOracle{}
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Session.Logger()
	}

	return &Coordinator{
		sess:            cfg.Session,
		workload:        cfg.Workload,
		storage:         cfg.Storage,
		oracle:          cfg.Oracle,
		onPromoted:      cfg.OnPromoted,
		teardownTimeout: cfg.TeardownTimeout,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}, nil
}

// Session returns the protected session.
func (c *Coordinator) Session() *Session { return c.sess }

// Request asks for failover. It returns true if this call set the flag and
// started the failover, false if failover was already requested.
// Request never blocks; use Wait to block until failover completes.
func (c *Coordinator) Request(reason string) bool {
	if !c.sess.requestFailover(reason) {
		return false
	}

	c.logger.Warn("failover requested", "reason", reason)

	if c.claim() {
		go c.run()
	}
	return true
}

// Wait blocks until the session has completed or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	return c.sess.WaitCompleted(ctx)
}

// Trigger requests failover and waits for it to complete.
func (c *Coordinator) Trigger(ctx context.Context, reason string) error {
	c.Request(reason)
	return c.Wait(ctx)
}

// Conclude ends an orderly session (guest shutdown) without promotion:
// the oracle is torn down, storage replication stops and the session
// completes. The workload is left as is. If failover has already started,
// Conclude waits for it instead.
func (c *Coordinator) Conclude(ctx context.Context) error {
	if !c.claim() {
		return c.Wait(ctx)
	}

	role := c.sess.Role()
	c.logger.Info("concluding session")

	c.sess.markFailover()
	errs := c.teardown(role)
	final := c.sess.finish()
	c.sess.markCompleted()

	c.logger.Info("session concluded", "state", final.String())
	return errs
}

func (c *Coordinator) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.ended = true
	return true
}

// run performs failover for the local role and signals completion last.
func (c *Coordinator) run() {
	start := time.Now()
	role := c.sess.Role()

	c.sess.markFailover()
	c.forceStop()

	var err error
	if role == domain.RoleSecondary {
		err = c.secondaryFailover()
	} else {
		err = c.primaryFailover()
	}

	if err != nil {
		c.logger.Error("failover finished with errors", "error", err)
	}

	c.metrics.RecordFailover(role.String())
	c.logger.Warn("failover completed",
		"state", c.sess.State().String(),
		"duration", time.Since(start))

	c.sess.markCompleted()
}

// forceStop makes sure the workload is stopped before teardown starts.
func (c *Coordinator) forceStop() {
	c.sess.Lock()
	defer c.sess.Unlock()

	if c.workload.IsStopped() {
		return
	}
	if err := c.workload.Stop(); err != nil {
		c.logger.Error("force stop failed", "error", err)
	}
}

// secondaryFailover promotes the secondary to an independent instance.
func (c *Coordinator) secondaryFailover() error {
	// A partially applied snapshot is never interrupted.
	c.sess.waitLoading()

	errs := c.teardown(domain.RoleSecondary)
	final := c.sess.finish()

	if err := c.resume(); err != nil {
		errs = errors.Join(errs, err)
	}

	c.logger.Warn("secondary promoted to sole active", "state", final.String())

	if c.onPromoted != nil {
		c.onPromoted()
	}
	return errs
}

// primaryFailover drops replication and keeps the primary running alone.
func (c *Coordinator) primaryFailover() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.teardownTimeout)
	defer cancel()

	var errs error
	if err := c.oracle.Teardown(ctx, domain.RolePrimary); err != nil {
		errs = errors.Join(errs, domain.ErrOracle.WithCause(err))
	}

	final := c.sess.finish()

	if err := c.storage.Stop(ctx); err != nil {
		errs = errors.Join(errs, domain.ErrStorageReplication.WithCause(err))
	}

	if err := c.resume(); err != nil {
		errs = errors.Join(errs, err)
	}

	c.logger.Warn("primary continues standalone", "state", final.String())
	return errs
}

// teardown notifies the oracle (which releases network overrides) and stops
// storage replication.
func (c *Coordinator) teardown(role domain.Role) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.teardownTimeout)
	defer cancel()

	var errs error
	if err := c.oracle.Teardown(ctx, role); err != nil {
		errs = errors.Join(errs, domain.ErrOracle.WithCause(err))
	}
	if err := c.storage.Stop(ctx); err != nil {
		errs = errors.Join(errs, domain.ErrStorageReplication.WithCause(err))
	}
	return errs
}

func (c *Coordinator) resume() error {
	c.sess.Lock()
	defer c.sess.Unlock()

	if !c.workload.IsStopped() {
		return nil
	}
	if err := c.workload.Start(); err != nil {
		return domain.ErrExecutionControl.WithDetails("resume after failover").WithCause(err)
	}
	return nil
}
