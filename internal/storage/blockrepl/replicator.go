package blockrepl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// Disk is one backing store taking part in replication.
type Disk interface {
	Name() string
	ReadOnly() bool
	StartReplication(ctx context.Context, role domain.Role) error
	Checkpoint(ctx context.Context) error
	StopReplication(ctx context.Context) error
}

// Replicator drives replication across all writable disks.
type Replicator struct {
	disks  []Disk
	logger *slog.Logger

	mu     sync.Mutex
	active []Disk
	role   domain.Role
}

// NewReplicator creates a Replicator over disks.
func NewReplicator(logger *slog.Logger, disks ...Disk) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replicator{
		disks:  disks,
		logger: logger.With("component", "blockrepl"),
	}
}

// Start begins replication on every writable disk. If one disk fails, the
// disks already started are stopped again.
func (r *Replicator) Start(ctx context.Context, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) > 0 {
		return fmt.Errorf("replication already started as %s", r.role)
	}

	var started []Disk
	for _, d := range r.disks {
		if d.ReadOnly() {
			r.logger.Debug("skipping read-only disk", "disk", d.Name())
			continue
		}
		if err := d.StartReplication(ctx, role); err != nil {
			for _, s := range started {
				if serr := s.StopReplication(ctx); serr != nil {
					r.logger.Error("stop after failed start", "disk", s.Name(), "error", serr)
				}
			}
			return fmt.Errorf("start disk %s: %w", d.Name(), err)
		}
		started = append(started, d)
	}

	r.active = started
	r.role = role
	r.logger.Info("storage replication started", "role", role.String(), "disks", len(started))
	return nil
}

// Checkpoint checkpoints every replicating disk. The first failure aborts.
func (r *Replicator) Checkpoint(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.active {
		if err := d.Checkpoint(ctx); err != nil {
			return fmt.Errorf("checkpoint disk %s: %w", d.Name(), err)
		}
	}
	return nil
}

// Stop ends replication on every replicating disk. It is a no-op when
// replication is not running.
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for _, d := range r.active {
		if err := d.StopReplication(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("stop disk %s: %w", d.Name(), err))
		}
	}
	if len(r.active) > 0 {
		r.logger.Info("storage replication stopped", "disks", len(r.active))
	}
	r.active = nil
	return errs
}

// Active reports the number of disks currently replicating.
func (r *Replicator) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
