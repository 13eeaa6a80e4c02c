package colo

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// ExecutionControl stops and starts the protected workload.
//
// Calls are made with the session execution lock held and are expected to
// take effect before they return.
type ExecutionControl interface {
	Stop() error
	Start() error
	IsStopped() bool
}

// Snapshotter encodes and decodes the workload state. The byte format is
// opaque to this package. Failures must be reported as errors, never as a
// partially applied state that looks successful.
type Snapshotter interface {
	// CaptureInto writes the complete workload state to w.
	CaptureInto(w io.Writer) error
	// ApplyFrom replaces the workload state with the state read from r.
	ApplyFrom(r io.Reader) error
	// ResetToCleanState silently resets the workload to its base state
	// before a snapshot is applied.
	ResetToCleanState() error
}

// Workload is the protected execution unit.
type Workload interface {
	ExecutionControl
	Snapshotter
}

// CachePreparer is implemented by workloads that keep a local cache for
// applying snapshots on the secondary. It is prepared before READY is sent
// and released when the receiver exits.
type CachePreparer interface {
	PrepareCache() error
	ReleaseCache()
}

// StorageReplicator replicates the workload's writable backing stores.
type StorageReplicator interface {
	// Start begins replication in the given role.
	Start(ctx context.Context, role domain.Role) error
	// Checkpoint aligns replicated storage with the checkpoint just taken.
	Checkpoint(ctx context.Context) error
	// Stop ends replication. The stores keep serving as standalone backends.
	Stop(ctx context.Context) error
}

// Oracle is the packet consistency oracle. It compares primary and secondary
// network output and asks for a checkpoint when they diverge.
type Oracle interface {
	// Init prepares the oracle (and any network taps) for the given role.
	Init(ctx context.Context, role domain.Role) error
	// PollDivergence reports whether output has diverged since the last
	// checkpoint.
	PollDivergence(ctx context.Context) (bool, error)
	// RequestCheckpoint tells the oracle a checkpoint is being taken so it
	// can flush or reset its comparison state.
	RequestCheckpoint(ctx context.Context, role domain.Role) error
	// Teardown ends the oracle session and releases network configuration.
	Teardown(ctx context.Context, role domain.Role) error
}

// Terminator is the terminal action taken on a fatal condition: a protocol
// violation, or a secondary error with no failover in sight. The default
// exits the process; tests substitute a recorder.
type Terminator func(cause error)

// ExitTerminator logs cause and exits the process with status 1.
func ExitTerminator(logger *slog.Logger) Terminator {
	if logger == nil {
		logger = slog.Default()
	}
	return func(cause error) {
		logger.Error("replication terminated, exiting", "error", cause)
		os.Exit(1)
	}
}

// NopStorage is a StorageReplicator for workloads without replicated storage.
type NopStorage struct{}

func (NopStorage) Start(context.Context, domain.Role) error { return nil }
func (NopStorage) Checkpoint(context.Context) error         { return nil }
func (NopStorage) Stop(context.Context) error               { return nil }

// NopOracle never reports divergence, so the primary checkpoints on the
// force-checkpoint timer only.
type NopOracle struct{}

func (NopOracle) Init(context.Context, domain.Role) error              { return nil }
func (NopOracle) PollDivergence(context.Context) (bool, error)         { return false, nil }
func (NopOracle) RequestCheckpoint(context.Context, domain.Role) error { return nil }
func (NopOracle) Teardown(context.Context, domain.Role) error          { return nil }
