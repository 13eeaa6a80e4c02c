package colo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/colo-go/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWorkload is an in-memory workload whose state is a byte slice.
type fakeWorkload struct {
	mu      sync.Mutex
	stopped bool
	state   []byte
	starts  int
	stops   int
	resets  int
	applies int

	applyErr error
	applied  chan struct{}
}

func newFakeWorkload(state []byte) *fakeWorkload {
	return &fakeWorkload{
		stopped: true,
		state:   state,
		applied: make(chan struct{}, 16),
	}
}

func (w *fakeWorkload) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.stops++
	return nil
}

func (w *fakeWorkload) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = false
	w.starts++
	return nil
}

func (w *fakeWorkload) IsStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *fakeWorkload) CaptureInto(out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := out.Write(w.state)
	return err
}

func (w *fakeWorkload) ApplyFrom(r io.Reader) error {
	w.mu.Lock()
	defer func() {
		w.mu.Unlock()
		select {
		case w.applied <- struct{}{}:
		default:
		}
	}()
	w.applies++
	if w.applyErr != nil {
		return w.applyErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.state = data
	return nil
}

func (w *fakeWorkload) ResetToCleanState() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resets++
	w.state = nil
	return nil
}

func (w *fakeWorkload) State() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Clone(w.state)
}

// fakeOracle counts calls and reports divergence on demand.
type fakeOracle struct {
	diverged    atomic.Bool
	inits       atomic.Int32
	checkpoints atomic.Int32
	teardowns   atomic.Int32
	initErr     error
}

func (o *fakeOracle) Init(context.Context, domain.Role) error {
	o.inits.Add(1)
	return o.initErr
}

func (o *fakeOracle) PollDivergence(context.Context) (bool, error) {
	return o.diverged.Load(), nil
}

func (o *fakeOracle) RequestCheckpoint(context.Context, domain.Role) error {
	o.checkpoints.Add(1)
	return nil
}

func (o *fakeOracle) Teardown(context.Context, domain.Role) error {
	o.teardowns.Add(1)
	return nil
}

// fakeStorage records the replication lifecycle.
type fakeStorage struct {
	started     atomic.Int32
	checkpoints atomic.Int32
	stopped     atomic.Int32
}

func (s *fakeStorage) Start(context.Context, domain.Role) error {
	s.started.Add(1)
	return nil
}

func (s *fakeStorage) Checkpoint(context.Context) error {
	s.checkpoints.Add(1)
	return nil
}

func (s *fakeStorage) Stop(context.Context) error {
	s.stopped.Add(1)
	return nil
}

// terminations records terminator calls instead of exiting.
type terminations struct {
	ch chan error
}

func newTerminations() *terminations {
	return &terminations{ch: make(chan error, 4)}
}

func (r *terminations) terminator() Terminator {
	return func(cause error) { r.ch <- cause }
}

func (r *terminations) count() int {
	return len(r.ch)
}

// side bundles everything one end of a session needs.
type side struct {
	sess     *Session
	coord    *Coordinator
	workload *fakeWorkload
	oracle   *fakeOracle
	storage  *fakeStorage
	term     *terminations
	promoted atomic.Bool
}

func newSide(t *testing.T, role domain.Role, state []byte) *side {
	t.Helper()

	s := &side{
		sess:     NewSession(role, nil, discardLogger()),
		workload: newFakeWorkload(state),
		oracle:   &fakeOracle{},
		storage:  &fakeStorage{},
		term:     newTerminations(),
	}

	coord, err := NewCoordinator(CoordinatorConfig{
		Session:    s.sess,
		Workload:   s.workload,
		Storage:    s.storage,
		Oracle:     s.oracle,
		OnPromoted: func() { s.promoted.Store(true) },
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	s.coord = coord
	return s
}

func (s *side) config(conn net.Conn) EngineConfig {
	return EngineConfig{
		Coordinator:             s.coord,
		Channel:                 NewChannel(conn),
		Terminator:              s.term.terminator(),
		BufferSize:              1024,
		ForceCheckpointInterval: time.Hour,
		PollInterval:            2 * time.Millisecond,
		GraceWindow:             5 * time.Second,
	}
}

// waitTask fails the test if the task does not finish in time.
func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	select {
	case <-task.Done():
		return task.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
		return nil
	}
}

// eventually polls cond until it holds.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

var errApply = errors.New("apply: corrupt device state")
