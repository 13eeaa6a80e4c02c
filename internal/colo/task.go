package colo

import "context"

// Task is a cancellable handle on a running engine loop.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Go runs fn in a new goroutine with a cancellable child of ctx.
func Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = fn(ctx)
	}()
	return t
}

// Cancel asks the task to stop. The engine observes it at its next
// suspension point: a control channel read or write, a decide-step sleep, or
// a wait for failover.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task returns and reports its result.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
