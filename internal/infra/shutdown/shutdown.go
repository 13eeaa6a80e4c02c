package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler runs cleanup hooks on shutdown.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	hooks   []hook
	reloads []func()

	once sync.Once
	err  error
	done chan struct{}
}

// NewHandler creates a handler whose hooks share timeout.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a hook. Hooks run in reverse order of registration.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// OnReload registers a callback run on SIGHUP.
func (h *Handler) OnReload(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads = append(h.reloads, fn)
}

// Wait blocks until SIGINT, SIGTERM or ctx is done, then shuts down.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				h.reload()
				continue
			}
			h.logger.Info("shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
			h.logger.Info("shutting down", "reason", context.Cause(ctx))
		}
		return h.Shutdown()
	}
}

// Shutdown runs the hooks once and returns their joined errors. Later calls
// return the first result.
func (h *Handler) Shutdown() error {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		hooks := append([]hook(nil), h.hooks...)
		h.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			if err := hooks[i].fn(ctx); err != nil {
				h.logger.Error("shutdown hook failed", "hook", hooks[i].name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
			}
		}
		h.err = errors.Join(errs...)
		close(h.done)
	})
	<-h.done
	return h.err
}

// Done is closed when the hooks have run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

func (h *Handler) reload() {
	h.mu.Lock()
	reloads := append([]func(){}, h.reloads...)
	h.mu.Unlock()

	h.logger.Info("reload signal received")
	for _, fn := range reloads {
		fn()
	}
}
