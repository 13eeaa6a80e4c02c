package proxy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// NetworkConfigurator installs and removes the replication network setup.
type NetworkConfigurator interface {
	Configure(ctx context.Context, role domain.Role) error
	Teardown(ctx context.Context, role domain.Role) error
}

// Config configures a Proxy.
type Config struct {
	// Network is called at Init and Teardown. Optional.
	Network NetworkConfigurator

	// MaxPending bounds the packets queued per side before the proxy
	// declares divergence. Defaults to 1024.
	MaxPending int

	Logger *slog.Logger
}

// Proxy implements the packet consistency oracle.
type Proxy struct {
	network    NetworkConfigurator
	maxPending int
	logger     *slog.Logger

	active    atomic.Bool
	divergent atomic.Bool

	mu        sync.Mutex
	primary   [][]byte
	secondary [][]byte

	compared    atomic.Uint64
	checkpoints atomic.Uint64
}

// New creates a Proxy.
func New(cfg Config) *Proxy {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Proxy{
		network:    cfg.Network,
		maxPending: cfg.MaxPending,
		logger:     cfg.Logger.With("component", "proxy"),
	}
}

// Init configures the network for role and starts comparing.
func (p *Proxy) Init(ctx context.Context, role domain.Role) error {
	if p.network != nil {
		if err := p.network.Configure(ctx, role); err != nil {
			return fmt.Errorf("configure network: %w", err)
		}
	}
	p.reset()
	p.active.Store(true)
	p.logger.Info("proxy initialized", "role", role.String())
	return nil
}

// PollDivergence reports whether output diverged since the last checkpoint.
func (p *Proxy) PollDivergence(context.Context) (bool, error) {
	if !p.active.Load() {
		return false, fmt.Errorf("proxy not initialized")
	}
	return p.divergent.Load(), nil
}

// RequestCheckpoint drops queued packets and clears the divergence flag:
// both sides restart from the same state.
func (p *Proxy) RequestCheckpoint(context.Context, domain.Role) error {
	if !p.active.Load() {
		return fmt.Errorf("proxy not initialized")
	}
	p.reset()
	p.checkpoints.Add(1)
	return nil
}

// Teardown stops comparing and restores the network.
func (p *Proxy) Teardown(ctx context.Context, role domain.Role) error {
	if !p.active.Swap(false) {
		return nil
	}
	p.reset()
	if p.network != nil {
		if err := p.network.Teardown(ctx, role); err != nil {
			return fmt.Errorf("restore network: %w", err)
		}
	}
	p.logger.Info("proxy torn down", "role", role.String())
	return nil
}

// Signal reports divergence detected elsewhere.
func (p *Proxy) Signal() {
	if p.active.Load() && !p.divergent.Swap(true) {
		p.logger.Debug("divergence signalled")
	}
}

// Divergent reports the current divergence flag.
func (p *Proxy) Divergent() bool {
	return p.divergent.Load()
}

// SubmitPrimary queues a packet emitted by the primary.
func (p *Proxy) SubmitPrimary(pkt []byte) {
	p.submit(pkt, true)
}

// SubmitSecondary queues a packet emitted by the secondary.
func (p *Proxy) SubmitSecondary(pkt []byte) {
	p.submit(pkt, false)
}

// Stats returns the number of packet pairs compared and checkpoints taken.
func (p *Proxy) Stats() (compared, checkpoints uint64) {
	return p.compared.Load(), p.checkpoints.Load()
}

func (p *Proxy) submit(pkt []byte, primary bool) {
	if !p.active.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pkt = bytes.Clone(pkt)
	if primary {
		p.primary = append(p.primary, pkt)
	} else {
		p.secondary = append(p.secondary, pkt)
	}

	for len(p.primary) > 0 && len(p.secondary) > 0 {
		a, b := p.primary[0], p.secondary[0]
		p.primary, p.secondary = p.primary[1:], p.secondary[1:]
		p.compared.Add(1)
		if !bytes.Equal(a, b) {
			p.divergent.Store(true)
			p.logger.Debug("output diverged", "primary_len", len(a), "secondary_len", len(b))
		}
	}

	if len(p.primary) > p.maxPending || len(p.secondary) > p.maxPending {
		p.divergent.Store(true)
		p.logger.Debug("output queue overflow",
			"primary_pending", len(p.primary),
			"secondary_pending", len(p.secondary))
	}
}

func (p *Proxy) reset() {
	p.mu.Lock()
	p.primary = nil
	p.secondary = nil
	p.mu.Unlock()
	p.divergent.Store(false)
}
