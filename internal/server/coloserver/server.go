package coloserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/colo-go/internal/colo"
	"github.com/yndnr/colo-go/internal/core/domain"
	"github.com/yndnr/colo-go/internal/heartbeat"
	"github.com/yndnr/colo-go/internal/netconf"
	"github.com/yndnr/colo-go/internal/proxy"
	"github.com/yndnr/colo-go/internal/server/config"
	"github.com/yndnr/colo-go/internal/server/httpserver"
	"github.com/yndnr/colo-go/internal/storage/blockrepl"
	"github.com/yndnr/colo-go/internal/storage/ledger"
	"github.com/yndnr/colo-go/internal/telemetry/metric"
	"github.com/yndnr/colo-go/internal/workload/memkv"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTerminator replaces the terminal action taken on fatal replication
// errors.
func WithTerminator(t colo.Terminator) Option {
	return func(s *Server) { s.terminator = t }
}

// WithRunner replaces the command runner used for network scripts.
func WithRunner(r netconf.Runner) Option {
	return func(s *Server) { s.runner = r }
}

// WithRegistry sets the metrics registry. Defaults to a new registry.
func WithRegistry(r *metric.Registry) Option {
	return func(s *Server) { s.metrics = r }
}

// Server is one node of a replicated pair.
type Server struct {
	cfg        *config.Config
	role       domain.Role
	nodeID     string
	logger     *slog.Logger
	terminator colo.Terminator
	runner     netconf.Runner

	metrics *metric.Registry
	disks   []*blockrepl.BadgerDisk
	repl    *blockrepl.Replicator
	store   *memkv.Store
	ledger  *ledger.Ledger
	network *netconf.Configurator
	proxy   *proxy.Proxy
	monitor *heartbeat.Monitor

	api        *httpserver.Server
	metricsSrv *httpserver.Server

	// exec is the host execution lock shared with the session.
	exec sync.Mutex

	requested atomic.Bool
	promoted  atomic.Bool

	mu      sync.RWMutex
	coord   *colo.Coordinator
	primary *colo.Primary
	last    checkpointInfo

	listening chan struct{}
	replAddr  atomic.Value // net.Addr
	apiAddr   atomic.Value // net.Addr

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

type checkpointInfo struct {
	count  uint64
	seq    uint64
	digest uint64
}

// New creates a Server from a verified configuration. It opens the disks,
// the ledger and the workload; nothing listens until Start.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := config.Verify(cfg); err != nil {
		return nil, err
	}
	role, err := cfg.Role()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		role:      role,
		nodeID:    cfg.Node.NodeID,
		logger:    slog.Default(),
		listening: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.nodeID == "" {
		s.nodeID = "colod-" + ulid.MustNew(ulid.Now(), rand.Reader).String()
	}
	s.logger = s.logger.With("node_id", s.nodeID, "role", role.String())
	if s.metrics == nil {
		s.metrics = metric.NewRegistry()
	}
	if s.terminator == nil {
		s.terminator = colo.ExitTerminator(s.logger)
	}

	if err := s.openStorage(); err != nil {
		s.closeStorage()
		return nil, err
	}

	l, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		s.closeStorage()
		return nil, err
	}
	s.ledger = l

	s.openNetwork()

	if err := s.metrics.Register(metric.NewCollector(s)); err != nil {
		s.closeStorage()
		s.ledger.Close()
		return nil, fmt.Errorf("register session collector: %w", err)
	}
	return s, nil
}

// openStorage opens every configured disk and the workload on top of the
// backing disk.
func (s *Server) openStorage() error {
	var backing *blockrepl.BadgerDisk
	disks := make([]blockrepl.Disk, 0, len(s.cfg.Storage.Disks))
	for _, dc := range s.cfg.Storage.Disks {
		c := blockrepl.DefaultDiskConfig(dc.Name, s.cfg.DiskDir(dc))
		c.ReadOnly = dc.ReadOnly
		d, err := blockrepl.OpenBadgerDisk(c, s.logger)
		if err != nil {
			return fmt.Errorf("open disk %s: %w", dc.Name, err)
		}
		s.disks = append(s.disks, d)
		disks = append(disks, d)
		for _, col := range d.Collectors() {
			if err := s.metrics.Register(col); err != nil {
				return fmt.Errorf("register disk %s collector: %w", dc.Name, err)
			}
		}
		if dc.Name == s.cfg.Workload.BackingDisk {
			backing = d
		}
	}
	s.repl = blockrepl.NewReplicator(s.logger, disks...)

	opts := []memkv.Option{memkv.WithLogger(s.logger.With("component", "workload"))}
	if backing != nil {
		opts = append(opts, memkv.WithBacking(backing))
	}
	sealer, err := s.cfg.SnapshotSealer()
	if err != nil {
		return err
	}
	if sealer != nil {
		opts = append(opts, memkv.WithSealer(sealer))
		s.logger.Info("snapshot sealing enabled", "cipher", sealer.Algorithm().String())
	}
	s.store = memkv.New(opts...)
	return s.store.Load()
}

func (s *Server) openNetwork() {
	n := s.cfg.Network
	s.network = netconf.New(netconf.Config{
		Script: n.Script,
		IfUp:   n.IfUp,
		IfDown: n.IfDown,
		Runner: s.runner,
		Logger: s.logger,
	})
	for _, nc := range n.NICs {
		kind, _ := netconf.ParseKind(nc.Kind) // checked by Verify
		s.network.Register(netconf.NIC{
			Name:   nc.Name,
			IfName: nc.IfName,
			Kind:   kind,
			Peer:   nc.Peer,
			Script: nc.Script,
			Index:  nc.Index,
		})
	}
	s.proxy = proxy.New(proxy.Config{Network: s.network, Logger: s.logger})
}

// Start starts the HTTP endpoints and the heartbeat monitor, then runs the
// session in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("coloserver: already started")
	}

	if err := s.startHTTP(); err != nil {
		return err
	}
	if err := s.startHeartbeat(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.run(runCtx)
	}()
	return nil
}

func (s *Server) startHTTP() error {
	metricsAddr := s.cfg.Metrics.Addr
	apiAddr := s.cfg.Workload.APIAddr

	var metricsHandler http.Handler
	if metricsAddr != "" && metricsAddr == apiAddr {
		metricsHandler = s.metrics.Handler()
	}

	if apiAddr != "" {
		router := httpserver.NewRouter(httpserver.RouterConfig{
			Controller: s,
			KV:         s.store,
			Metrics:    metricsHandler,
			AccessLog:  true,
			Logger:     s.logger,
		})
		s.api = httpserver.New(apiAddr, router, s.logger)
		addr, err := s.api.Start()
		if err != nil {
			return fmt.Errorf("start api: %w", err)
		}
		s.apiAddr.Store(addr)
	}

	if metricsAddr != "" && metricsHandler == nil {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.metrics.Handler())
		s.metricsSrv = httpserver.New(metricsAddr, mux, s.logger)
		if _, err := s.metricsSrv.Start(); err != nil {
			return fmt.Errorf("start metrics: %w", err)
		}
	}
	return nil
}

func (s *Server) startHeartbeat() error {
	hb := s.cfg.Heartbeat
	if !hb.Enabled {
		return nil
	}
	key, err := s.cfg.HeartbeatKey()
	if err != nil {
		return err
	}
	m, err := heartbeat.New(heartbeat.Config{
		NodeID:          s.nodeID,
		BindAddr:        hb.BindAddr,
		BindPort:        hb.BindPort,
		ReplicationAddr: s.cfg.Replication.ListenAddr,
		Seeds:           hb.Seeds,
		PeerName:        hb.PeerName,
		ProbeInterval:   hb.ProbeInterval,
		SecretKey:       key,
		Logger:          s.logger,
	})
	if err != nil {
		return fmt.Errorf("start heartbeat: %w", err)
	}
	m.OnPeerJoin(func(node, replAddr string) {
		s.logger.Info("peer joined", "peer", node, "replication_addr", replAddr)
	})
	m.OnPeerLost(func(node string) {
		if started, err := s.Failover("peer lost: " + node); err == nil && started {
			s.logger.Warn("failover started after peer loss", "peer", node)
		}
	})
	s.monitor = m
	return nil
}

// Listening is closed once the secondary's replication listener is bound.
func (s *Server) Listening() <-chan struct{} { return s.listening }

// ReplicationAddr returns the bound replication address, or nil before the
// secondary is listening.
func (s *Server) ReplicationAddr() net.Addr {
	a, _ := s.replAddr.Load().(net.Addr)
	return a
}

// APIAddr returns the bound API address, or nil when the API is disabled.
func (s *Server) APIAddr() net.Addr {
	a, _ := s.apiAddr.Load().(net.Addr)
	return a
}

// Store returns the protected workload.
func (s *Server) Store() *memkv.Store { return s.store }

// Ledger returns the session ledger.
func (s *Server) Ledger() *ledger.Ledger { return s.ledger }

// Done is closed when the session goroutine has returned.
func (s *Server) Done() <-chan struct{} { return s.done }

// RequestGuestShutdown forwards an orderly shutdown through the running
// primary session. It reports whether a primary session was running.
func (s *Server) RequestGuestShutdown() bool {
	s.mu.RLock()
	p := s.primary
	s.mu.RUnlock()
	if p == nil {
		return false
	}
	p.RequestGuestShutdown()
	return true
}

// Shutdown stops the session, the listeners and the heartbeat monitor, and
// closes the ledger and disks. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown(ctx)
	})
	return s.closeErr
}

func (s *Server) shutdown(ctx context.Context) error {
	var errs []error

	// a running primary ends the session in order before going away
	if s.RequestGuestShutdown() {
		if coord := s.coordinator(); coord != nil {
			if err := coord.Wait(ctx); err != nil {
				s.logger.Warn("guest shutdown did not complete", "error", err)
			}
		}
	}

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for session: %w", ctx.Err()))
		}
	}

	if s.monitor != nil {
		if err := s.monitor.Leave(time.Second); err != nil {
			s.logger.Warn("heartbeat leave failed", "error", err)
		}
		if err := s.monitor.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("heartbeat: %w", err))
		}
	}
	if s.api != nil {
		if err := s.api.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if err := s.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger: %w", err))
	}
	if err := s.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeStorage() error {
	var errs []error
	for _, d := range s.disks {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("disk %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
