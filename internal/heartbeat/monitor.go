// Package heartbeat watches the replication peer with gossip.
//
// Both sides join a two-node memberlist cluster. When the peer leaves or is
// declared dead, the registered OnPeerLost callback runs; the orchestrator
// turns that into a failover request.
package heartbeat

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/memberlist"
)

// Config configures a Monitor.
type Config struct {
	// NodeID is the unique node name in the gossip cluster.
	NodeID string

	// BindAddr and BindPort are the gossip listen address. Port 0 picks a
	// free port.
	BindAddr string
	BindPort int

	// ReplicationAddr is shared with the peer as node metadata.
	ReplicationAddr string

	// Seeds are gossip addresses to join.
	Seeds []string

	// PeerName limits loss detection to one node. Empty watches every
	// other node.
	PeerName string

	// ProbeInterval overrides memberlist's failure probe interval.
	ProbeInterval time.Duration

	// SecretKey enables gossip encryption. It must be 16, 24 or 32 bytes.
	SecretKey []byte

	// Logger for logging.
	Logger *slog.Logger
}

// Monitor reports peer liveness.
type Monitor struct {
	ml       *memberlist.Memberlist
	peerName string
	logger   *slog.Logger

	alive    atomic.Bool
	shutdown atomic.Bool

	mu         sync.RWMutex
	onPeerJoin func(node, replAddr string)
	onPeerLost func(node string)
}

// New creates a Monitor and joins Seeds when given.
func New(cfg Config) (*Monitor, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("heartbeat: node id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "heartbeat")

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	if len(cfg.SecretKey) > 0 {
		switch len(cfg.SecretKey) {
		case 16, 24, 32:
			mlConfig.SecretKey = cfg.SecretKey
		default:
			return nil, fmt.Errorf("heartbeat: secret key must be 16, 24 or 32 bytes, got %d", len(cfg.SecretKey))
		}
	}
	mlConfig.Logger = newHCLogger(logger, "memberlist").StandardLogger(nil)

	if cfg.ReplicationAddr != "" {
		mlConfig.Delegate = &metaDelegate{meta: []byte(cfg.ReplicationAddr)}
	}

	m := &Monitor{
		peerName: cfg.PeerName,
		logger:   logger,
	}
	mlConfig.Events = &eventDelegate{monitor: m, self: cfg.NodeID}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	m.ml = ml

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seeds: %w", err)
		}
		logger.Info("joined peer", "seeds", cfg.Seeds, "joined_count", n)
	} else {
		logger.Info("heartbeat started, waiting for peer", "node_id", cfg.NodeID)
	}

	return m, nil
}

// OnPeerJoin registers a callback for the peer joining.
func (m *Monitor) OnPeerJoin(fn func(node, replAddr string)) {
	m.mu.Lock()
	m.onPeerJoin = fn
	m.mu.Unlock()
}

// OnPeerLost registers a callback for the peer leaving or failing.
func (m *Monitor) OnPeerLost(fn func(node string)) {
	m.mu.Lock()
	m.onPeerLost = fn
	m.mu.Unlock()
}

// PeerAlive reports whether the peer is currently a live member.
func (m *Monitor) PeerAlive() bool {
	return m.alive.Load()
}

// Addr returns the local gossip address as host:port.
func (m *Monitor) Addr() string {
	n := m.ml.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Members returns the names of the current members.
func (m *Monitor) Members() []string {
	nodes := m.ml.Members()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}

// Leave broadcasts an intent to leave and waits up to timeout.
func (m *Monitor) Leave(timeout time.Duration) error {
	if err := m.ml.Leave(timeout); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	m.logger.Info("left heartbeat cluster")
	return nil
}

// Shutdown stops gossip. It is safe to call more than once.
func (m *Monitor) Shutdown() error {
	if m.shutdown.Swap(true) {
		return nil
	}
	if err := m.ml.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	m.logger.Info("heartbeat stopped")
	return nil
}

func (m *Monitor) watches(node string) bool {
	return m.peerName == "" || m.peerName == node
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	monitor *Monitor
	self    string
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	m := e.monitor
	if node.Name == e.self || !m.watches(node.Name) {
		return
	}
	m.alive.Store(true)

	replAddr := string(node.Meta)
	m.logger.Info("peer joined",
		"node_id", node.Name,
		"gossip_addr", node.Address(),
		"replication_addr", replAddr)

	m.mu.RLock()
	fn := m.onPeerJoin
	m.mu.RUnlock()
	if fn != nil {
		fn(node.Name, replAddr)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	m := e.monitor
	if node.Name == e.self || !m.watches(node.Name) {
		return
	}
	m.alive.Store(false)

	m.logger.Warn("peer lost", "node_id", node.Name, "addr", node.Address())

	m.mu.RLock()
	fn := m.onPeerLost
	m.mu.RUnlock()
	if fn != nil {
		fn(node.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.monitor.logger.Debug("peer updated", "node_id", node.Name)
}

// metaDelegate shares the replication address as node metadata.
type metaDelegate struct {
	meta []byte
}

func (d *metaDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return d.meta[:limit]
	}
	return d.meta
}

func (d *metaDelegate) NotifyMsg([]byte)                           {}
func (d *metaDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *metaDelegate) LocalState(join bool) []byte                { return nil }
func (d *metaDelegate) MergeRemoteState(buf []byte, join bool)     {}
