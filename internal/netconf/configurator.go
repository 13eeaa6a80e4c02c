package netconf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/yndnr/colo-go/internal/core/domain"
)

// Kind classifies a network device.
type Kind int

const (
	// KindTap is a host-side tap backend. Only taps are configured.
	KindTap Kind = iota
	// KindHubPort is an internal hub port.
	KindHubPort
	// KindGuest is the guest-facing NIC model.
	KindGuest
)

// ParseKind parses "tap", "hub_port" or "guest". Empty means tap.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tap":
		return KindTap, nil
	case "hub_port", "hubport":
		return KindHubPort, nil
	case "guest":
		return KindGuest, nil
	default:
		return KindTap, fmt.Errorf("unknown nic kind %q", s)
	}
}

// NIC describes one network device.
type NIC struct {
	Name   string // device name passed to the script as nicname
	IfName string // host interface name
	Kind   Kind
	Peer   string // name of the device this one is connected to, if any

	// Script overrides Config.Script for this device.
	Script string
	// Index overrides the position-based forward index.
	Index int
}

// Config configures a Configurator.
type Config struct {
	// Script is the replication network script.
	Script string
	// IfUp and IfDown restore and remove a device's original configuration.
	// Both are required on the secondary.
	IfUp   string
	IfDown string

	Runner Runner
	Logger *slog.Logger
}

type entry struct {
	nic NIC
	up  bool
}

// Configurator is the registry of replicated network devices.
type Configurator struct {
	mu      sync.Mutex
	entries []*entry

	script string
	ifup   string
	ifdown string

	runner Runner
	logger *slog.Logger
}

// New creates a Configurator.
func New(cfg Config) *Configurator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{Logger: cfg.Logger}
	}
	return &Configurator{
		script: cfg.Script,
		ifup:   cfg.IfUp,
		ifdown: cfg.IfDown,
		runner: cfg.Runner,
		logger: cfg.Logger.With("component", "netconf"),
	}
}

// Register adds nic to the registry. Hub ports and guest NICs are ignored, as
// is a device connected to one already registered. It reports whether nic
// was added.
func (c *Configurator) Register(nic NIC) bool {
	if nic.Kind != KindTap {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.nic.Name == nic.Name {
			return false
		}
		if (nic.Peer != "" && nic.Peer == e.nic.Name) || (e.nic.Peer != "" && e.nic.Peer == nic.Name) {
			return false
		}
	}

	c.entries = append(c.entries, &entry{nic: nic})
	c.logger.Debug("nic registered", "nic", nic.Name, "ifname", nic.IfName)
	return true
}

// Unregister removes the device called name.
func (c *Configurator) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.nic.Name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// NICs returns the registered devices in registration order.
func (c *Configurator) NICs() []NIC {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]NIC, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.nic)
	}
	return out
}

// Configure installs every registered device for role. If one fails, the
// devices already installed are uninstalled again.
func (c *Configurator) Configure(ctx context.Context, role domain.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.up {
			continue
		}
		if err := c.install(ctx, role, e, i); err != nil {
			if rerr := c.uninstallAll(ctx, role); rerr != nil {
				c.logger.Error("rollback failed", "error", rerr)
			}
			return err
		}
		e.up = true
	}

	c.logger.Info("network configured", "role", role.String(), "nics", len(c.entries))
	return nil
}

// Teardown uninstalls every installed device, in reverse order.
func (c *Configurator) Teardown(ctx context.Context, role domain.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.uninstallAll(ctx, role)
	if err == nil {
		c.logger.Info("network restored", "role", role.String())
	}
	return err
}

func (c *Configurator) uninstallAll(ctx context.Context, role domain.Role) error {
	var errs error
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if !e.up {
			continue
		}
		if err := c.uninstall(ctx, role, e, i); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		e.up = false
	}
	return errs
}

func (c *Configurator) install(ctx context.Context, role domain.Role, e *entry, pos int) error {
	switch role {
	case domain.RolePrimary:
		return c.runScript(ctx, role, true, e.nic, pos)
	case domain.RoleSecondary:
		if err := c.checkIfScripts(); err != nil {
			return err
		}
		if err := c.runner.Run(ctx, c.ifdown, e.nic.IfName); err != nil {
			return fmt.Errorf("netconf: ifdown %s: %w", e.nic.IfName, err)
		}
		return c.runScript(ctx, role, true, e.nic, pos)
	default:
		return domain.ErrInvalidRole.WithDetails(role.String())
	}
}

func (c *Configurator) uninstall(ctx context.Context, role domain.Role, e *entry, pos int) error {
	switch role {
	case domain.RolePrimary:
		return c.runScript(ctx, role, false, e.nic, pos)
	case domain.RoleSecondary:
		if err := c.checkIfScripts(); err != nil {
			return err
		}
		if err := c.runScript(ctx, role, false, e.nic, pos); err != nil {
			return err
		}
		if err := c.runner.Run(ctx, c.ifup, e.nic.IfName); err != nil {
			return fmt.Errorf("netconf: ifup %s: %w", e.nic.IfName, err)
		}
		return nil
	default:
		return domain.ErrInvalidRole.WithDetails(role.String())
	}
}

func (c *Configurator) checkIfScripts() error {
	if c.ifup == "" || c.ifdown == "" {
		return fmt.Errorf("netconf: ifup and ifdown scripts are required on the secondary")
	}
	return nil
}

func (c *Configurator) runScript(ctx context.Context, role domain.Role, install bool, nic NIC, pos int) error {
	script := nic.Script
	if script == "" {
		script = c.script
	}
	index := nic.Index
	if index <= 0 {
		index = pos + 1
	}
	action := "uninstall"
	if install {
		action = "install"
	}

	argv := []string{script, role.String(), action, nic.Name, nic.IfName, strconv.Itoa(index)}
	for _, a := range argv {
		if a == "" {
			return fmt.Errorf("netconf: missing script argument for %q", nic.Name)
		}
	}

	if err := c.runner.Run(ctx, argv...); err != nil {
		return fmt.Errorf("netconf: %s %s: %w", action, nic.Name, err)
	}
	return nil
}
