package netconf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/yndnr/colo-go/internal/core/domain"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []string
	fail  string // fail any command containing this substring
}

func (r *recordingRunner) Run(_ context.Context, argv ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := strings.Join(argv, " ")
	r.calls = append(r.calls, cmd)
	if r.fail != "" && strings.Contains(cmd, r.fail) {
		return errors.New("exit status 1")
	}
	return nil
}

func newTestConfigurator(r *recordingRunner) *Configurator {
	return New(Config{
		Script: "/etc/colo/colo-script",
		IfUp:   "/etc/qemu-ifup",
		IfDown: "/etc/qemu-ifdown",
		Runner: r,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestConfigurator_Register(t *testing.T) {
	c := newTestConfigurator(&recordingRunner{})

	tests := []struct {
		name string
		nic  NIC
		want bool
	}{
		{"tap", NIC{Name: "tap0", IfName: "tap0", Peer: "nic0"}, true},
		{"duplicate", NIC{Name: "tap0", IfName: "tap0"}, false},
		{"hub port", NIC{Name: "hub0", Kind: KindHubPort}, false},
		{"guest nic", NIC{Name: "nic1", Kind: KindGuest}, false},
		{"peer of registered", NIC{Name: "nic0", IfName: "x"}, false},
		{"second tap", NIC{Name: "tap1", IfName: "tap1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Register(tt.nic); got != tt.want {
				t.Errorf("Register() = %v, want %v", got, tt.want)
			}
		})
	}

	if n := len(c.NICs()); n != 2 {
		t.Errorf("registered %d devices, want 2", n)
	}
	if !c.Unregister("tap0") || c.Unregister("tap0") {
		t.Error("Unregister should remove a device exactly once")
	}
}

func TestConfigurator_Primary(t *testing.T) {
	r := &recordingRunner{}
	c := newTestConfigurator(r)
	c.Register(NIC{Name: "tap0", IfName: "tap0"})
	c.Register(NIC{Name: "tap1", IfName: "tap1", Index: 7})

	ctx := context.Background()
	if err := c.Configure(ctx, domain.RolePrimary); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := c.Teardown(ctx, domain.RolePrimary); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}

	want := []string{
		"/etc/colo/colo-script primary install tap0 tap0 1",
		"/etc/colo/colo-script primary install tap1 tap1 7",
		"/etc/colo/colo-script primary uninstall tap1 tap1 7",
		"/etc/colo/colo-script primary uninstall tap0 tap0 1",
	}
	if !reflect.DeepEqual(r.calls, want) {
		t.Errorf("calls = %q\nwant %q", r.calls, want)
	}
}

func TestConfigurator_SecondaryRestoresOriginalConfig(t *testing.T) {
	r := &recordingRunner{}
	c := newTestConfigurator(r)
	c.Register(NIC{Name: "tap0", IfName: "tap0"})

	ctx := context.Background()
	if err := c.Configure(ctx, domain.RoleSecondary); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := c.Teardown(ctx, domain.RoleSecondary); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}

	want := []string{
		"/etc/qemu-ifdown tap0",
		"/etc/colo/colo-script secondary install tap0 tap0 1",
		"/etc/colo/colo-script secondary uninstall tap0 tap0 1",
		"/etc/qemu-ifup tap0",
	}
	if !reflect.DeepEqual(r.calls, want) {
		t.Errorf("calls = %q\nwant %q", r.calls, want)
	}
}

func TestConfigurator_SecondaryRequiresIfScripts(t *testing.T) {
	r := &recordingRunner{}
	c := New(Config{Script: "/s", Runner: r, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	c.Register(NIC{Name: "tap0", IfName: "tap0"})

	if err := c.Configure(context.Background(), domain.RoleSecondary); err == nil {
		t.Fatal("Configure() should fail without ifup/ifdown")
	}
	if len(r.calls) != 0 {
		t.Errorf("no script should run, got %q", r.calls)
	}
}

func TestConfigurator_RollbackOnFailure(t *testing.T) {
	r := &recordingRunner{fail: "install tap1"}
	c := newTestConfigurator(r)
	c.Register(NIC{Name: "tap0", IfName: "tap0"})
	c.Register(NIC{Name: "tap1", IfName: "tap1"})

	if err := c.Configure(context.Background(), domain.RolePrimary); err == nil {
		t.Fatal("Configure() should fail")
	}

	last := r.calls[len(r.calls)-1]
	if last != "/etc/colo/colo-script primary uninstall tap0 tap0 1" {
		t.Errorf("last call = %q, want rollback of tap0", last)
	}

	// nothing left installed
	r.calls = nil
	if err := c.Teardown(context.Background(), domain.RolePrimary); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("Teardown after rollback ran %q", r.calls)
	}
}

func TestConfigurator_MissingArgument(t *testing.T) {
	r := &recordingRunner{}
	c := newTestConfigurator(r)
	c.Register(NIC{Name: "tap0"})

	if err := c.Configure(context.Background(), domain.RolePrimary); err == nil {
		t.Fatal("Configure() should reject an empty ifname")
	}
	if len(r.calls) != 0 {
		t.Errorf("no script should run, got %q", r.calls)
	}
}

func TestConfigurator_InvalidRole(t *testing.T) {
	c := newTestConfigurator(&recordingRunner{})
	c.Register(NIC{Name: "tap0", IfName: "tap0"})

	err := c.Configure(context.Background(), domain.RoleUnknown)
	if !errors.Is(err, domain.ErrInvalidRole) {
		t.Errorf("Configure() error = %v, want ErrInvalidRole", err)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindTap, false},
		{"tap", KindTap, false},
		{"HUB_PORT", KindHubPort, false},
		{"guest", KindGuest, false},
		{"bridge", KindTap, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
