package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "colod.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, `
node:
  role: primary
  data_dir: /tmp/colod
replication:
  peer_addr: 10.0.0.2:7070
heartbeat:
  enabled: true
  secret_key: MDEyMzQ1Njc4OWFiY2RlZg==
`)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	if err := app.Run([]string{"colod", "--config", path, "--log-level", "debug", "check"}); err != nil {
		t.Fatalf("check: %v", err)
	}

	var got struct {
		Node      struct{ Role string }
		Log       struct{ Level string }
		Heartbeat struct{ SecretKey string }
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if got.Node.Role != "primary" {
		t.Errorf("role = %q", got.Node.Role)
	}
	if got.Log.Level != "debug" {
		t.Errorf("log level = %q, want flag override", got.Log.Level)
	}
	if strings.Contains(got.Heartbeat.SecretKey, "OWFiY2Rl") || !strings.Contains(got.Heartbeat.SecretKey, "*") {
		t.Errorf("secret key not masked: %q", got.Heartbeat.SecretKey)
	}
}

func TestCheckCommandRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "node:\n  role: primary\n")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"colod", "--config", path, "check"})
	if err == nil || !strings.Contains(err.Error(), "peer_addr") {
		t.Fatalf("check error = %v, want missing peer_addr", err)
	}
}

func TestRoleFlagOverridesFile(t *testing.T) {
	path := writeConfig(t, "node:\n  role: primary\n  data_dir: /tmp/colod\n")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	if err := app.Run([]string{"colod", "--config", path, "--role", "secondary", "check"}); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out.String(), `"Role": "secondary"`) {
		t.Errorf("output does not carry the overridden role:\n%s", out.String())
	}
}
