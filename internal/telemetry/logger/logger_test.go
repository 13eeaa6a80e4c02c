package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("checkpoint committed", "seq", 7, "role", "primary")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "checkpoint committed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["seq"] != float64(7) {
		t.Errorf("seq = %v", entry["seq"])
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Format: "text", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("New() accepted unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("New() accepted unknown format")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer SetLevel("info")

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug emitted at info: %s", buf.String())
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatal(err)
	}
	if GetLevel() != "debug" {
		t.Errorf("GetLevel() = %q", GetLevel())
	}
	l.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("debug not emitted after SetLevel(debug)")
	}

	if err := SetLevel("nope"); err == nil {
		t.Error("SetLevel accepted unknown level")
	}
	if GetLevel() != "debug" {
		t.Error("failed SetLevel changed the level")
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("config", "secret_key", "c2VjcmV0", "peer_addr", "10.0.0.2:7070")

	out := buf.String()
	if strings.Contains(out, "c2VjcmV0") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, redactedValue) {
		t.Errorf("no redaction marker: %s", out)
	}
	if !strings.Contains(out, "10.0.0.2:7070") {
		t.Errorf("non-secret attribute redacted: %s", out)
	}
}

func TestRedactionInGroup(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.WithGroup("heartbeat").Info("config", "secret_key", "abcd")
	if strings.Contains(buf.String(), "abcd") {
		t.Errorf("grouped secret leaked: %s", buf.String())
	}
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithSessionID(WithLogger(context.Background(), l), "01J0SESSION")
	if got := SessionIDFromContext(ctx); got != "01J0SESSION" {
		t.Errorf("SessionIDFromContext() = %q", got)
	}
	L(ctx).Info("ready")
	if !strings.Contains(buf.String(), `"session_id":"01J0SESSION"`) {
		t.Errorf("session_id missing: %s", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Error("FromContext() without logger returned nil")
	}
}
