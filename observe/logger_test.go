package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}
	return entry
}

func TestLogger_JSONShape(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "cache warmed", F("entries", 12))

	entry := decodeLine(t, &buf)
	if entry["msg"] != "cache warmed" {
		t.Errorf("msg = %v, want cache warmed", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp key")
	}
	if entry["entries"] != float64(12) {
		t.Errorf("entries = %v, want 12", entry["entries"])
	}
}

func TestLogger_WithOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithOperation(OpMeta{
		Operation:    "get_issue",
		ResourceType: "issue",
		ResourceID:   "I_1",
	})

	logger.Warn(context.Background(), "slow")

	entry := decodeLine(t, &buf)
	if entry["op"] != "get_issue" {
		t.Errorf("op = %v, want get_issue", entry["op"])
	}
	if entry["resource_type"] != "issue" {
		t.Errorf("resource_type = %v, want issue", entry["resource_type"])
	}
	if entry["resource_id"] != "I_1" {
		t.Errorf("resource_id = %v, want I_1", entry["resource_id"])
	}
	if _, ok := entry["namespace"]; ok {
		t.Error("empty namespace should be omitted")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "debug")
	logger.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %s", buf.String())
	}

	logger.Error(context.Background(), "boom")
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected error entry, got %s", buf.String())
	}
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "configured",
		F("token", "ghp_secret"),
		F("endpoint", "https://api.github.com"),
	)

	entry := decodeLine(t, &buf)
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", entry["token"])
	}
	if entry["endpoint"] != "https://api.github.com" {
		t.Errorf("endpoint = %v, want unchanged", entry["endpoint"])
	}
}

func TestLogger_ErrField(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Error(context.Background(), "failed", Err(context.Canceled))

	entry := decodeLine(t, &buf)
	if entry["error"] != "context canceled" {
		t.Errorf("error = %v, want context canceled", entry["error"])
	}
}

func TestConsoleLogger_WritesText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger("debug", &buf).With(Component("cache"))

	logger.Debug(context.Background(), "swept", F("expired", 3))

	out := buf.String()
	for _, want := range []string{"swept", "component=cache", "expired=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info(context.Background(), "ignored")
	if l.With(F("k", "v")) == nil {
		t.Fatal("With should return non-nil logger")
	}
	if l.WithOperation(OpMeta{Operation: "noop"}) == nil {
		t.Fatal("WithOperation should return non-nil logger")
	}
}
