package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warnf("sweep took %dms", 12)
	logger.Error("boom")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["msg"] != "sweep took 12ms" {
		t.Errorf("unexpected message %v", lines[0]["msg"])
	}
	if lines[1]["level"] != "ERROR" {
		t.Errorf("unexpected level %v", lines[1]["level"])
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("user_id", 42).
		WithFields(map[string]interface{}{"resource": "docs"}).
		WithError(errors.New("store down")).
		Info("access check failed")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	line := lines[0]
	if line["user_id"] != float64(42) {
		t.Errorf("user_id = %v", line["user_id"])
	}
	if line["resource"] != "docs" {
		t.Errorf("resource = %v", line["resource"])
	}
	if line["error"] != "store down" {
		t.Errorf("error = %v", line["error"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NopLogger()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"trace", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if WarnLevel.String() != "WARN" {
		t.Errorf("WarnLevel.String() = %s", WarnLevel.String())
	}
}

func TestLoggerContext(t *testing.T) {
	fallback := NopLogger()
	if FromContext(context.Background(), fallback) != fallback {
		t.Error("expected fallback logger")
	}

	stored := NopLogger()
	ctx := WithLogger(context.Background(), stored)
	if FromContext(ctx, fallback) != stored {
		t.Error("expected stored logger")
	}
}
