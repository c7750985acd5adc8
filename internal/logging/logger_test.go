package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("text") != FormatText {
		t.Error("expected text format")
	}
	if ParseFormat("json") != FormatJSON || ParseFormat("") != FormatJSON {
		t.Error("expected json format as default")
	}
}

func TestLogger_JSONEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf}).
		WithComponent("health").
		With(map[string]any{"region": "eu-west"})

	l.Infof("origin marked unhealthy", map[string]any{"origin": "o1"})

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode entry: %v", err)
	}
	if entry.Level != "info" {
		t.Errorf("expected level info, got %q", entry.Level)
	}
	if entry.Component != "health" {
		t.Errorf("expected component health, got %q", entry.Component)
	}
	if entry.Fields["region"] != "eu-west" || entry.Fields["origin"] != "o1" {
		t.Errorf("unexpected fields: %v", entry.Fields)
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("dropped")
	l.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn entry, got %q", buf.String())
	}
}

func TestLogger_TextFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

	l.Infof("sweep complete", map[string]any{"zeta": 1, "alpha": "a"})

	line := buf.String()
	if !strings.Contains(line, "[info] sweep complete") {
		t.Errorf("unexpected line: %q", line)
	}
	if strings.Index(line, "alpha=a") > strings.Index(line, "zeta=1") {
		t.Errorf("expected fields in key order: %q", line)
	}
}

func TestLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Level: LevelInfo, Output: &buf})
	_ = parent.With(map[string]any{"child": true})

	parent.Info("parent")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode entry: %v", err)
	}
	if _, ok := entry.Fields["child"]; ok {
		t.Error("child field leaked into parent logger")
	}
}

func TestFromCtx_CorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf})

	ctx := WithCorrelationIDCtx(context.Background(), "job-123")
	FromCtx(ctx, base).Info("replicating")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode entry: %v", err)
	}
	if entry.CorrelationID != "job-123" {
		t.Errorf("expected correlation ID job-123, got %q", entry.CorrelationID)
	}
}

func TestFromCtx_PrefersContextLogger(t *testing.T) {
	var ctxBuf, baseBuf bytes.Buffer
	ctxLogger := New(Config{Level: LevelInfo, Output: &ctxBuf})
	base := New(Config{Level: LevelInfo, Output: &baseBuf})

	ctx := WithLoggerCtx(context.Background(), ctxLogger)
	FromCtx(ctx, base).Info("hello")

	if ctxBuf.Len() == 0 || baseBuf.Len() != 0 {
		t.Error("expected the context logger to be used")
	}
}

func TestConfigureSetsGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	l := Configure("debug", "text")
	if Global() != l {
		t.Error("expected Configure to install the global logger")
	}
	if l.Level() != LevelDebug {
		t.Errorf("expected debug level, got %v", l.Level())
	}
}
