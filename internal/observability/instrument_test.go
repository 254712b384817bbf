package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/processors/minsev"
)

func TestInstrument_Formats(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	shutdown, err := instrument(context.Background(), &buf, slog.LevelInfo, "json", "")
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	slog.Debug("hidden")
	slog.Info("account refreshed", "id", "a1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "account refreshed" || rec["id"] != "a1" {
		t.Errorf("record = %v", rec)
	}
}

func TestInstrument_OTelStdout(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	shutdown, err := instrument(context.Background(), &buf, slog.LevelWarn, "otel", "stdout")
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}

	slog.Info("filtered out")
	slog.Warn("store recovered", "outcome", "recovered_from_backup")

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "store recovered") {
		t.Errorf("warn record missing: %s", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("info record should be filtered: %s", out)
	}
}

func TestInstrument_Unsupported(t *testing.T) {
	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := instrument(context.Background(), &bytes.Buffer{}, slog.LevelInfo, "otel", "kafka"); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  minsev.Severity
	}{
		{slog.LevelDebug, minsev.SeverityDebug},
		{slog.LevelInfo, minsev.SeverityInfo},
		{slog.LevelWarn, minsev.SeverityWarn},
		{slog.LevelError, minsev.SeverityError},
		{slog.LevelError + 4, minsev.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
