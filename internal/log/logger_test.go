package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestForRunCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentAllocation, Handler: slog.NewTextHandler(&buf, nil)})

	l.ForRun("PE-1", "V-1").InfoContext(context.Background(), "Run started")

	out := buf.String()
	for _, want := range []string{"plan_event_id=PE-1", "plan_version_id=V-1", "component=allocation"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().WithExecution("").WithStep("EV-1", 2)
	if _, ok := f[FieldExecutionID]; ok {
		t.Error("empty execution id should be skipped")
	}
	if f[FieldEventID] != "EV-1" || f[FieldStepNo] != 2 {
		t.Errorf("unexpected step fields: %v", f)
	}
	if len(f.ToSlice()) != 4 {
		t.Errorf("ToSlice length = %d, want 4", len(f.ToSlice()))
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("expected fallback logger")
	}
}
