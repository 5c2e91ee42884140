package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWithFieldsAreKept(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, DebugLevel).
		WithComponent("writer").
		WithFields(Fields{"sheet": "B3", "rows": 2})

	log.Info("batch written")

	out := buf.String()
	for _, want := range []string{"component=writer", "sheet=B3", "rows=2", "batch written"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, WarnLevel)

	log.Debug("hidden")
	log.Info("hidden too")
	log.WithError(errors.New("boom")).Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "error=boom") {
		t.Errorf("expected warning with error field, got %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{"default", DefaultConfig(), false},
		{"debug", DebugConfig(), false},
		{"discard", &Config{Level: ErrorLevel, Format: JSONFormat, Output: DiscardOutput}, false},
		{"bad level", &Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", &Config{Level: InfoLevel, Format: JSONFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestOperationLogger(t *testing.T) {
	var buf bytes.Buffer
	ol := NewOperationLogger("repair", NewWithWriter(&buf, DebugLevel)).WithField("tenant", "B3")

	ol.Step("load")
	ol.Success("repair finished", Fields{"rows": 4})

	out := buf.String()
	for _, want := range []string{"operation=repair", "step=load", "tenant=B3", "status=success", "rows=4"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(ProgressConfig{Operation: "backfill", Total: 4, Logger: Nop()})
	tracker.Increment()
	tracker.Add(2)

	stats := tracker.Stats()
	if stats.Current != 3 {
		t.Errorf("expected current 3, got %d", stats.Current)
	}
	if stats.Percentage != 75 {
		t.Errorf("expected 75%%, got %.1f", stats.Percentage)
	}
	if !strings.HasPrefix(stats.String(), "backfill: 3/4") {
		t.Errorf("unexpected stats string %q", stats.String())
	}
	tracker.Complete(nil)
}
