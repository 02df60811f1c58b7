package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerUsesJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "debug", Format: "json", Writer: &buf, Component: "constellation"})
	lg.Debug().Str("k", "v").Msg("boot")

	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, `"level":"debug"`) {
		t.Fatalf("expected debug level, got %s", out)
	}
	if !strings.Contains(out, `"component":"constellation"`) {
		t.Fatalf("expected component field, got %s", out)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "bogus", Writer: &buf})
	lg.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line should be filtered at info, got %s", buf.String())
	}
	lg.Info().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected info line, got %s", buf.String())
	}
}
