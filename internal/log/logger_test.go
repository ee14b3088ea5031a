package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func resetLogger() {
	logger = nil
	once = *new(sync.Once)
}

func TestSetupWriterJSON(t *testing.T) {
	resetLogger()
	defer resetLogger()

	var buf bytes.Buffer
	SetupWriter("DEBUG", "json", &buf)
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Get().Debug("hello", "n", 1)

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
	if out["level"] != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %v", out["level"])
	}
}

func TestSetupWriterText(t *testing.T) {
	resetLogger()
	defer resetLogger()

	var buf bytes.Buffer
	SetupWriter("info", "text", &buf)
	Get().Debug("hidden")
	WithComponent("main").Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered at info level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected text handler output, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	defer resetLogger()

	WithComponent("compiler").Info("one")
	WithFragment("mod_abc").Info("two")
	WithDesignDoc("_design/app").Info("three")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	fields := []struct{ key, want string }{
		{"component", "compiler"},
		{"fragment", "mod_abc"},
		{"ddoc", "_design/app"},
	}
	for i, f := range fields {
		var out map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &out); err != nil {
			t.Fatalf("Failed to decode JSON: %v", err)
		}
		if out[f.key] != f.want {
			t.Errorf("line %d: expected %s=%q, got %v", i, f.key, f.want, out[f.key])
		}
	}
}
