package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bambulink/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Leveler
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" Error ", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := parseLevel(tc.raw)
		if err != nil {
			t.Fatalf("parseLevel(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if _, err := parseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestConfigure_WritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "engine.log")

	mgr := NewManager()
	err := mgr.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath)
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	defer func() { _ = mgr.Close() }()

	mgr.Logger("test").Info("file fanout check", "key", "value")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file fanout check") {
		t.Fatalf("log file missing record: %q", string(data))
	}
	if !strings.Contains(string(data), "component=test") {
		t.Fatalf("log file missing component tag: %q", string(data))
	}
}

func TestConfigure_RejectsBadLevel(t *testing.T) {
	mgr := NewManager()
	err := mgr.Configure(config.LoggingConfig{Level: "loud"}, "")
	if err == nil {
		t.Fatalf("expected error for invalid level")
	}
}
