package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spacegraph/internal/ingest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromPathOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
gc:
  ttl: 10s
  orphans_only: true
ingest:
  queue_policy: block
logging:
  format: json
`)

	cfg, got, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if got != path {
		t.Errorf("path = %s, want %s", got, path)
	}
	if cfg.GC.TTL.Duration() != 10*time.Second {
		t.Errorf("GC.TTL = %s, want 10s", cfg.GC.TTL.Duration())
	}
	if !cfg.GC.OrphansOnly {
		t.Error("GC.OrphansOnly should be set")
	}
	def := DefaultConfig()
	if cfg.GC.Grace != def.GC.Grace {
		t.Errorf("GC.Grace = %s, want default %s", cfg.GC.Grace.Duration(), def.GC.Grace.Duration())
	}
	if cfg.Server.Addr != def.Server.Addr {
		t.Errorf("Server.Addr = %q, want default %q", cfg.Server.Addr, def.Server.Addr)
	}

	opts := cfg.CoreOptions()
	if opts.QueuePolicy != ingest.PolicyBlock {
		t.Errorf("QueuePolicy = %s, want block", opts.QueuePolicy)
	}
	if opts.GC.TTL != 10*time.Second || !opts.GC.OrphansOnly {
		t.Errorf("unexpected GC policy %+v", opts.GC)
	}
}

func TestLoadFromPathRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "gc:\n  tll: 10s\n", "parse config"},
		{"bad duration", "gc:\n  ttl: soon\n", "parse config"},
		{"bad policy", "ingest:\n  queue_policy: spill\n", "invalid config"},
		{"depth below default", "explain:\n  default_depth: 8\n  max_depth: 4\n", "invalid config"},
		{"zero ttl", "gc:\n  ttl: 0s\n", "invalid config"},
		{"bad level", "logging:\n  level: loud\n", "invalid config"},
		{"bad exporter", "telemetry:\n  exporter: jaeger\n", "invalid config"},
		{"self source with slash", "graph:\n  self_source: a/b\n", "invalid config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadFromPath(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromPathEmptyFile(t *testing.T) {
	cfg, _, err := LoadFromPath(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Timeline.Capacity != DefaultConfig().Timeline.Capacity {
		t.Errorf("Timeline.Capacity = %d, want default", cfg.Timeline.Capacity)
	}
}

func TestServiceLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxVisible = 42
	cfg.Timeline.MaxWindow = Duration(2 * time.Hour)

	limits := cfg.ServiceLimits()
	if limits.MaxVisible != 42 {
		t.Errorf("MaxVisible = %d, want 42", limits.MaxVisible)
	}
	if limits.MaxWindow != 2*time.Hour {
		t.Errorf("MaxWindow = %s, want 2h", limits.MaxWindow)
	}
	if limits.DefaultDepth != cfg.Explain.DefaultDepth {
		t.Errorf("DefaultDepth = %d, want %d", limits.DefaultDepth, cfg.Explain.DefaultDepth)
	}
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte("version: 1\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if found := FindConfigPath(); found == "" {
		t.Error("FindConfigPath() should find config in working directory")
	}

	// explicit path that does not exist falls back
	t.Setenv(EnvConfigPath, "/nonexistent/path.yaml")
	if found := FindConfigPath(); found == "" {
		t.Error("FindConfigPath() should fall back when env path doesn't exist")
	}

	explicit := writeConfig(t, "version: 1\n")
	t.Setenv(EnvConfigPath, explicit)
	if found := FindConfigPath(); found != explicit {
		t.Errorf("FindConfigPath() = %s, want %s", found, explicit)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LoggingConfig{Level: tt.level}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	d := Duration(5 * time.Minute)

	if d.Duration() != 5*time.Minute {
		t.Errorf("Duration() = %s, want 5m", d.Duration())
	}

	marshaled, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML() error: %v", err)
	}
	if marshaled != "5m0s" {
		t.Errorf("MarshalYAML() = %v, want 5m0s", marshaled)
	}
}
