// Package config loads the spacegraph configuration.
//
// The config file is read-only to the process: tunables are edited by the
// operator and picked up on change, never written back.
//
// Config file locations (priority order):
//  1. $SPACEGRAPH_CONFIG
//  2. ./spacegraph.yaml
//  3. $XDG_CONFIG_HOME/spacegraph/config.yaml
//  4. ~/.config/spacegraph/config.yaml
//  5. /etc/spacegraph/config.yaml
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"spacegraph/internal/core"
	"spacegraph/internal/gc"
	"spacegraph/internal/graph"
	"spacegraph/internal/ingest"
	"spacegraph/internal/service"
	"spacegraph/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path. Keys missing from the
// file keep their defaults; unknown keys are an error.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	limits := service.DefaultLimits()
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Ingest: IngestConfig{
			TickInterval:   Duration(core.DefaultTickInterval),
			QueueCapacity:  ingest.DefaultCapacity,
			QueuePolicy:    string(ingest.PolicyDropOldest),
			MaxMessageSize: ingest.DefaultMaxMessageSize,
		},
		Graph: GraphConfig{
			RawPerKey:  64,
			SelfSource: "spacegraph",
		},
		GC: GCConfig{
			Interval: Duration(core.DefaultGCInterval),
			TTL:      Duration(30 * time.Second),
			Grace:    Duration(30 * time.Second),
		},
		Timeline: TimelineConfig{
			Capacity:  20000,
			Window:    Duration(60 * time.Second),
			MaxWindow: Duration(limits.MaxWindow),
			MaxEvents: limits.MaxEvents,
		},
		Explain: ExplainConfig{
			DefaultDepth:   limits.DefaultDepth,
			MaxDepth:       limits.MaxDepth,
			DefaultNodeCap: limits.DefaultNodeCap,
			MaxNodeCap:     limits.MaxNodeCap,
			CacheSize:      256,
			CacheTTL:       Duration(200 * time.Millisecond),
		},
		Limits: LimitsConfig{
			MaxNeighbors:     limits.MaxNeighbors,
			MaxEdges:         limits.MaxEdges,
			DefaultVisible:   1200,
			MaxVisible:       5000,
			MaxVisibleEdges:  limits.MaxVisibleEdges,
			MaxSearchResults: limits.MaxSearchResults,
		},
		Telemetry: TelemetryConfig{
			Exporter:    telemetry.ExporterNone,
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in values an explicit empty entry cleared
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Ingest.QueuePolicy == "" {
		c.Ingest.QueuePolicy = def.Ingest.QueuePolicy
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = def.Telemetry.Exporter
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks ranges and enums
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CoreOptions returns the core tunables
func (c *Config) CoreOptions() core.Options {
	policy, _ := ingest.ParsePolicy(c.Ingest.QueuePolicy)
	return core.Options{
		Graph: graph.Options{
			ShowRaw:    c.Graph.ShowRaw,
			RawPerKey:  c.Graph.RawPerKey,
			CountLimit: c.Graph.CountLimit,
		},
		GC: gc.Policy{
			TTL:         c.GC.TTL.Duration(),
			Grace:       c.GC.Grace.Duration(),
			OrphansOnly: c.GC.OrphansOnly,
		},
		TimelineCapacity: c.Timeline.Capacity,
		QueueCapacity:    c.Ingest.QueueCapacity,
		QueuePolicy:      policy,
		CacheSize:        c.Explain.CacheSize,
		CacheTTL:         c.Explain.CacheTTL.Duration(),
	}
}

// ServiceLimits returns the query maxima
func (c *Config) ServiceLimits() service.Limits {
	return service.Limits{
		MaxNeighbors:     c.Limits.MaxNeighbors,
		MaxEdges:         c.Limits.MaxEdges,
		DefaultDepth:     c.Explain.DefaultDepth,
		MaxDepth:         c.Explain.MaxDepth,
		DefaultNodeCap:   c.Explain.DefaultNodeCap,
		MaxNodeCap:       c.Explain.MaxNodeCap,
		DefaultVisible:   c.Limits.DefaultVisible,
		MaxVisible:       c.Limits.MaxVisible,
		MaxVisibleEdges:  c.Limits.MaxVisibleEdges,
		DefaultWindow:    c.Timeline.Window.Duration(),
		MaxWindow:        c.Timeline.MaxWindow.Duration(),
		MaxEvents:        c.Timeline.MaxEvents,
		MaxSearchResults: c.Limits.MaxSearchResults,
	}
}

// Tracing returns the tracing setup for serviceVersion
func (c *Config) Tracing(serviceVersion string) telemetry.Config {
	return telemetry.Config{
		Exporter:       c.Telemetry.Exporter,
		ServiceName:    "spacegraph",
		ServiceVersion: serviceVersion,
		SampleRatio:    c.Telemetry.SampleRatio,
	}
}

// NewLogger builds the process logger writing to w. The level is read
// through level so a reload can change it.
func (c *Config) NewLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	level.Set(c.Logging.SlogLevel())
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SlogLevel maps the configured level name
func (l LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Summary returns a one-line description of the effective tunables
func (c *Config) Summary() string {
	return fmt.Sprintf("tick %s, gc every %s (ttl %s, grace %s), timeline %d events, queues %d (%s)",
		c.Ingest.TickInterval.Duration(), c.GC.Interval.Duration(),
		c.GC.TTL.Duration(), c.GC.Grace.Duration(),
		c.Timeline.Capacity, c.Ingest.QueueCapacity, c.Ingest.QueuePolicy)
}
