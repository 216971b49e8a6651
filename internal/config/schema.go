package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Graph     GraphConfig     `yaml:"graph"`
	GC        GCConfig        `yaml:"gc"`
	Timeline  TimelineConfig  `yaml:"timeline"`
	Explain   ExplainConfig   `yaml:"explain"`
	Limits    LimitsConfig    `yaml:"limits"`
	Trace     TraceConfig     `yaml:"trace"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr            string   `yaml:"addr" validate:"required"`
	ReadTimeout     Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// IngestConfig holds agent connection and queue settings
type IngestConfig struct {
	// TickInterval is the drain-and-apply cadence
	TickInterval   Duration `yaml:"tick_interval" validate:"gt=0"`
	QueueCapacity  int      `yaml:"queue_capacity" validate:"gte=1"`
	QueuePolicy    string   `yaml:"queue_policy" validate:"oneof=drop_oldest block"`
	MaxMessageSize int      `yaml:"max_message_size" validate:"gte=256"`
	// AllowedOrigins restricts browser origins on /ingest; empty allows any
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// GraphConfig holds aggregation settings
type GraphConfig struct {
	ShowRaw   bool `yaml:"show_raw"`
	RawPerKey int  `yaml:"raw_per_key" validate:"gte=0"`
	// CountLimit saturates aggregate counts; 0 saturates at the type maximum
	CountLimit uint64 `yaml:"count_limit"`
	// SelfSource is the source key the server seeds its own host under;
	// empty disables seeding
	SelfSource string `yaml:"self_source" validate:"omitempty,excludes=/"`
	// SeedFiles are glob patterns of fragment files loaded at startup
	SeedFiles []string `yaml:"seed_files,omitempty"`
}

// GCConfig holds sweep settings
type GCConfig struct {
	Interval    Duration `yaml:"interval" validate:"gt=0"`
	TTL         Duration `yaml:"ttl" validate:"gt=0"`
	Grace       Duration `yaml:"grace" validate:"gte=0"`
	OrphansOnly bool     `yaml:"orphans_only"`
}

// TimelineConfig holds history settings
type TimelineConfig struct {
	Capacity  int      `yaml:"capacity" validate:"gte=1"`
	Window    Duration `yaml:"window" validate:"gt=0"`
	MaxWindow Duration `yaml:"max_window" validate:"gtefield=Window"`
	MaxEvents int      `yaml:"max_events" validate:"gte=1"`
}

// ExplainConfig holds path search bounds and the result cache
type ExplainConfig struct {
	DefaultDepth   int      `yaml:"default_depth" validate:"gte=1"`
	MaxDepth       int      `yaml:"max_depth" validate:"gtefield=DefaultDepth"`
	DefaultNodeCap int      `yaml:"default_node_cap" validate:"gte=1"`
	MaxNodeCap     int      `yaml:"max_node_cap" validate:"gtefield=DefaultNodeCap"`
	CacheSize      int      `yaml:"cache_size" validate:"gte=1"`
	CacheTTL       Duration `yaml:"cache_ttl" validate:"gt=0"`
}

// LimitsConfig holds the maxima for query result sizes
type LimitsConfig struct {
	MaxNeighbors     int `yaml:"max_neighbors" validate:"gte=1"`
	MaxEdges         int `yaml:"max_edges" validate:"gte=1"`
	DefaultVisible   int `yaml:"default_visible" validate:"gte=1"`
	MaxVisible       int `yaml:"max_visible" validate:"gtefield=DefaultVisible"`
	MaxVisibleEdges  int `yaml:"max_visible_edges" validate:"gte=1"`
	MaxSearchResults int `yaml:"max_search_results" validate:"gte=1"`
}

// TraceConfig holds the trace recorder settings
type TraceConfig struct {
	// Path of the SQLite trace database; empty disables recording
	Path string `yaml:"path"`
}

// TelemetryConfig holds tracing exporter settings
type TelemetryConfig struct {
	Exporter    string  `yaml:"exporter" validate:"oneof=none stdout"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gt=0,lte=1"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
