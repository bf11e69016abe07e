package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/procrank/config"
)

// Config represents the complete agent configuration.
type Config struct {
	// DataDir is the root directory for the database and archives.
	DataDir string `yaml:"data_dir"`

	// Database is the DuckDB file name, relative to DataDir unless absolute.
	Database string `yaml:"database"`

	// Location is the IANA zone used for timestamps and day boundaries.
	// "Local" (or empty) uses the host zone.
	Location string `yaml:"location"`

	// Sampler configures process sampling.
	Sampler SamplerConfig `yaml:"sampler"`

	// Window configures windowed aggregation.
	Window WindowConfig `yaml:"window"`

	// Store configures the DuckDB store.
	Store StoreConfig `yaml:"store"`

	// Retention configures pruning of old data.
	Retention RetentionConfig `yaml:"retention"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// SamplerConfig configures process sampling.
type SamplerConfig struct {
	// Interval is the tick interval.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single Collect call.
	Timeout time.Duration `yaml:"timeout"`
}

// WindowConfig configures windowed aggregation.
type WindowConfig struct {
	// Ticks is the number of ticks per flush window.
	Ticks int `yaml:"ticks"`

	// TopK is the number of winners kept per ranking dimension.
	TopK int `yaml:"top_k"`

	// QueueSize is the number of drained windows waiting for the reducer.
	QueueSize int `yaml:"queue_size"`

	// SubscriberBuffer is the channel capacity of each report subscriber.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// FlushOnStop reduces the partial window when the agent stops.
	FlushOnStop bool `yaml:"flush_on_stop"`
}

// StoreConfig configures the DuckDB store.
type StoreConfig struct {
	// MaxOpenConns limits concurrent connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// QueryTimeout is the timeout for read queries.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// LeaderboardLimit caps leaderboard results.
	LeaderboardLimit int `yaml:"leaderboard_limit"`

	// ParquetCompression is the codec of Parquet exports and retention
	// archives: zstd, snappy, lz4, gzip or none.
	ParquetCompression string `yaml:"parquet_compression"`
}

// RetentionConfig configures pruning of old data.
type RetentionConfig struct {
	// Enabled enables the daily retention worker.
	Enabled bool `yaml:"enabled"`

	// Keep is how long data is retained.
	Keep time.Duration `yaml:"keep"`

	// RunHour is the local hour (0-23) of the daily run.
	RunHour int `yaml:"run_hour"`

	// ArchiveDir receives a Parquet copy of every dropped segment.
	// Empty disables archiving.
	ArchiveDir string `yaml:"archive_dir"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "/var/lib/procrank",
		Database: defaults.DefaultDatabaseFile,
		Location: "Local",
		Sampler: SamplerConfig{
			Interval: defaults.DefaultTickInterval,
			Timeout:  defaults.DefaultCollectTimeout,
		},
		Window: WindowConfig{
			Ticks:            defaults.DefaultWindowTicks,
			TopK:             defaults.DefaultTopK,
			QueueSize:        defaults.DefaultFlushQueueSize,
			SubscriberBuffer: defaults.DefaultSubscriberBuffer,
			FlushOnStop:      true,
		},
		Store: StoreConfig{
			MaxOpenConns:       defaults.DefaultMaxOpenConns,
			QueryTimeout:       defaults.DefaultQueryTimeout,
			LeaderboardLimit:   defaults.DefaultLeaderboardLimit,
			ParquetCompression: "zstd",
		},
		Retention: RetentionConfig{
			Enabled: true,
			Keep:    defaults.DefaultRetentionKeep,
			RunHour: defaults.DefaultRetentionRunHour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DatabasePath returns the absolute path of the DuckDB file.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.DataDir, c.Database)
}

// LoadLocation resolves the configured time zone.
func (c *Config) LoadLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Location)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}
