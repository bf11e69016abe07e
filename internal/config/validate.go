package config

import (
	"fmt"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/storage/parquet"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.DataDir == "" {
		v.AddMissing("data_dir")
	}
	if c.Database == "" {
		v.AddMissing("database")
	}
	if _, err := c.LoadLocation(); err != nil {
		v.AddField("location", err.Error())
	}

	c.Sampler.validate(v)
	c.Window.validate(v)
	c.Store.validate(v)
	c.Retention.validate(v)

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		v.AddField("logging.level", err.Error())
	}

	return v.Err()
}

func (c *SamplerConfig) validate(v *errors.ValidationErrors) {
	if c.Interval <= 0 {
		v.AddField("sampler.interval", "must be positive")
	} else if c.Interval < 100*time.Millisecond {
		v.AddField("sampler.interval", "must be at least 100ms")
	}
	if c.Timeout < 0 {
		v.AddField("sampler.timeout", "must not be negative")
	}
}

func (c *WindowConfig) validate(v *errors.ValidationErrors) {
	if c.Ticks <= 0 {
		v.AddField("window.ticks", "must be positive")
	}
	if c.TopK <= 0 {
		v.AddField("window.top_k", "must be positive")
	}
	if c.QueueSize <= 0 {
		v.AddField("window.queue_size", "must be positive")
	}
	if c.SubscriberBuffer < 0 {
		v.AddField("window.subscriber_buffer", "must not be negative")
	}
}

func (c *StoreConfig) validate(v *errors.ValidationErrors) {
	if c.MaxOpenConns <= 0 {
		v.AddField("store.max_open_conns", "must be positive")
	}
	if c.QueryTimeout <= 0 {
		v.AddField("store.query_timeout", "must be positive")
	}
	if c.LeaderboardLimit <= 0 {
		v.AddField("store.leaderboard_limit", "must be positive")
	}
	if _, err := parquet.ParseCompressionType(c.ParquetCompression); err != nil {
		v.AddField("store.parquet_compression", err.Error())
	}
}

func (c *RetentionConfig) validate(v *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}
	if c.Keep < 24*time.Hour {
		v.AddField("retention.keep", fmt.Sprintf("must be at least 24h, got %s", c.Keep))
	}
	if c.RunHour < 0 || c.RunHour > 23 {
		v.AddField("retention.run_hour", "must be between 0 and 23")
	}
}
