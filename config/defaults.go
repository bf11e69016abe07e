// Package config provides configuration defaults and utilities
// for the procrank agent.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Sampling Defaults
// =============================================================================

const (
	// DefaultTickInterval is the nominal time between two process snapshots.
	// Override via config: sampler.interval
	DefaultTickInterval = time.Second

	// DefaultCollectTimeout bounds a single Collect call. A tick that runs
	// longer than this is abandoned by the OS reads, not by the loop.
	DefaultCollectTimeout = 10 * time.Second

	// UnknownPath is stored when a process image path cannot be resolved
	// (access denied, kernel thread, process exited mid-read).
	UnknownPath = "N/A"
)

// =============================================================================
// Window Defaults
// =============================================================================

const (
	// DefaultWindowTicks is the number of ticks reduced into one report.
	// Override via config: window.ticks
	DefaultWindowTicks = 60

	// DefaultTopK is how many identities survive per ranking dimension.
	// A report therefore holds between TopK and 3*TopK items.
	// Override via config: window.top_k
	DefaultTopK = 20

	// DefaultFlushQueueSize is how many drained windows may wait for the
	// reducer. When full, the oldest pending window is kept and the new one
	// is dropped.
	// Override via config: window.queue_size
	DefaultFlushQueueSize = 2

	// DefaultSubscriberBuffer is the channel capacity of each report subscriber.
	// Override via config: window.subscriber_buffer
	DefaultSubscriberBuffer = 4
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultDatabaseFile is the DuckDB file name inside the data directory.
	// Override via config: database
	DefaultDatabaseFile = "procrank.duckdb"

	// DefaultMaxOpenConns limits concurrent DuckDB connections.
	// Override via config: store.max_open_conns
	DefaultMaxOpenConns = 4

	// DefaultQueryTimeout is the default timeout for read queries.
	// Override via config: store.query_timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultLeaderboardLimit caps the rows returned by a leaderboard query.
	// Override via config: store.leaderboard_limit
	DefaultLeaderboardLimit = 100

	// MaxRowsPerInsert keeps multi-row INSERT statements bounded.
	// 9 columns * 100 rows = 900 parameters per statement.
	MaxRowsPerInsert = 100
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionKeep is how long metric rows and leaderboard counters live.
	// Override via config: retention.keep
	DefaultRetentionKeep = 90 * 24 * time.Hour

	// DefaultRetentionRunHour is the local hour at which the daily cleanup runs.
	// Override via config: retention.run_hour
	DefaultRetentionRunHour = 5
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long Stop waits for an in-flight reduction
	// and the report subscribers before giving up.
	DefaultDrainTimeout = 30 * time.Second
)
