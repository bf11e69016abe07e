// Package store provides the durable rank store of the procrank agent.
//
// Aggregated reports are persisted as metric rows in monthly segment tables
// (metrics_YYYY_MM) next to a leaderboard table holding per-day top-K
// appearance counters per identity. It uses DuckDB as the backing database.
//
// Timestamps are stored as naive wall-clock TIMESTAMP values in the
// configured location and days as DATE, so SQL predicates and the segment a
// row lands in always agree with the local calendar.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/singleflight"

	defaults "github.com/xtxerr/procrank/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/latency"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/storage/parquet"
)

var log = logging.Component("store")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// Path is the DuckDB database file. Empty opens an in-memory database.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout is the default timeout for read queries.
	QueryTimeout time.Duration

	// TopK is the per-dimension cut used for leaderboard counters.
	TopK int

	// LeaderboardLimit caps the rows returned by GetLeaderboard.
	LeaderboardLimit int

	// Location is the zone timestamps and days are interpreted in.
	Location *time.Location

	// ParquetCompression is the codec of Parquet exports and archives
	// (zstd, snappy, lz4, gzip or none). Empty selects zstd.
	ParquetCompression string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:     defaults.DefaultMaxOpenConns,
		MaxIdleConns:     2,
		ConnMaxLifetime:  30 * time.Minute,
		QueryTimeout:     defaults.DefaultQueryTimeout,
		TopK:             defaults.DefaultTopK,
		LeaderboardLimit: defaults.DefaultLeaderboardLimit,
		Location:         time.Local,
	}
}

// Stats is a snapshot of store counters.
type Stats struct {
	ReportsSaved       int64
	SaveFailures       int64
	RowsWritten        int64
	LeaderboardUpserts int64
	Rebuilds           int64
	RetentionRuns      int64
	SegmentsDropped    int64
	Save               latency.Summary
}

// =============================================================================
// Store
// =============================================================================

// Store provides database operations.
//
// Store is safe for concurrent use. Reads run in parallel. Write
// transactions are serialized by writeMu: DuckDB resolves concurrent
// updates of the same row or catalog entry by aborting one transaction, so
// parallel saves of one day would otherwise fail.
type Store struct {
	db          *sql.DB
	config      Config
	loc         *time.Location
	parquetOpts parquet.Options

	mu     sync.RWMutex
	closed bool

	writeMu sync.Mutex

	rebuild     singleflight.Group
	saveLatency *latency.Tracker

	reportsSaved       atomic.Int64
	saveFailures       atomic.Int64
	rowsWritten        atomic.Int64
	leaderboardUpserts atomic.Int64
	rebuilds           atomic.Int64
	retentionRuns      atomic.Int64
	segmentsDropped    atomic.Int64
}

// New opens the database and creates the leaderboard table if needed.
func New(cfg Config) (*Store, error) {
	d := DefaultConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = d.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = d.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = d.QueryTimeout
	}
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}
	if cfg.LeaderboardLimit <= 0 {
		cfg.LeaderboardLimit = d.LeaderboardLimit
	}
	if cfg.Location == nil {
		cfg.Location = d.Location
	}
	parquetOpts := parquet.DefaultOptions()
	codec, err := parquet.ParseCompressionType(cfg.ParquetCompression)
	if err != nil {
		return nil, errors.NewValidation("parquet compression", err.Error())
	}
	parquetOpts.Compression = codec

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, leaderboardDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create leaderboard: %w", err)
	}

	log.Info("store opened", "path", cfg.Path, "location", cfg.Location.String())

	return &Store{
		db:          db,
		config:      cfg,
		loc:         cfg.Location,
		parquetOpts: parquetOpts,
		saveLatency: latency.New(),
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Location returns the zone timestamps are interpreted in.
func (s *Store) Location() *time.Location {
	return s.loc
}

// conn returns the database handle unless the store is closed.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}
	return s.db, nil
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return errors.Storage(db.PingContext(ctx), "ping")
}

// =============================================================================
// Transaction Support
// =============================================================================

// TransactionContext executes fn within a database transaction. Only one
// transaction runs at a time.
//
// If fn returns an error or panics, the transaction is rolled back. The
// context is checked again before commit so a timed-out caller never commits.
func (s *Store) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("context cancelled before commit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// queryContext applies the configured query timeout unless ctx already
// carries a deadline.
func (s *Store) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// =============================================================================
// Wall-clock helpers
// =============================================================================

const (
	wallLayout = "2006-01-02 15:04:05.999999"
	dayLayout  = "2006-01-02"
)

// wall formats t as a naive timestamp in the store location.
func (s *Store) wall(t time.Time) string {
	return t.In(s.loc).Format(wallLayout)
}

// day formats the calendar day of t in the store location.
func (s *Store) day(t time.Time) string {
	return t.In(s.loc).Format(dayLayout)
}

// wallHour formats hour h of day's calendar date as a naive timestamp. h may
// be 24 for midnight of the next day.
func wallHour(day time.Time, h int) string {
	return time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, time.UTC).Format(wallLayout)
}

// fromWall reinterprets a scanned naive timestamp (returned as UTC by the
// driver) as wall-clock time in the store location.
func (s *Store) fromWall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), s.loc)
}

// startOfDay returns local midnight of t's day.
func (s *Store) startOfDay(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

// startOfMonth returns local midnight of the first day of t's month.
func (s *Store) startOfMonth(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, s.loc)
}

// =============================================================================
// Stats
// =============================================================================

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	return Stats{
		ReportsSaved:       s.reportsSaved.Load(),
		SaveFailures:       s.saveFailures.Load(),
		RowsWritten:        s.rowsWritten.Load(),
		LeaderboardUpserts: s.leaderboardUpserts.Load(),
		Rebuilds:           s.rebuilds.Load(),
		RetentionRuns:      s.retentionRuns.Load(),
		SegmentsDropped:    s.segmentsDropped.Load(),
		Save:               s.saveLatency.Summary(),
	}
}
