package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/validation"
)

// =============================================================================
// Schema
// =============================================================================

// legacyTable is the unsharded metrics table written by older releases.
// It is read by queries and the leaderboard rebuild and pruned by
// retention, but never written.
const legacyTable = "metrics"

const segmentPrefix = "metrics_"

const leaderboardDDL = `
CREATE TABLE IF NOT EXISTS leaderboard (
	day          DATE    NOT NULL,
	name         VARCHAR NOT NULL,
	path         VARCHAR NOT NULL,
	cpu_count    BIGINT  NOT NULL DEFAULT 0,
	memory_count BIGINT  NOT NULL DEFAULT 0,
	io_count     BIGINT  NOT NULL DEFAULT 0,
	PRIMARY KEY (day, name, path)
)`

const metricColumns = `timestamp, pid, name, path, cpu_usage_percent, cpu_time_total_ms,
	memory_usage_bytes, disk_read_bytes, disk_write_bytes`

func metricTableDDL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	timestamp          TIMESTAMP NOT NULL,
	pid                INTEGER   NOT NULL,
	name               VARCHAR   NOT NULL,
	path               VARCHAR   NOT NULL,
	cpu_usage_percent  DOUBLE    NOT NULL,
	cpu_time_total_ms  DOUBLE    NOT NULL,
	memory_usage_bytes BIGINT    NOT NULL,
	disk_read_bytes    BIGINT    NOT NULL,
	disk_write_bytes   BIGINT    NOT NULL
)`, table)
}

// SegmentName returns the monthly segment table holding rows for t,
// evaluated in the store location.
func (s *Store) SegmentName(t time.Time) string {
	return segmentPrefix + t.In(s.loc).Format(validation.SegmentLayout)
}

// segmentMonth parses the first day of a segment's month.
func (s *Store) segmentMonth(segment string) (time.Time, error) {
	if err := validation.ValidateSegmentName(segment); err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(validation.SegmentLayout, segment[len(segmentPrefix):], s.loc)
}

// ensureSegment creates the segment table if it does not exist yet. It is
// called before every segment-scoped write. The existence check keeps the
// common case free of catalog writes.
func ensureSegment(ctx context.Context, tx *sql.Tx, segment string) error {
	if err := validation.ValidateSegmentName(segment); err != nil {
		return err
	}
	exists, err := hasTable(ctx, tx, segment)
	if err != nil {
		return fmt.Errorf("check segment %s: %w", segment, err)
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, metricTableDDL(segment)); err != nil {
		return fmt.Errorf("create segment %s: %w", segment, err)
	}
	return nil
}

// EnsureSegment creates the segment table for t if needed and returns its name.
func (s *Store) EnsureSegment(ctx context.Context, t time.Time) (string, error) {
	segment := s.SegmentName(t)
	err := s.TransactionContext(ctx, func(tx *sql.Tx) error {
		return ensureSegment(ctx, tx, segment)
	})
	if err != nil {
		return "", errors.Storage(err, "ensure segment")
	}
	return segment, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// listSegments returns all monthly segment tables in ascending month order.
func listSegments(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'main' AND table_name LIKE ? ESCAPE '\'
	`, validation.SafeLikePrefix(segmentPrefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if validation.ValidateSegmentName(name) != nil {
			continue
		}
		segments = append(segments, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// metrics_YYYY_MM sorts chronologically as a string.
	sort.Strings(segments)
	return segments, nil
}

func hasTable(ctx context.Context, q querier, table string) (bool, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'main' AND table_name = ?
	`, table).Scan(&n)
	return n > 0, err
}

// Segments lists the monthly segments in ascending order.
func (s *Store) Segments(ctx context.Context) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	segments, err := listSegments(ctx, db)
	if err != nil {
		return nil, errors.Storage(err, "list segments")
	}
	return segments, nil
}

// HasLegacyTable reports whether the unsharded metrics table exists.
func (s *Store) HasLegacyTable(ctx context.Context) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	ok, err := hasTable(ctx, db, legacyTable)
	return ok, errors.Storage(err, "check legacy table")
}

// tablesFor returns the metric tables that may hold rows in [start, end):
// the legacy table first, if present, then every existing segment whose
// month overlaps the range.
func (s *Store) tablesFor(ctx context.Context, q querier, start, end time.Time) ([]string, error) {
	var tables []string

	legacy, err := hasTable(ctx, q, legacyTable)
	if err != nil {
		return nil, err
	}
	if legacy {
		tables = append(tables, legacyTable)
	}

	segments, err := listSegments(ctx, q)
	if err != nil {
		return nil, err
	}
	first := s.startOfMonth(start)
	for _, segment := range segments {
		month, err := s.segmentMonth(segment)
		if err != nil {
			continue
		}
		if !month.Before(first) && month.Before(end) {
			tables = append(tables, segment)
		}
	}
	return tables, nil
}
