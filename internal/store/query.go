package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/types"
	"github.com/xtxerr/procrank/internal/validation"
	"github.com/xtxerr/procrank/internal/window"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanMetricRow(sc rowScanner) (types.MetricRow, error) {
	var r types.MetricRow
	var ts time.Time
	err := sc.Scan(&ts, &r.PID, &r.Name, &r.Path, &r.CPUUsagePercent, &r.CPUTimeTotalMs,
		&r.MemoryUsageBytes, &r.DiskReadBytes, &r.DiskWriteBytes)
	if err != nil {
		return types.MetricRow{}, err
	}
	r.Timestamp = s.fromWall(ts)
	return r, nil
}

// =============================================================================
// Timestamps
// =============================================================================

// ListTimestamps returns the distinct flush timestamps of day in ascending
// order. A non-nil hour restricts the result to that hour of the day.
func (s *Store) ListTimestamps(ctx context.Context, day time.Time, hour *int) ([]time.Time, error) {
	start := s.startOfDay(day)
	end := start.AddDate(0, 0, 1)
	lo, hi := s.wall(start), s.wall(end)
	if hour != nil {
		if err := validation.ValidateHour(*hour); err != nil {
			return nil, err
		}
		// Rows hold wall-clock time, so an hour is a wall-clock hour even on
		// days with a DST transition.
		lo, hi = wallHour(start, *hour), wallHour(start, *hour+1)
	}

	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	tables, err := s.tablesFor(ctx, db, start, end)
	if err != nil {
		return nil, errors.Storage(err, "list tables")
	}

	seen := make(map[time.Time]struct{})
	out := []time.Time{}
	for _, table := range tables {
		rows, err := db.QueryContext(ctx, fmt.Sprintf(`
			SELECT DISTINCT timestamp FROM %s
			WHERE timestamp >= CAST(? AS TIMESTAMP) AND timestamp < CAST(? AS TIMESTAMP)
		`, table), lo, hi)
		if err != nil {
			return nil, errors.Storage(err, fmt.Sprintf("list timestamps in %s", table))
		}
		for rows.Next() {
			var ts time.Time
			if err := rows.Scan(&ts); err != nil {
				rows.Close()
				return nil, errors.Storage(err, "scan timestamp")
			}
			ts = s.fromWall(ts)
			if _, ok := seen[ts]; !ok {
				seen[ts] = struct{}{}
				out = append(out, ts)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.Storage(err, "read timestamps")
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// =============================================================================
// Point lookup
// =============================================================================

// GetReportAt rebuilds the report flushed at ts from its persisted rows.
// Persisted rows carry no ranks, so ranks are derived again over the
// returned set. A timestamp with no rows yields an empty report and a nil
// error.
func (s *Store) GetReportAt(ctx context.Context, ts time.Time) (types.AggregatedReport, error) {
	report := types.AggregatedReport{Timestamp: ts.In(s.loc)}

	rows, err := s.rowsAt(ctx, ts)
	if err != nil {
		return report, err
	}

	items := make([]types.AggregatedItem, len(rows))
	for i, r := range rows {
		items[i] = types.AggregatedItem{
			Identity:       types.Identity{Name: r.Name, Path: r.Path},
			PID:            r.PID,
			CPUAvgPercent:  r.CPUUsagePercent,
			CPUTimeTotalMs: r.CPUTimeTotalMs,
			MemAvgBytes:    uint64(r.MemoryUsageBytes),
			DiskReadTotal:  uint64(r.DiskReadBytes),
			DiskWriteTotal: uint64(r.DiskWriteBytes),
			DiskTotal:      uint64(r.DiskTotal()),
		}
		if r.PID != types.MergedPID {
			items[i].PIDCount = 1
		}
	}
	window.AssignRanks(items)

	report.Items = items
	report.Total = len(items)
	return report, nil
}

func (s *Store) rowsAt(ctx context.Context, ts time.Time) ([]types.MetricRow, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	tables, err := s.tablesFor(ctx, db, ts, ts.Add(time.Microsecond))
	if err != nil {
		return nil, errors.Storage(err, "list tables")
	}

	out := []types.MetricRow{}
	for _, table := range tables {
		rows, err := db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM %s WHERE timestamp = CAST(? AS TIMESTAMP) ORDER BY rowid`,
			metricColumns, table), s.wall(ts))
		if err != nil {
			return nil, errors.Storage(err, fmt.Sprintf("query %s", table))
		}
		out, err = s.collectRows(rows, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) collectRows(rows *sql.Rows, out []types.MetricRow) ([]types.MetricRow, error) {
	defer rows.Close()
	for rows.Next() {
		r, err := s.scanMetricRow(rows)
		if err != nil {
			return nil, errors.Storage(err, "scan metric row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage(err, "read metric rows")
	}
	return out, nil
}

// =============================================================================
// Segment and range scans
// =============================================================================

// SegmentRows returns every row of one segment ordered by timestamp.
func (s *Store) SegmentRows(ctx context.Context, segment string) ([]types.MetricRow, error) {
	if err := validation.ValidateSegmentName(segment); err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	ok, err := hasTable(ctx, db, segment)
	if err != nil {
		return nil, errors.Storage(err, "check segment")
	}
	if !ok {
		return nil, errors.NewSegmentNotFound(segment)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY timestamp, rowid`, metricColumns, segment))
	if err != nil {
		return nil, errors.Storage(err, fmt.Sprintf("query %s", segment))
	}
	return s.collectRows(rows, []types.MetricRow{})
}

// ScanRange streams every raw metric row of the inclusive day range to fn,
// legacy rows first, then segment by segment in time order. A non-nil error
// from fn stops the scan and is returned unchanged.
func (s *Store) ScanRange(ctx context.Context, startDay, endDay time.Time, fn func(types.MetricRow) error) error {
	start := s.startOfDay(startDay)
	last := s.startOfDay(endDay)
	if err := validation.ValidateDayRange(start, last); err != nil {
		return err
	}
	end := last.AddDate(0, 0, 1)

	db, err := s.conn()
	if err != nil {
		return err
	}

	tables, err := s.tablesFor(ctx, db, start, end)
	if err != nil {
		return errors.Storage(err, "list tables")
	}

	for _, table := range tables {
		if err := s.scanTable(ctx, db, table, start, end, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) scanTable(ctx context.Context, db *sql.DB, table string, start, end time.Time, fn func(types.MetricRow) error) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE timestamp >= CAST(? AS TIMESTAMP) AND timestamp < CAST(? AS TIMESTAMP)
		ORDER BY timestamp, rowid
	`, metricColumns, table), s.wall(start), s.wall(end))
	if err != nil {
		return errors.Storage(err, fmt.Sprintf("scan %s", table))
	}
	defer rows.Close()

	for rows.Next() {
		r, err := s.scanMetricRow(rows)
		if err != nil {
			return errors.Storage(err, "scan metric row")
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return errors.Storage(rows.Err(), fmt.Sprintf("read %s", table))
}
