package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	defaults "github.com/xtxerr/procrank/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/types"
)

// ctxCheckInterval: the context is checked every N chunks.
const ctxCheckInterval = 50

// =============================================================================
// SaveReport
// =============================================================================

// SaveReport persists one report: one metric row per item into the month
// segment of report.Timestamp, and +1 leaderboard counters for each
// dimension an identity is top-K in within this report's own items. Both
// writes happen in one transaction.
//
// Saving the same report twice inserts duplicate rows and increments the
// counters twice.
func (s *Store) SaveReport(ctx context.Context, report *types.AggregatedReport) error {
	if report == nil || len(report.Items) == 0 {
		return nil
	}

	start := time.Now()
	defer s.saveLatency.Since(start)

	rows := ReportRows(report)
	segment := s.SegmentName(report.Timestamp)
	day := s.day(report.Timestamp)
	counts := localWinners(rows, s.config.TopK)

	err := s.TransactionContext(ctx, func(tx *sql.Tx) error {
		if err := ensureSegment(ctx, tx, segment); err != nil {
			return err
		}
		if err := s.insertRows(ctx, tx, segment, rows); err != nil {
			return err
		}
		return upsertLeaderboard(ctx, tx, day, counts)
	})
	if err != nil {
		s.saveFailures.Add(1)
		return errors.Storage(err, fmt.Sprintf("save report %s", s.wall(report.Timestamp)))
	}

	s.reportsSaved.Add(1)
	s.rowsWritten.Add(int64(len(rows)))
	s.leaderboardUpserts.Add(int64(len(counts)))
	return nil
}

// ReportRows converts a report into persisted metric rows in item order.
func ReportRows(report *types.AggregatedReport) []types.MetricRow {
	rows := make([]types.MetricRow, len(report.Items))
	for i, item := range report.Items {
		rows[i] = types.MetricRow{
			Timestamp:        report.Timestamp,
			PID:              item.PID,
			Name:             item.Name,
			Path:             item.Path,
			CPUUsagePercent:  item.CPUAvgPercent,
			CPUTimeTotalMs:   item.CPUTimeTotalMs,
			MemoryUsageBytes: int64(item.MemAvgBytes),
			DiskReadBytes:    int64(item.DiskReadTotal),
			DiskWriteBytes:   int64(item.DiskWriteTotal),
		}
	}
	return rows
}

// insertRows writes rows in chunks of MaxRowsPerInsert.
func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, table string, rows []types.MetricRow) error {
	for i := 0; i < len(rows); i += defaults.MaxRowsPerInsert {
		if i > 0 && (i/defaults.MaxRowsPerInsert)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		end := i + defaults.MaxRowsPerInsert
		if end > len(rows) {
			end = len(rows)
		}

		query, args := s.buildMultiRowInsert(table, rows[i:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i/defaults.MaxRowsPerInsert, err)
		}
	}
	return nil
}

// buildMultiRowInsert builds one INSERT statement for all rows.
func (s *Store) buildMultiRowInsert(table string, rows []types.MetricRow) (string, []interface{}) {
	const columnsPerRow = 9

	args := make([]interface{}, 0, len(rows)*columnsPerRow)

	var query strings.Builder
	query.Grow(200 + len(rows)*60)

	query.WriteString("INSERT INTO ")
	query.WriteString(table)
	query.WriteString(" (")
	query.WriteString(metricColumns)
	query.WriteString(") VALUES ")

	for i := range rows {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString("(CAST(? AS TIMESTAMP),?,?,?,?,?,?,?,?)")

		r := &rows[i]
		args = append(args,
			s.wall(r.Timestamp),
			r.PID,
			r.Name,
			r.Path,
			r.CPUUsagePercent,
			r.CPUTimeTotalMs,
			r.MemoryUsageBytes,
			r.DiskReadBytes,
			r.DiskWriteBytes,
		)
	}

	return query.String(), args
}

// =============================================================================
// Leaderboard counters
// =============================================================================

// winCounts are the leaderboard increments of one identity.
type winCounts struct {
	CPU    int64
	Memory int64
	IO     int64
}

func (c *winCounts) add(o winCounts) {
	c.CPU += o.CPU
	c.Memory += o.Memory
	c.IO += o.IO
}

// localWinners ranks rows (one flush timestamp) per dimension and returns,
// per identity, one count for every dimension it places top-k in. Ties keep
// row order. Identities that win nothing are absent.
func localWinners(rows []types.MetricRow, k int) map[types.Identity]winCounts {
	out := make(map[types.Identity]winCounts)
	if len(rows) == 0 || k <= 0 {
		return out
	}

	dims := []struct {
		value func(*types.MetricRow) float64
		bump  func(*winCounts)
	}{
		{func(r *types.MetricRow) float64 { return r.CPUUsagePercent }, func(c *winCounts) { c.CPU++ }},
		{func(r *types.MetricRow) float64 { return float64(r.MemoryUsageBytes) }, func(c *winCounts) { c.Memory++ }},
		{func(r *types.MetricRow) float64 { return float64(r.DiskTotal()) }, func(c *winCounts) { c.IO++ }},
	}

	order := make([]int, len(rows))
	for _, dim := range dims {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return dim.value(&rows[order[a]]) > dim.value(&rows[order[b]])
		})

		n := k
		if n > len(order) {
			n = len(order)
		}
		for _, idx := range order[:n] {
			id := types.Identity{Name: rows[idx].Name, Path: rows[idx].Path}
			c := out[id]
			dim.bump(&c)
			out[id] = c
		}
	}
	return out
}

// upsertLeaderboard adds counts to the day's counters. Keys are unique
// within one call.
func upsertLeaderboard(ctx context.Context, tx *sql.Tx, day string, counts map[types.Identity]winCounts) error {
	if len(counts) == 0 {
		return nil
	}

	ids := make([]types.Identity, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].Path < ids[j].Path
	})

	entries := make([]leaderboardDelta, len(ids))
	for i, id := range ids {
		entries[i] = leaderboardDelta{day: day, id: id, counts: counts[id]}
	}
	return upsertDeltas(ctx, tx, entries)
}

type leaderboardDelta struct {
	day    string
	id     types.Identity
	counts winCounts
}

// upsertDeltas applies deltas in chunks. Each (day, name, path) key must
// occur at most once in deltas.
func upsertDeltas(ctx context.Context, tx *sql.Tx, deltas []leaderboardDelta) error {
	const columnsPerRow = 6

	for i := 0; i < len(deltas); i += defaults.MaxRowsPerInsert {
		if i > 0 && (i/defaults.MaxRowsPerInsert)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		end := i + defaults.MaxRowsPerInsert
		if end > len(deltas) {
			end = len(deltas)
		}
		chunk := deltas[i:end]

		args := make([]interface{}, 0, len(chunk)*columnsPerRow)
		var query strings.Builder
		query.WriteString(`INSERT INTO leaderboard (day, name, path, cpu_count, memory_count, io_count) VALUES `)
		for j, d := range chunk {
			if j > 0 {
				query.WriteByte(',')
			}
			query.WriteString("(CAST(? AS DATE),?,?,?,?,?)")
			args = append(args, d.day, d.id.Name, d.id.Path, d.counts.CPU, d.counts.Memory, d.counts.IO)
		}
		query.WriteString(` ON CONFLICT (day, name, path) DO UPDATE SET
			cpu_count = cpu_count + EXCLUDED.cpu_count,
			memory_count = memory_count + EXCLUDED.memory_count,
			io_count = io_count + EXCLUDED.io_count`)

		if _, err := tx.ExecContext(ctx, query.String(), args...); err != nil {
			return fmt.Errorf("upsert leaderboard chunk %d: %w", i/defaults.MaxRowsPerInsert, err)
		}
	}
	return nil
}
