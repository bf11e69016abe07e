package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/types"
)

// RebuildResult describes one RebuildLeaderboard call.
type RebuildResult struct {
	// Rebuilt is false when the leaderboard already held data.
	Rebuilt bool

	// Tables is the number of metric tables scanned.
	Tables int

	// Timestamps is the number of distinct flush timestamps ranked.
	Timestamps int

	// Keys is the number of (day, name, path) counters written.
	Keys int
}

// RebuildLeaderboard backfills the leaderboard from the metric rows when it
// is empty. Rows are grouped by distinct timestamp and each group is ranked
// the way SaveReport ranks one report. The legacy unsharded table is
// included when present.
//
// A timestamp saved more than once forms a single group, so its counters
// come out lower than the sum live saving produced.
//
// It is a no-op when the leaderboard holds any row, so calling it again
// changes nothing. Concurrent callers share one run.
func (s *Store) RebuildLeaderboard(ctx context.Context) (RebuildResult, error) {
	v, err, _ := s.rebuild.Do("rebuild", func() (interface{}, error) {
		return s.rebuildLeaderboard(ctx)
	})
	if err != nil {
		return RebuildResult{}, err
	}
	return v.(RebuildResult), nil
}

func (s *Store) rebuildLeaderboard(ctx context.Context) (RebuildResult, error) {
	db, err := s.conn()
	if err != nil {
		return RebuildResult{}, err
	}

	empty, err := leaderboardEmpty(ctx, db)
	if err != nil {
		return RebuildResult{}, errors.Storage(err, "count leaderboard")
	}
	if !empty {
		log.Debug("leaderboard already populated, rebuild skipped")
		return RebuildResult{}, nil
	}

	var result RebuildResult
	totals := make(map[leaderboardKey]winCounts)

	tables, err := s.tablesFor(ctx, db, time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, s.loc))
	if err != nil {
		return RebuildResult{}, errors.Storage(err, "list tables")
	}
	result.Tables = len(tables)

	for _, table := range tables {
		n, err := s.rankTable(ctx, db, table, totals)
		if err != nil {
			return RebuildResult{}, errors.Storage(err, fmt.Sprintf("scan %s", table))
		}
		result.Timestamps += n
	}

	deltas := make([]leaderboardDelta, 0, len(totals))
	for key, counts := range totals {
		deltas = append(deltas, leaderboardDelta{day: key.day, id: key.id, counts: counts})
	}
	sort.Slice(deltas, func(i, j int) bool {
		a, b := deltas[i], deltas[j]
		if a.day != b.day {
			return a.day < b.day
		}
		if a.id.Name != b.id.Name {
			return a.id.Name < b.id.Name
		}
		return a.id.Path < b.id.Path
	})

	err = s.TransactionContext(ctx, func(tx *sql.Tx) error {
		// Another writer may have populated it since the first check.
		empty, err := leaderboardEmpty(ctx, tx)
		if err != nil {
			return err
		}
		if !empty {
			deltas = nil
			return nil
		}
		return upsertDeltas(ctx, tx, deltas)
	})
	if err != nil {
		return RebuildResult{}, errors.Storage(err, "write leaderboard")
	}
	if deltas == nil {
		return RebuildResult{}, nil
	}

	result.Rebuilt = true
	result.Keys = len(deltas)
	s.rebuilds.Add(1)

	log.Info("leaderboard rebuilt",
		"tables", result.Tables,
		"timestamps", result.Timestamps,
		"keys", result.Keys)

	return result, nil
}

type leaderboardKey struct {
	day string
	id  types.Identity
}

func leaderboardEmpty(ctx context.Context, q querier) (bool, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// rankTable streams a table in (timestamp, insertion) order and adds the
// local winners of every timestamp group to totals. It returns the number
// of groups.
func (s *Store) rankTable(ctx context.Context, q querier, table string, totals map[leaderboardKey]winCounts) (int, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY timestamp, rowid`, metricColumns, table))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	groups := 0
	var group []types.MetricRow

	flush := func() {
		if len(group) == 0 {
			return
		}
		day := s.day(group[0].Timestamp)
		for id, c := range localWinners(group, s.config.TopK) {
			key := leaderboardKey{day: day, id: id}
			total := totals[key]
			total.add(c)
			totals[key] = total
		}
		groups++
		group = group[:0]
	}

	for rows.Next() {
		row, err := s.scanMetricRow(rows)
		if err != nil {
			return 0, err
		}
		if len(group) > 0 && !row.Timestamp.Equal(group[0].Timestamp) {
			flush()
		}
		group = append(group, row)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	flush()

	return groups, nil
}

// =============================================================================
// Leaderboard query
// =============================================================================

// GetLeaderboard sums the counters of every identity over the inclusive day
// range and returns them ordered by total descending, ranked from 1 and
// capped at the configured limit. Ties are ordered by name then path.
func (s *Store) GetLeaderboard(ctx context.Context, startDay, endDay time.Time) ([]types.LeaderboardEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, path,
		       CAST(SUM(cpu_count) AS BIGINT),
		       CAST(SUM(memory_count) AS BIGINT),
		       CAST(SUM(io_count) AS BIGINT),
		       CAST(SUM(cpu_count + memory_count + io_count) AS BIGINT) AS total
		FROM leaderboard
		WHERE day >= CAST(? AS DATE) AND day <= CAST(? AS DATE)
		GROUP BY name, path
		ORDER BY total DESC, name, path
		LIMIT %d
	`, s.config.LeaderboardLimit), s.day(startDay), s.day(endDay))
	if err != nil {
		return nil, errors.Storage(err, "query leaderboard")
	}
	defer rows.Close()

	entries := []types.LeaderboardEntry{}
	for rows.Next() {
		var e types.LeaderboardEntry
		if err := rows.Scan(&e.Name, &e.Path, &e.CPUCount, &e.MemoryCount, &e.IOCount, &e.Total); err != nil {
			return nil, errors.Storage(err, "scan leaderboard")
		}
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage(err, "read leaderboard")
	}
	return entries, nil
}
