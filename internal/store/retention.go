package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
)

// RetentionResult describes one Retention call.
type RetentionResult struct {
	Cutoff             time.Time
	DroppedSegments    []string
	LeaderboardDeleted int64
	LegacyDeleted      int64
}

// ExpiredSegments returns the segments Retention(cutoff) would drop: every
// segment whose month lies strictly before cutoff's month.
func (s *Store) ExpiredSegments(ctx context.Context, cutoff time.Time) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	segments, err := listSegments(ctx, db)
	if err != nil {
		return nil, errors.Storage(err, "list segments")
	}
	return s.expired(segments, cutoff), nil
}

func (s *Store) expired(segments []string, cutoff time.Time) []string {
	first := s.startOfMonth(cutoff)
	var out []string
	for _, segment := range segments {
		month, err := s.segmentMonth(segment)
		if err != nil {
			continue
		}
		if month.Before(first) {
			out = append(out, segment)
		}
	}
	return out
}

// Retention drops every segment strictly older than cutoff's month, deletes
// leaderboard rows of days before cutoff's day and legacy rows before
// cutoff's month, then checkpoints the database to reclaim space.
// Running it twice with the same cutoff changes nothing the second time.
func (s *Store) Retention(ctx context.Context, cutoff time.Time) (RetentionResult, error) {
	result := RetentionResult{Cutoff: cutoff}

	db, err := s.conn()
	if err != nil {
		return result, err
	}

	monthStart := s.wall(s.startOfMonth(cutoff))
	day := s.day(cutoff)

	err = s.TransactionContext(ctx, func(tx *sql.Tx) error {
		segments, err := listSegments(ctx, tx)
		if err != nil {
			return fmt.Errorf("list segments: %w", err)
		}

		dropped := s.expired(segments, cutoff)
		for _, segment := range dropped {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, segment)); err != nil {
				return fmt.Errorf("drop %s: %w", segment, err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM leaderboard WHERE day < CAST(? AS DATE)`, day)
		if err != nil {
			return fmt.Errorf("prune leaderboard: %w", err)
		}
		lbDeleted, _ := res.RowsAffected()

		var legacyDeleted int64
		legacy, err := hasTable(ctx, tx, legacyTable)
		if err != nil {
			return fmt.Errorf("check legacy table: %w", err)
		}
		if legacy {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM metrics WHERE timestamp < CAST(? AS TIMESTAMP)`, monthStart)
			if err != nil {
				return fmt.Errorf("prune legacy table: %w", err)
			}
			legacyDeleted, _ = res.RowsAffected()
		}

		result.DroppedSegments = dropped
		result.LeaderboardDeleted = lbDeleted
		result.LegacyDeleted = legacyDeleted
		return nil
	})
	if err != nil {
		return RetentionResult{Cutoff: cutoff}, errors.Storage(err, "retention")
	}

	s.retentionRuns.Add(1)
	s.segmentsDropped.Add(int64(len(result.DroppedSegments)))

	// CHECKPOINT cannot run inside a transaction.
	s.writeMu.Lock()
	_, err = db.ExecContext(ctx, `CHECKPOINT`)
	s.writeMu.Unlock()
	if err != nil {
		log.Warn("checkpoint after retention failed", "error", err)
	}

	log.Info("retention applied",
		"cutoff", day,
		"segments_dropped", len(result.DroppedSegments),
		"leaderboard_deleted", result.LeaderboardDeleted,
		"legacy_deleted", result.LegacyDeleted)

	return result, nil
}
