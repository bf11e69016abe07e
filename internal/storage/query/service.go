// Package query is the validated query surface over the rank store.
//
// Every operation takes its inputs as strings (as typed into the shell or
// passed on the command line), validates them, and only then touches the
// store. Malformed input yields a validation error (errors.IsValidation),
// a store failure yields a storage error (errors.IsStorage), and a valid
// query with no data yields an empty result and a nil error.
package query

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/storage/parquet"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/types"
	"github.com/xtxerr/procrank/internal/validation"
)

var log = logging.Component("query")

// DefaultInspectLimit is the number of rows ReadParquet returns by default.
const DefaultInspectLimit = 20

// Store is the part of the rank store the service reads.
type Store interface {
	Location() *time.Location
	Segments(ctx context.Context) ([]string, error)
	ListTimestamps(ctx context.Context, day time.Time, hour *int) ([]time.Time, error)
	GetReportAt(ctx context.Context, ts time.Time) (types.AggregatedReport, error)
	GetLeaderboard(ctx context.Context, startDay, endDay time.Time) ([]types.LeaderboardEntry, error)
	ExportCSV(ctx context.Context, w io.Writer, startDay, endDay time.Time) (int64, error)
	ExportParquet(ctx context.Context, path string, startDay, endDay time.Time) (int64, error)
	RebuildLeaderboard(ctx context.Context) (store.RebuildResult, error)
	Retention(ctx context.Context, cutoff time.Time) (store.RetentionResult, error)
}

// PruneFunc applies retention at a cutoff.
type PruneFunc func(ctx context.Context, cutoff time.Time) (store.RetentionResult, error)

// Option configures a Service.
type Option func(*Service)

// WithPruner routes Prune through fn instead of plain store retention,
// e.g. through the retention manager so dropped segments are archived.
func WithPruner(fn PruneFunc) Option {
	return func(s *Service) { s.prune = fn }
}

// Service provides query capabilities over stored data.
type Service struct {
	store Store
	loc   *time.Location
	prune PruneFunc

	queriesExecuted  atomic.Int64
	rowsReturned     atomic.Int64
	validationErrors atomic.Int64
	failures         atomic.Int64
}

// ServiceStats holds query statistics.
type ServiceStats struct {
	QueriesExecuted  int64
	RowsReturned     int64
	ValidationErrors int64
	Errors           int64
}

// New creates a new query service.
func New(st Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		loc:   st.Location(),
		prune: st.Retention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the zone inputs are parsed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// done records the outcome of one query.
func (s *Service) done(rows int, err error) {
	switch {
	case err == nil:
		s.queriesExecuted.Add(1)
		s.rowsReturned.Add(int64(rows))
	case errors.IsValidation(err):
		s.validationErrors.Add(1)
	default:
		s.failures.Add(1)
		log.Warn("query failed", "error", err)
	}
}

// ListTimestamps lists flush timestamps of day ("YYYY-MM-DD"), optionally
// restricted to hour ("" for the whole day).
func (s *Service) ListTimestamps(ctx context.Context, day, hour string) ([]time.Time, error) {
	d, err := validation.ParseDay(day, s.loc)
	if err != nil {
		s.done(0, err)
		return nil, err
	}
	h, err := validation.ParseHour(hour)
	if err != nil {
		s.done(0, err)
		return nil, err
	}

	out, err := s.store.ListTimestamps(ctx, d, h)
	s.done(len(out), err)
	return out, err
}

// GetReportAt returns the report flushed at timestamp.
func (s *Service) GetReportAt(ctx context.Context, timestamp string) (types.AggregatedReport, error) {
	ts, err := validation.ParseTimestamp(timestamp, s.loc)
	if err != nil {
		s.done(0, err)
		return types.AggregatedReport{}, err
	}

	report, err := s.store.GetReportAt(ctx, ts)
	s.done(report.Len(), err)
	return report, err
}

// Leaderboard ranks identities over the inclusive day range.
func (s *Service) Leaderboard(ctx context.Context, startDay, endDay string) ([]types.LeaderboardEntry, error) {
	start, end, err := validation.ParseDayRange(startDay, endDay, s.loc)
	if err != nil {
		s.done(0, err)
		return nil, err
	}

	out, err := s.store.GetLeaderboard(ctx, start, end)
	s.done(len(out), err)
	return out, err
}

// ExportCSV writes the raw rows of the inclusive day range to w as CSV.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, startDay, endDay string) (int64, error) {
	start, end, err := validation.ParseDayRange(startDay, endDay, s.loc)
	if err != nil {
		s.done(0, err)
		return 0, err
	}

	n, err := s.store.ExportCSV(ctx, w, start, end)
	s.done(int(n), err)
	return n, err
}

// ExportParquet writes the raw rows of the inclusive day range to a Parquet file.
func (s *Service) ExportParquet(ctx context.Context, path, startDay, endDay string) (int64, error) {
	if path == "" {
		err := errors.NewMissingField("path")
		s.done(0, err)
		return 0, err
	}
	start, end, err := validation.ParseDayRange(startDay, endDay, s.loc)
	if err != nil {
		s.done(0, err)
		return 0, err
	}

	n, err := s.store.ExportParquet(ctx, path, start, end)
	s.done(int(n), err)
	return n, err
}

// Prune removes everything before cutoffDay: segments of earlier months and
// leaderboard rows of earlier days.
func (s *Service) Prune(ctx context.Context, cutoffDay string) (store.RetentionResult, error) {
	cutoff, err := validation.ParseDay(cutoffDay, s.loc)
	if err != nil {
		s.done(0, err)
		return store.RetentionResult{}, err
	}

	res, err := s.prune(ctx, cutoff)
	s.done(len(res.DroppedSegments), err)
	return res, err
}

// Rebuild backfills an empty leaderboard.
func (s *Service) Rebuild(ctx context.Context) (store.RebuildResult, error) {
	res, err := s.store.RebuildLeaderboard(ctx)
	s.done(res.Keys, err)
	return res, err
}

// ReadParquet returns the first limit rows of a Parquet export or archive
// and the number of rows the file holds. An empty limit reads
// DefaultInspectLimit rows.
func (s *Service) ReadParquet(ctx context.Context, path, limit string) ([]types.MetricRow, int64, error) {
	if path == "" {
		err := errors.NewMissingField("path")
		s.done(0, err)
		return nil, 0, err
	}
	n := DefaultInspectLimit
	if limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil || v <= 0 {
			err := errors.NewValidation("limit", fmt.Sprintf("%q is not a positive number", limit))
			s.done(0, err)
			return nil, 0, err
		}
		n = v
	}
	if err := ctx.Err(); err != nil {
		s.done(0, err)
		return nil, 0, err
	}

	r, err := parquet.NewMetricReader(path, s.loc)
	if err != nil {
		s.done(0, err)
		return nil, 0, err
	}
	defer r.Close()

	total := r.NumRows()
	if int64(n) > total {
		n = int(total)
	}
	rows := []types.MetricRow{}
	if n > 0 {
		rows, err = r.Read(n)
		if err != nil && !errors.Is(err, io.EOF) {
			err = fmt.Errorf("read %s: %w", path, err)
			s.done(0, err)
			return nil, 0, err
		}
	}
	s.done(len(rows), nil)
	return rows, total, nil
}

// Segments lists the monthly segments.
func (s *Service) Segments(ctx context.Context) ([]string, error) {
	out, err := s.store.Segments(ctx)
	s.done(len(out), err)
	return out, err
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted:  s.queriesExecuted.Load(),
		RowsReturned:     s.rowsReturned.Load(),
		ValidationErrors: s.validationErrors.Load(),
		Errors:           s.failures.Load(),
	}
}
