package query

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/testutil"
)

func setupService(t *testing.T, opts ...Option) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(store.Config{
		Path:     filepath.Join(t.TempDir(), "test.duckdb"),
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, ts := range []time.Time{
		time.Date(2026, 9, 30, 23, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 19, 12, 1, 0, 0, time.UTC),
		time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC),
	} {
		report := testutil.Report(ts, 4)
		if err := st.SaveReport(ctx, &report); err != nil {
			t.Fatal(err)
		}
	}
	return New(st, opts...), st
}

func TestService_ValidationErrors(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"bad day", func() error { _, err := svc.ListTimestamps(ctx, "19.10.2026", ""); return err }},
		{"bad hour", func() error { _, err := svc.ListTimestamps(ctx, "2026-10-19", "25"); return err }},
		{"bad timestamp", func() error { _, err := svc.GetReportAt(ctx, "yesterday"); return err }},
		{"reversed range", func() error { _, err := svc.Leaderboard(ctx, "2026-10-20", "2026-10-19"); return err }},
		{"bad export start", func() error { _, err := svc.ExportCSV(ctx, &bytes.Buffer{}, "", "2026-10-19"); return err }},
		{"missing parquet path", func() error { _, err := svc.ExportParquet(ctx, "", "2026-10-19", "2026-10-19"); return err }},
		{"bad cutoff", func() error { _, err := svc.Prune(ctx, "2026-13-01"); return err }},
		{"missing inspect path", func() error { _, _, err := svc.ReadParquet(ctx, "", ""); return err }},
		{"bad inspect limit", func() error { _, _, err := svc.ReadParquet(ctx, "x.parquet", "-3"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if got := svc.Stats().ValidationErrors; got != int64(len(tests)) {
		t.Errorf("validation errors = %d, want %d", got, len(tests))
	}
	if svc.Stats().QueriesExecuted != 0 {
		t.Error("invalid queries must not reach the store")
	}
}

func TestService_Queries(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	timestamps, err := svc.ListTimestamps(ctx, "2026-10-19", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(timestamps) != 3 {
		t.Errorf("timestamps = %v", timestamps)
	}

	inHour, err := svc.ListTimestamps(ctx, "2026-10-19", "12")
	if err != nil {
		t.Fatal(err)
	}
	if len(inHour) != 2 {
		t.Errorf("hour 12 timestamps = %v", inHour)
	}

	report, err := svc.GetReportAt(ctx, "2026-10-19 12:01:00")
	if err != nil {
		t.Fatal(err)
	}
	if report.Len() != 4 {
		t.Errorf("report size = %d", report.Len())
	}

	board, err := svc.Leaderboard(ctx, "2026-10-19", "2026-10-19")
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 4 || board[0].Total != 9 {
		t.Errorf("leaderboard = %+v", board)
	}

	var buf bytes.Buffer
	n, err := svc.ExportCSV(ctx, &buf, "2026-09-30", "2026-10-19")
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 || strings.Count(buf.String(), "\n") != 17 {
		t.Errorf("exported %d rows:\n%s", n, buf.String())
	}

	path := filepath.Join(t.TempDir(), "out.parquet")
	if n, err := svc.ExportParquet(ctx, path, "2026-10-19", "2026-10-19"); err != nil || n != 12 {
		t.Errorf("parquet export = %d, %v", n, err)
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 6 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestService_ReadParquet(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "out.parquet")
	if _, err := svc.ExportParquet(ctx, path, "2026-10-19", "2026-10-19"); err != nil {
		t.Fatal(err)
	}

	rows, total, err := svc.ReadParquet(ctx, path, "5")
	if err != nil {
		t.Fatal(err)
	}
	if total != 12 || len(rows) != 5 {
		t.Fatalf("read %d of %d rows", len(rows), total)
	}
	if want := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC); !rows[0].Timestamp.Equal(want) {
		t.Errorf("first row at %v, want %v", rows[0].Timestamp, want)
	}

	// The limit is capped at the file size.
	rows, _, err = svc.ReadParquet(ctx, path, "500")
	if err != nil || len(rows) != 12 {
		t.Errorf("read %d rows, %v", len(rows), err)
	}

	rows, _, err = svc.ReadParquet(ctx, path, "")
	if err != nil || len(rows) != 12 {
		t.Errorf("default limit read %d rows, %v", len(rows), err)
	}

	if _, _, err := svc.ReadParquet(ctx, filepath.Join(t.TempDir(), "missing.parquet"), ""); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestService_Prune(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	res, err := svc.Prune(ctx, "2026-10-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DroppedSegments) != 1 || res.DroppedSegments[0] != "metrics_2026_09" {
		t.Errorf("dropped = %v", res.DroppedSegments)
	}

	segments, err := svc.Segments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 1 {
		t.Errorf("segments = %v", segments)
	}

	// Pruning is idempotent.
	again, err := svc.Prune(ctx, "2026-10-01")
	if err != nil || len(again.DroppedSegments) != 0 {
		t.Errorf("second prune = %+v, %v", again, err)
	}

	var called time.Time
	custom := New(st, WithPruner(func(ctx context.Context, cutoff time.Time) (store.RetentionResult, error) {
		called = cutoff
		return store.RetentionResult{Cutoff: cutoff}, nil
	}))
	if _, err := custom.Prune(ctx, "2026-10-05"); err != nil {
		t.Fatal(err)
	}
	if !called.Equal(time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("custom pruner cutoff = %v", called)
	}
}

func TestService_Rebuild(t *testing.T) {
	svc, _ := setupService(t)

	// Leaderboard is populated by SaveReport, so rebuild is a no-op.
	res, err := svc.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Rebuilt {
		t.Error("rebuild over a populated leaderboard must be a no-op")
	}
}

func TestService_StorageErrors(t *testing.T) {
	svc, st := setupService(t)
	st.Close()

	_, err := svc.Leaderboard(context.Background(), "2026-10-19", "2026-10-19")
	if !errors.IsStorage(err) {
		t.Errorf("expected storage error, got %v", err)
	}
	if errors.IsValidation(err) {
		t.Error("storage error must not look like a validation error")
	}
	if svc.Stats().Errors != 1 {
		t.Errorf("errors = %d", svc.Stats().Errors)
	}
}
