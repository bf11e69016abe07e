package retention

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/storage/parquet"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/testutil"
)

type fakeStore struct {
	mu        sync.Mutex
	expired   []string
	exportErr error
	garbage   bool // write a file that is not Parquet
	cutoffs   []time.Time
	exported  []string
}

func (f *fakeStore) ExpiredSegments(ctx context.Context, cutoff time.Time) ([]string, error) {
	return f.expired, nil
}

func (f *fakeStore) ExportSegmentParquet(ctx context.Context, segment, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exportErr != nil {
		return 0, f.exportErr
	}
	f.exported = append(f.exported, segment)
	if f.garbage {
		return 7, os.WriteFile(path, []byte("not parquet"), 0644)
	}

	w, err := parquet.NewMetricWriter(path, parquet.DefaultOptions())
	if err != nil {
		return 0, err
	}
	report := testutil.Report(now, 7)
	if err := w.Write(store.ReportRows(&report)); err != nil {
		w.Abort()
		return 0, err
	}
	return w.RowCount(), w.Close()
}

func (f *fakeStore) Retention(ctx context.Context, cutoff time.Time) (store.RetentionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return store.RetentionResult{Cutoff: cutoff, DroppedSegments: f.expired}, nil
}

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func TestManager_NextRun(t *testing.T) {
	m := New(&Config{RunHour: 5, Location: time.UTC, Clock: fixedClock}, &fakeStore{})

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before run hour", time.Date(2026, 10, 19, 4, 59, 0, 0, time.UTC), time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC)},
		{"at run hour", time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC), time.Date(2026, 10, 20, 5, 0, 0, 0, time.UTC)},
		{"after run hour", time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC), time.Date(2026, 10, 20, 5, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2026, 10, 31, 6, 0, 0, 0, time.UTC), time.Date(2026, 11, 1, 5, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.NextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextRun(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestManager_RunCleanupWithoutArchive(t *testing.T) {
	fs := &fakeStore{expired: []string{"metrics_2026_01"}}
	m := New(&Config{Keep: 48 * time.Hour, Clock: fixedClock}, fs)

	result, err := m.RunCleanup(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(fs.cutoffs) != 1 || !fs.cutoffs[0].Equal(now.Add(-48*time.Hour)) {
		t.Errorf("cutoffs = %v", fs.cutoffs)
	}
	if len(fs.exported) != 0 || len(result.Archived) != 0 {
		t.Error("nothing should be archived without an archive dir")
	}

	stats := m.Stats()
	if stats.Runs != 1 || stats.SegmentsDropped != 1 || !stats.LastRunTime.Equal(now) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestManager_ArchiveFailureKeepsSegments(t *testing.T) {
	fs := &fakeStore{expired: []string{"metrics_2026_01"}, exportErr: errors.New("disk full")}
	m := New(&Config{Keep: 48 * time.Hour, ArchiveDir: t.TempDir(), Clock: fixedClock}, fs)

	if _, err := m.RunCleanup(context.Background(), now); err == nil {
		t.Fatal("expected archive error")
	}
	if len(fs.cutoffs) != 0 {
		t.Error("retention must not run when archiving failed")
	}
	if m.Stats().Errors != 1 {
		t.Errorf("errors = %d", m.Stats().Errors)
	}
}

func TestManager_UnreadableArchiveKeepsSegments(t *testing.T) {
	fs := &fakeStore{expired: []string{"metrics_2026_01"}, garbage: true}
	m := New(&Config{Keep: 48 * time.Hour, ArchiveDir: t.TempDir(), Clock: fixedClock}, fs)

	if _, err := m.RunCleanup(context.Background(), now); err == nil {
		t.Fatal("expected archive verification error")
	}
	if len(fs.cutoffs) != 0 {
		t.Error("retention must not run when the archive cannot be read back")
	}
	if m.Stats().SegmentsArchived != 0 {
		t.Errorf("archived = %d", m.Stats().SegmentsArchived)
	}
}

func TestManager_ArchiveWithFake(t *testing.T) {
	fs := &fakeStore{expired: []string{"metrics_2026_01", "metrics_2026_02"}}
	m := New(&Config{Keep: 48 * time.Hour, ArchiveDir: t.TempDir(), Clock: fixedClock}, fs)

	result, err := m.RunCleanup(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Archived) != 2 || len(fs.cutoffs) != 1 {
		t.Fatalf("archived = %+v, retention runs = %d", result.Archived, len(fs.cutoffs))
	}
	for _, a := range result.Archived {
		if a.Rows != 7 || a.Bytes == 0 {
			t.Errorf("archive %+v", a)
		}
	}
}

func TestManager_ArchivesBeforeDrop(t *testing.T) {
	st, err := store.New(store.Config{
		Path:     filepath.Join(t.TempDir(), "test.duckdb"),
		Location: time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, ts := range []time.Time{
		time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC),
	} {
		report := testutil.Report(ts, 3)
		if err := st.SaveReport(ctx, &report); err != nil {
			t.Fatal(err)
		}
	}

	archiveDir := filepath.Join(t.TempDir(), "archive")
	m := New(&Config{Keep: 30 * 24 * time.Hour, ArchiveDir: archiveDir, Location: time.UTC, Clock: fixedClock}, st)

	pending, err := m.DryRun(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != "metrics_2026_08" {
		t.Fatalf("dry run = %v", pending)
	}

	result, err := m.RunCleanup(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Archived) != 1 || result.Archived[0].Rows != 3 {
		t.Fatalf("archived = %+v", result.Archived)
	}
	if len(result.DroppedSegments) != 1 {
		t.Errorf("dropped = %v", result.DroppedSegments)
	}

	info, err := parquet.GetFileInfo(m.ArchivePath("metrics_2026_08"))
	if err != nil {
		t.Fatal(err)
	}
	if info.NumRows != 3 {
		t.Errorf("archive rows = %d", info.NumRows)
	}

	usage, err := m.ArchiveUsage()
	if err != nil {
		t.Fatal(err)
	}
	if usage.FileCount != 1 || usage.Files[0] != "metrics_2026_08.parquet" {
		t.Errorf("usage = %+v", usage)
	}

	segments, _ := st.Segments(ctx)
	if len(segments) != 1 || segments[0] != "metrics_2026_10" {
		t.Errorf("segments = %v", segments)
	}

	// A second run finds nothing to do.
	again, err := m.RunCleanup(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Archived) != 0 || len(again.DroppedSegments) != 0 {
		t.Errorf("second run = %+v", again)
	}
}

func TestManager_StartStop(t *testing.T) {
	m := New(&Config{RunHour: 5, Location: time.UTC, Clock: fixedClock}, &fakeStore{})

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); !errors.Is(err, errors.ErrAgentRunning) {
		t.Errorf("second start = %v", err)
	}

	if err := testutil.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return !m.Stats().NextRunTime.IsZero()
	}); err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 10, 20, 5, 0, 0, 0, time.UTC); !m.Stats().NextRunTime.Equal(want) {
		t.Errorf("next run = %v, want %v", m.Stats().NextRunTime, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Stop(ctx)
	m.Stop(ctx)

	if err := m.Start(); !errors.Is(err, errors.ErrAgentStopped) {
		t.Errorf("start after stop = %v", err)
	}
}

func TestArchiveUsage_Disabled(t *testing.T) {
	m := New(nil, &fakeStore{})
	usage, err := m.ArchiveUsage()
	if err != nil || usage.FileCount != 0 {
		t.Errorf("usage = %+v, %v", usage, err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 << 20, "5.00 MB"},
		{3 << 30, "3.00 GB"},
		{2 << 40, "2.00 TB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
