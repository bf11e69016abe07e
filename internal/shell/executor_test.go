package shell

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/testutil"
	"github.com/xtxerr/procrank/internal/types"
)

var ts = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeQuerier struct {
	calls   []string
	lastArg []string
	err     error
}

func (f *fakeQuerier) record(name string, args ...string) {
	f.calls = append(f.calls, name)
	f.lastArg = args
}

func (f *fakeQuerier) Location() *time.Location { return time.UTC }

func (f *fakeQuerier) ListTimestamps(ctx context.Context, day, hour string) ([]time.Time, error) {
	f.record("timestamps", day, hour)
	return []time.Time{ts, ts.Add(time.Minute)}, f.err
}

func (f *fakeQuerier) GetReportAt(ctx context.Context, timestamp string) (types.AggregatedReport, error) {
	f.record("report", timestamp)
	report := testutil.Report(ts, 3)
	for i := range report.Items {
		report.Items[i].CPURank = 3 - i
	}
	report.Items[0].PID = types.MergedPID
	return report, f.err
}

func (f *fakeQuerier) Leaderboard(ctx context.Context, startDay, endDay string) ([]types.LeaderboardEntry, error) {
	f.record("leaderboard", startDay, endDay)
	return []types.LeaderboardEntry{{Rank: 1, Name: "db", Path: "/opt/db", CPUCount: 5, MemoryCount: 2, IOCount: 1, Total: 8}}, f.err
}

func (f *fakeQuerier) ExportCSV(ctx context.Context, w io.Writer, startDay, endDay string) (int64, error) {
	f.record("export", startDay, endDay)
	io.WriteString(w, "timestamp,pid\n")
	return 1, f.err
}

func (f *fakeQuerier) ExportParquet(ctx context.Context, path, startDay, endDay string) (int64, error) {
	f.record("parquet", path, startDay, endDay)
	return 42, f.err
}

func (f *fakeQuerier) ReadParquet(ctx context.Context, path, limit string) ([]types.MetricRow, int64, error) {
	f.record("inspect", path, limit)
	report := testutil.Report(ts, 2)
	return store.ReportRows(&report), 9, f.err
}

func (f *fakeQuerier) Prune(ctx context.Context, cutoffDay string) (store.RetentionResult, error) {
	f.record("prune", cutoffDay)
	return store.RetentionResult{DroppedSegments: []string{"metrics_2026_01"}, LeaderboardDeleted: 7}, f.err
}

func (f *fakeQuerier) Rebuild(ctx context.Context) (store.RebuildResult, error) {
	f.record("rebuild")
	return store.RebuildResult{Rebuilt: true, Tables: 2, Timestamps: 10, Keys: 30}, f.err
}

func (f *fakeQuerier) Segments(ctx context.Context) ([]string, error) {
	f.record("segments")
	return []string{"metrics_2026_09", "metrics_2026_10"}, f.err
}

func run(t *testing.T, q Querier, line string, opts ...Option) (string, error) {
	t.Helper()
	var out bytes.Buffer
	e := NewExecutor(q, &out, opts...)
	err := e.Execute(context.Background(), line)
	return out.String(), err
}

func TestExecute_Commands(t *testing.T) {
	tests := []struct {
		line     string
		call     string
		args     []string
		contains []string
	}{
		{"timestamps 2026-10-19", "timestamps", []string{"2026-10-19", ""}, []string{"2026-10-19 12:00:00", "2026-10-19 12:01:00"}},
		{"timestamps 2026-10-19 12", "timestamps", []string{"2026-10-19", "12"}, nil},
		{"report 2026-10-19 12:00:00", "report", []string{"2026-10-19 12:00:00"}, []string{"3 items", "merged", "/bin/p2"}},
		{"leaderboard 2026-10-01 2026-10-19", "leaderboard", []string{"2026-10-01", "2026-10-19"}, []string{"RANK", "db", "8"}},
		{"export 2026-10-01 2026-10-19", "export", []string{"2026-10-01", "2026-10-19"}, []string{"timestamp,pid"}},
		{"parquet 2026-10-01 2026-10-19 out.parquet", "parquet", []string{"out.parquet", "2026-10-01", "2026-10-19"}, []string{"42 rows"}},
		{"inspect archive/metrics_2026_01.parquet 2", "inspect", []string{"archive/metrics_2026_01.parquet", "2"}, []string{"9 rows, showing 2", "/bin/p1"}},
		{"segments", "segments", nil, []string{"metrics_2026_09", "metrics_2026_10"}},
		{"prune 2026-02-01", "prune", []string{"2026-02-01"}, []string{"dropped 1 segments, 7 leaderboard rows", "metrics_2026_01"}},
		{"rebuild", "rebuild", nil, []string{"10 timestamps"}},
		{"  LEADERBOARD   2026-10-01 2026-10-19 ", "leaderboard", []string{"2026-10-01", "2026-10-19"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			q := &fakeQuerier{}
			out, err := run(t, q, tt.line)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if len(q.calls) != 1 || q.calls[0] != tt.call {
				t.Fatalf("calls = %v, want %s", q.calls, tt.call)
			}
			if strings.Join(q.lastArg, "|") != strings.Join(tt.args, "|") {
				t.Errorf("args = %q, want %q", q.lastArg, tt.args)
			}
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestExecute_ReportOrderedByCPURank(t *testing.T) {
	out, err := run(t, &fakeQuerier{}, "report 2026-10-19 12:00:00")
	if err != nil {
		t.Fatal(err)
	}
	// p2 has cpu rank 1 and must be printed first.
	if strings.Index(out, "p2") > strings.Index(out, "p0") {
		t.Errorf("report not ordered by cpu rank:\n%s", out)
	}
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"frobnicate", "unknown command"},
		{"leaderboard 2026-10-01", "usage: leaderboard"},
		{"parquet a b", "usage: parquet"},
		{"rebuild now", "usage: rebuild"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			q := &fakeQuerier{}
			_, err := run(t, q, tt.line)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
			if len(q.calls) != 0 {
				t.Errorf("querier must not be called, got %v", q.calls)
			}
		})
	}

	q := &fakeQuerier{err: errors.ErrInvalidDay}
	if _, err := run(t, q, "timestamps nope"); !errors.Is(err, errors.ErrInvalidDay) {
		t.Errorf("querier error must surface, got %v", err)
	}
}

func TestExecute_ExportToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	out, err := run(t, &fakeQuerier{}, "export 2026-10-01 2026-10-19 "+path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "exported 1 rows") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "timestamp,pid\n" {
		t.Errorf("file = %q", data)
	}

	failing := filepath.Join(t.TempDir(), "fail.csv")
	if _, err := run(t, &fakeQuerier{err: errors.ErrDatabase}, "export 2026-10-01 2026-10-19 "+failing); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(failing); !os.IsNotExist(err) {
		t.Error("failed export must not leave a file behind")
	}
}

func TestExecute_ExitStatsHelp(t *testing.T) {
	var out bytes.Buffer
	e := NewExecutor(&fakeQuerier{}, &out, WithStats(func(w io.Writer) {
		io.WriteString(w, "ticks: 42\n")
	}))
	ctx := context.Background()

	if err := e.Execute(ctx, ""); err != nil {
		t.Errorf("empty line: %v", err)
	}
	if err := e.Execute(ctx, "stats"); err != nil || !strings.Contains(out.String(), "ticks: 42") {
		t.Errorf("stats = %v, %q", err, out.String())
	}
	if err := e.Execute(ctx, "help"); err != nil {
		t.Fatal(err)
	}
	for _, c := range Commands {
		if !strings.Contains(out.String(), c.Usage) {
			t.Errorf("help missing %q", c.Usage)
		}
	}

	if e.Exited() {
		t.Fatal("exited too early")
	}
	if err := e.Execute(ctx, "quit"); !errors.Is(err, ErrExit) {
		t.Errorf("quit = %v", err)
	}
	if !e.Exited() {
		t.Error("executor should be exited")
	}

	bare, err := run(t, &fakeQuerier{}, "stats")
	if err != nil || !strings.Contains(bare, "no statistics") {
		t.Errorf("stats without printer = %q, %v", bare, err)
	}
}

func TestSuggestions(t *testing.T) {
	tests := []struct {
		before string
		want   []string
	}{
		{"le", []string{"leaderboard"}},
		{"RE", []string{"report", "rebuild"}},
		{"p", []string{"parquet", "prune"}},
		{"report 2026", nil},
	}
	for _, tt := range tests {
		got := Suggestions(tt.before)
		var names []string
		for _, s := range got {
			names = append(names, s.Text)
		}
		if strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Suggestions(%q) = %v, want %v", tt.before, names, tt.want)
		}
	}

	if all := Suggestions(""); len(all) != len(Commands) {
		t.Errorf("empty prefix should suggest every command, got %d", len(all))
	}
}

func TestRunUntil(t *testing.T) {
	if !runUntil(context.Background(), func() {}) {
		t.Error("a returning function must report true")
	}

	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	defer close(block)

	result := make(chan bool, 1)
	go func() { result <- runUntil(ctx, func() { <-block }) }()

	select {
	case <-result:
		t.Fatal("returned before cancellation")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	got, err := testutil.Receive(result, 2*time.Second)
	if err != nil {
		t.Fatalf("cancellation did not unblock the shell: %v", err)
	}
	if got {
		t.Error("a cancelled run must report false")
	}
}
