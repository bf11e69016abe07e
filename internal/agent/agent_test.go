package agent

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/procrank/internal/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/sampler"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/testutil"
)

// staticSource reports a fixed set of busy processes whose counters grow
// on every read.
type staticSource struct {
	mu    sync.Mutex
	reads int
}

func (s *staticSource) Pids(ctx context.Context) ([]int32, error) {
	return []int32{100, 101, 200}, nil
}

func (s *staticSource) Read(ctx context.Context, pid int32) (sampler.ProcessReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++

	name, path := "worker", "/usr/bin/worker"
	if pid == 200 {
		name, path = "db", "/opt/db/bin/db"
	}
	n := uint64(s.reads)
	return sampler.ProcessReading{
		Name:       name,
		Path:       sampler.Value(path),
		CPUTime:    sampler.Value(time.Duration(s.reads) * 10 * time.Millisecond),
		WorkingSet: sampler.Value(uint64(pid) << 20),
		Disk:       sampler.Value(sampler.DiskCounters{ReadBytes: n << 10, WriteBytes: n << 9}),
	}, nil
}

func (s *staticSource) Cores(ctx context.Context) (int, error) {
	return 2, nil
}

func testConfig(t *testing.T, ticks int) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Location = "UTC"
	cfg.Sampler.Interval = 100 * time.Millisecond
	cfg.Window.Ticks = ticks
	cfg.Retention.Enabled = false
	return cfg
}

func TestAgent_RecordsReports(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, 2), WithSource(&staticSource{}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	reports := a.Subscribe()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(ctx); !errors.Is(err, errors.ErrAgentRunning) {
		t.Errorf("second start = %v", err)
	}

	report, err := testutil.Receive(reports, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 2 {
		t.Errorf("identities = %d, want 2 (worker pids merged)", report.Total)
	}

	if err := testutil.Eventually(5*time.Second, 20*time.Millisecond, func() bool {
		return a.Stats().ReportsSaved >= 1
	}); err != nil {
		t.Fatal(err)
	}

	day := report.Timestamp.Format("2006-01-02")
	timestamps, err := a.Query().ListTimestamps(ctx, day, "")
	if err != nil {
		t.Fatalf("list timestamps: %v", err)
	}
	if len(timestamps) == 0 {
		t.Fatal("no timestamps recorded")
	}

	board, err := a.Query().Leaderboard(ctx, day, day)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Errorf("leaderboard entries = %d, want 2", len(board))
	}

	var out bytes.Buffer
	a.PrintStats(&out)
	for _, want := range []string{"scheduler", "window", "store", "recorder"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("stats output missing %q:\n%s", want, out.String())
		}
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Errorf("second stop: %v", err)
	}
	if err := a.Start(ctx); !errors.Is(err, errors.ErrAgentStopped) {
		t.Errorf("start after stop = %v", err)
	}
}

func TestAgent_FlushOnStop(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 600)

	a, err := New(ctx, cfg, WithSource(&staticSource{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := testutil.Eventually(5*time.Second, 20*time.Millisecond, func() bool {
		return a.Stats().Scheduler.Ticks >= 2
	}); err != nil {
		t.Fatal(err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if a.recorded.Load() != 1 {
		t.Fatalf("partial window should be recorded on stop, got %d reports", a.recorded.Load())
	}

	st, err := store.New(store.Config{Path: cfg.DatabasePath(), Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	segments, err := st.Segments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 1 {
		t.Errorf("segments = %v", segments)
	}
}

// stuckSource blocks the first enumeration until released.
type stuckSource struct {
	staticSource
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stuckSource) Pids(ctx context.Context) ([]int32, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.staticSource.Pids(ctx)
}

// A tick still running at the shutdown deadline must not race with the
// partial-window flush; its window is discarded instead.
func TestAgent_StopWithTickInFlight(t *testing.T) {
	ctx := context.Background()
	src := &stuckSource{entered: make(chan struct{}), release: make(chan struct{})}

	a, err := New(ctx, testConfig(t, 1), WithSource(src))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-src.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick never started")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(src.release)

	if err := testutil.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return a.aggregator.Stats().DroppedWindows == 1
	}); err != nil {
		t.Fatalf("late window was not discarded: %v", err)
	}
	if got := a.recorded.Load(); got != 0 {
		t.Errorf("recorded = %d, want 0", got)
	}
}

func TestAgent_StopWithoutStart(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, 2), WithSource(&staticSource{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, 0)
	if _, err := New(context.Background(), cfg, WithSource(&staticSource{})); !errors.IsValidation(err) {
		t.Errorf("err = %v, want validation error", err)
	}
}
