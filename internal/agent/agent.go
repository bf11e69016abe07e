// Package agent wires the sampling pipeline to the rank store.
//
// The data path is Scheduler → Sampler.Collect → Aggregator.Tick; every
// finished window is delivered to the recorder subscriber, which persists
// it with Store.SaveReport. Write failures are logged and dropped so the
// sampling loop never stalls on storage.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/procrank/config"
	"github.com/xtxerr/procrank/internal/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/sampler"
	"github.com/xtxerr/procrank/internal/scheduler"
	"github.com/xtxerr/procrank/internal/storage/query"
	"github.com/xtxerr/procrank/internal/storage/retention"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/types"
	"github.com/xtxerr/procrank/internal/window"
)

var log = logging.Component("agent")

// =============================================================================
// Options
// =============================================================================

// Option configures an Agent.
type Option func(*Agent)

// WithSource replaces the host process source.
func WithSource(src sampler.ProcessSource) Option {
	return func(a *Agent) { a.source = src }
}

// WithClock replaces time.Now for sampling, report stamps and retention.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// =============================================================================
// Agent
// =============================================================================

// Agent owns every long-lived component of the daemon.
type Agent struct {
	cfg    *config.Config
	loc    *time.Location
	source sampler.ProcessSource
	now    func() time.Time

	store      *store.Store
	sampler    *sampler.Sampler
	aggregator *window.Aggregator
	scheduler  *scheduler.Scheduler
	retention  *retention.Manager
	query      *query.Service

	mu      sync.Mutex
	started bool
	stopped bool
	group   errgroup.Group

	recorded   atomic.Int64
	saveErrors atomic.Int64
}

// New opens the store and builds the pipeline. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.source == nil {
		a.source = sampler.NewHostSource()
	}

	loc, err := cfg.LoadLocation()
	if err != nil {
		return nil, err
	}
	a.loc = loc

	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.New(store.Config{
		Path:               dbPath,
		MaxOpenConns:       cfg.Store.MaxOpenConns,
		QueryTimeout:       cfg.Store.QueryTimeout,
		TopK:               cfg.Window.TopK,
		LeaderboardLimit:   cfg.Store.LeaderboardLimit,
		Location:           loc,
		ParquetCompression: cfg.Store.ParquetCompression,
	})
	if err != nil {
		return nil, err
	}
	a.store = st

	a.sampler = sampler.New(ctx, a.source, sampler.WithClock(a.now))

	a.aggregator = window.New(&window.Config{
		Ticks:            cfg.Window.Ticks,
		TopK:             cfg.Window.TopK,
		QueueSize:        cfg.Window.QueueSize,
		SubscriberBuffer: cfg.Window.SubscriberBuffer,
		DrainTimeout:     defaults.DefaultDrainTimeout,
		Clock:            func() time.Time { return a.now().In(loc) },
	})

	a.scheduler = scheduler.New(&scheduler.Config{
		Interval:       cfg.Sampler.Interval,
		CollectTimeout: cfg.Sampler.Timeout,
		DrainTimeout:   defaults.DefaultDrainTimeout,
	}, a.sampler, a.aggregator)

	a.retention = retention.New(&retention.Config{
		Keep:       cfg.Retention.Keep,
		RunHour:    cfg.Retention.RunHour,
		ArchiveDir: cfg.Retention.ArchiveDir,
		Location:   loc,
		Clock:      a.now,
	}, st)

	// Manual prunes are archived the same way as scheduled runs.
	a.query = query.New(st, query.WithPruner(a.retention.PruneStore))

	return a, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start backfills an empty leaderboard, then starts the recorder, the
// reducer, the tick loop and (if enabled) the retention worker.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return errors.ErrAgentStopped
	}
	if a.started {
		return errors.ErrAgentRunning
	}
	a.started = true

	res, err := a.store.RebuildLeaderboard(ctx)
	if err != nil {
		log.Error("leaderboard backfill failed", "error", err)
	} else if res.Rebuilt {
		log.Info("leaderboard backfilled", "tables", res.Tables, "timestamps", res.Timestamps)
	}

	reports := a.aggregator.Subscribe()
	a.group.Go(func() error {
		a.record(reports)
		return nil
	})

	if err := a.aggregator.Start(); err != nil {
		return err
	}
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	if a.cfg.Retention.Enabled {
		if err := a.retention.Start(); err != nil {
			return err
		}
	}

	log.Info("agent started",
		"database", a.cfg.DatabasePath(),
		"location", a.loc.String(),
		"cores", a.sampler.Cores())
	return nil
}

// Stop halts sampling, optionally flushes the partial window, waits for
// queued reports to be persisted and closes the store. Stop is idempotent.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	started := a.started
	a.mu.Unlock()

	if started {
		drained := a.scheduler.StopWithContext(ctx)
		// Flush touches the tick counter, so it may only run once the tick
		// loop has exited.
		switch {
		case !a.cfg.Window.FlushOnStop:
		case drained:
			a.aggregator.Flush()
		default:
			log.Warn("tick still running at shutdown, partial window not flushed")
		}
	}
	// Closes the subscriber channels, which ends the recorder.
	a.aggregator.Stop(ctx)
	if started {
		done := make(chan struct{})
		go func() {
			a.group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("recorder still busy at shutdown deadline")
		}
	}
	a.retention.Stop(ctx)

	log.Info("agent stopped",
		"reports_recorded", a.recorded.Load(),
		"save_errors", a.saveErrors.Load())
	return a.store.Close()
}

// record persists every report until the subscriber channel is closed.
func (a *Agent) record(reports <-chan types.AggregatedReport) {
	for report := range reports {
		ctx := logging.ContextWithWindow(context.Background(), report.Timestamp)
		if err := a.store.SaveReport(ctx, &report); err != nil {
			a.saveErrors.Add(1)
			logging.WithContext(ctx).Error("save report failed, dropped",
				"component", "agent",
				"items", report.Len(),
				"error", err)
			continue
		}
		a.recorded.Add(1)
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Subscribe returns an additional report subscriber. See
// window.Aggregator.Subscribe for delivery semantics.
func (a *Agent) Subscribe() <-chan types.AggregatedReport {
	return a.aggregator.Subscribe()
}

// Query returns the validated query surface.
func (a *Agent) Query() *query.Service {
	return a.query
}

// Store returns the underlying rank store.
func (a *Agent) Store() *store.Store {
	return a.store
}

// Location returns the zone used for timestamps and day boundaries.
func (a *Agent) Location() *time.Location {
	return a.loc
}
