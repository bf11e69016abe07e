// Package scheduler drives the sampling loop.
//
// One ticker fires every interval. Each firing collects a process snapshot
// and hands it to the window aggregator on the same goroutine, so the
// aggregator's tick counter is only ever touched here. A failed or
// panicking collection still advances the window with an empty tick.
//
// Key features:
//   - Panic recovery around collection and the aggregator hand-off
//   - Per-tick collection timeout
//   - Graceful shutdown with drain timeout (the in-flight tick completes)
//   - Collect latency quantiles via DDSketch
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	defaults "github.com/xtxerr/procrank/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/latency"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/types"
)

var log = logging.Component("scheduler")

// =============================================================================
// Types
// =============================================================================

// Collector produces one tick's samples.
type Collector interface {
	Collect(ctx context.Context) ([]types.ProcessSample, error)
}

// Sink consumes one tick's samples. Tick is called from the scheduler
// goroutine only.
type Sink interface {
	Tick(samples []types.ProcessSample)
}

// Config holds scheduler configuration.
type Config struct {
	// Interval is the time between ticks.
	Interval time.Duration

	// CollectTimeout bounds a single Collect call.
	CollectTimeout time.Duration

	// DrainTimeout is how long Stop waits for the in-flight tick.
	DrainTimeout time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:       defaults.DefaultTickInterval,
		CollectTimeout: defaults.DefaultCollectTimeout,
		DrainTimeout:   defaults.DefaultDrainTimeout,
	}
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Ticks           int64
	CollectFailures int64
	Panics          int64
	LastSamples     int
	Collect         latency.Summary
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler runs Collect then Tick once per interval.
type Scheduler struct {
	collector Collector
	sink      Sink

	interval       time.Duration
	collectTimeout time.Duration
	drainTimeout   time.Duration

	mu       sync.Mutex
	started  bool
	stopped  bool
	drained  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup

	collectLatency *latency.Tracker

	ticks           atomic.Int64
	collectFailures atomic.Int64
	panics          atomic.Int64
	lastSamples     atomic.Int64
}

// New creates a new Scheduler.
func New(cfg *Config, collector Collector, sink Sink) *Scheduler {
	d := DefaultConfig()
	if cfg == nil {
		cfg = d
	}

	s := &Scheduler{
		collector:      collector,
		sink:           sink,
		interval:       cfg.Interval,
		collectTimeout: cfg.CollectTimeout,
		drainTimeout:   cfg.DrainTimeout,
		shutdown:       make(chan struct{}),
		collectLatency: latency.New(),
	}
	if s.interval <= 0 {
		s.interval = d.Interval
	}
	if s.collectTimeout <= 0 {
		s.collectTimeout = d.CollectTimeout
	}
	if s.drainTimeout <= 0 {
		s.drainTimeout = d.DrainTimeout
	}
	return s
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.ErrAgentStopped
	}
	if s.started {
		return errors.ErrAgentRunning
	}
	s.started = true

	s.wg.Add(1)
	go s.loop()

	log.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop stops the scheduler gracefully, waiting for the in-flight tick.
func (s *Scheduler) Stop() {
	s.StopWithContext(context.Background())
}

// StopWithContext stops the scheduler with a custom context.
// The drain timeout from config is still respected as a maximum.
// It reports whether the tick loop has exited; false means a tick may still
// be running. A second call reports the outcome of the first.
func (s *Scheduler) StopWithContext(ctx context.Context) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.drained.Load()
	}
	s.stopped = true
	close(s.shutdown)
	s.mu.Unlock()

	log.Info("scheduler stopping")

	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.drained.Store(true)
		log.Info("scheduler stopped gracefully", "ticks", s.ticks.Load())
		return true
	case <-drainCtx.Done():
		log.Warn("scheduler drain timeout")
		return false
	}
}

// =============================================================================
// Tick Loop
// =============================================================================

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case <-s.shutdown:
				return
			default:
			}
			s.RunTick()
		case <-s.shutdown:
			return
		}
	}
}

// RunTick performs one collection and hands the result to the sink. It is
// exported for callers that drive ticks themselves; it must not run
// concurrently with a started scheduler.
func (s *Scheduler) RunTick() {
	samples := s.collectWithRecovery()
	s.deliverWithRecovery(samples)
	s.ticks.Add(1)
}

func (s *Scheduler) collectWithRecovery() (samples []types.ProcessSample) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			log.Error("panic in process collection", "panic", r)
			samples = nil
		}
		s.collectLatency.Since(start)
		s.lastSamples.Store(int64(len(samples)))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.collectTimeout)
	defer cancel()

	samples, err := s.collector.Collect(ctx)
	if err != nil {
		s.collectFailures.Add(1)
		log.Warn("process collection failed, tick is empty", "error", err)
		return nil
	}
	return samples
}

func (s *Scheduler) deliverWithRecovery(samples []types.ProcessSample) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			log.Error("panic in window tick", "panic", fmt.Sprint(r))
		}
	}()
	s.sink.Tick(samples)
}

// =============================================================================
// Stats
// =============================================================================

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:           s.ticks.Load(),
		CollectFailures: s.collectFailures.Load(),
		Panics:          s.panics.Load(),
		LastSamples:     int(s.lastSamples.Load()),
		Collect:         s.collectLatency.Summary(),
	}
}
