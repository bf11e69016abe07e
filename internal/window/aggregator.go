// Package window buffers per-tick process samples and reduces every
// window of N ticks into a ranked AggregatedReport.
//
// The tick goroutine only appends to the Buffer and counts ticks. At the
// window boundary it drains the buffer and hands the snapshot to a single
// reducer goroutine over a bounded queue, so a slow reduction never delays
// the next tick and at most one reduction runs at a time. Finished reports
// are fanned out to subscriber channels.
package window

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

var log = logging.Component("window")

// =============================================================================
// Configuration
// =============================================================================

// Config holds aggregator configuration.
type Config struct {
	// Ticks is the number of ticks per window.
	Ticks int

	// TopK is the number of winners kept per dimension.
	TopK int

	// QueueSize is the number of drained windows waiting for the reducer.
	QueueSize int

	// SubscriberBuffer is the channel capacity of each subscriber.
	SubscriberBuffer int

	// DrainTimeout bounds how long Stop waits for the reducer.
	DrainTimeout time.Duration

	// Clock stamps reports. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns default aggregator configuration.
func DefaultConfig() *Config {
	return &Config{
		Ticks:            defaults.DefaultWindowTicks,
		TopK:             defaults.DefaultTopK,
		QueueSize:        defaults.DefaultFlushQueueSize,
		SubscriberBuffer: defaults.DefaultSubscriberBuffer,
		DrainTimeout:     defaults.DefaultDrainTimeout,
	}
}

// Stats is a snapshot of aggregator counters.
type Stats struct {
	Ticks             int64
	Flushes           int64
	Reports           int64
	DroppedWindows    int64
	DroppedDeliveries int64
	Panics            int64
	LastReportSize    int
	LastMergedSize    int
	LastReportAt      time.Time
	BufferedPids      int
	Subscribers       int
	Reduce            latency.Summary
}

type flushJob struct {
	ts      time.Time
	samples map[int32][]types.ProcessSample
}

// =============================================================================
// Aggregator
// =============================================================================

// Aggregator accumulates ticks and emits one report per window.
//
// Tick and Flush must be called from a single goroutine (the tick driver).
// Subscribe and Stats are safe for concurrent use.
type Aggregator struct {
	cfg    Config
	buffer *Buffer

	// tick is owned by the tick goroutine.
	tick int

	mu      sync.RWMutex
	queue   chan flushJob
	subs    []chan types.AggregatedReport
	started bool
	closed  bool

	wg sync.WaitGroup

	reduceLatency *latency.Tracker

	ticks             atomic.Int64
	flushes           atomic.Int64
	reports           atomic.Int64
	droppedWindows    atomic.Int64
	droppedDeliveries atomic.Int64
	panics            atomic.Int64
	lastReportSize    atomic.Int64
	lastMergedSize    atomic.Int64
	lastReportAt      atomic.Int64 // unix nanos
}

// New creates an Aggregator. Zero config values fall back to defaults.
func New(cfg *Config) *Aggregator {
	c := *DefaultConfig()
	if cfg != nil {
		if cfg.Ticks > 0 {
			c.Ticks = cfg.Ticks
		}
		if cfg.TopK > 0 {
			c.TopK = cfg.TopK
		}
		if cfg.QueueSize > 0 {
			c.QueueSize = cfg.QueueSize
		}
		if cfg.SubscriberBuffer > 0 {
			c.SubscriberBuffer = cfg.SubscriberBuffer
		}
		if cfg.DrainTimeout > 0 {
			c.DrainTimeout = cfg.DrainTimeout
		}
		c.Clock = cfg.Clock
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	return &Aggregator{
		cfg:           c,
		buffer:        NewBuffer(),
		queue:         make(chan flushJob, c.QueueSize),
		reduceLatency: latency.New(),
	}
}

// Subscribe returns a channel receiving every future report. The channel
// is closed by Stop. A subscriber that falls behind by more than its buffer
// misses reports rather than stalling the reducer.
func (a *Aggregator) Subscribe() <-chan types.AggregatedReport {
	ch := make(chan types.AggregatedReport, a.cfg.SubscriberBuffer)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		close(ch)
		return ch
	}
	a.subs = append(a.subs, ch)
	return ch
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start launches the reducer goroutine.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.ErrAgentStopped
	}
	if a.started {
		return errors.ErrAgentRunning
	}
	a.started = true

	a.wg.Add(1)
	go a.reducer()

	log.Info("window aggregator started",
		"ticks", a.cfg.Ticks,
		"top_k", a.cfg.TopK,
		"queue_size", a.cfg.QueueSize)
	return nil
}

// Stop closes the queue, lets the in-flight and queued reductions finish
// (bounded by the drain timeout), then closes every subscriber channel.
// Subscribers are closed even after a drain timeout; reports finished later
// are discarded.
func (a *Aggregator) Stop(ctx context.Context) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	started := a.started
	a.mu.Unlock()

	if started {
		drainCtx, cancel := context.WithTimeout(ctx, a.cfg.DrainTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.Info("window aggregator stopped gracefully")
		case <-drainCtx.Done():
			log.Warn("window aggregator drain timeout, pending windows discarded", "pending", len(a.queue))
		}
	}

	a.mu.Lock()
	for _, ch := range a.subs {
		close(ch)
	}
	a.subs = nil
	a.mu.Unlock()
}

// =============================================================================
// Tick Path
// =============================================================================

// Tick appends one tick's samples. Every cfg.Ticks ticks it drains the
// buffer and queues the window for reduction. An empty tick (enumeration
// failure) still advances the window.
func (a *Aggregator) Tick(samples []types.ProcessSample) {
	a.buffer.Append(samples)
	a.ticks.Add(1)

	a.tick++
	if a.tick < a.cfg.Ticks {
		return
	}
	a.tick = 0
	drained := a.buffer.Drain()
	if len(drained) == 0 {
		log.Debug("empty window skipped")
		return
	}
	a.enqueue(drained)
}

// Flush drains the partial window immediately and resets the tick count.
// Used on shutdown so the tail of the last window is not lost.
func (a *Aggregator) Flush() {
	a.tick = 0
	samples := a.buffer.Drain()
	if len(samples) == 0 {
		return
	}
	a.enqueue(samples)
}

func (a *Aggregator) enqueue(samples map[int32][]types.ProcessSample) {
	job := flushJob{ts: a.cfg.Clock().Truncate(time.Second), samples: samples}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.droppedWindows.Add(1)
		log.Warn("window dropped, aggregator stopped", "pids", len(samples))
		return
	}

	select {
	case a.queue <- job:
		a.flushes.Add(1)
	default:
		a.droppedWindows.Add(1)
		log.Warn("window dropped, reducer busy",
			"pids", len(samples),
			"queue_size", cap(a.queue))
	}
}

// =============================================================================
// Reducer
// =============================================================================

func (a *Aggregator) reducer() {
	defer a.wg.Done()

	for job := range a.queue {
		report, err := a.reduceWithRecovery(job)
		if err != nil {
			continue
		}
		a.publish(report)
	}
}

func (a *Aggregator) reduceWithRecovery(job flushJob) (report types.AggregatedReport, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.panics.Add(1)
			log.Error("panic in window reduction",
				"window", job.ts.Format(time.DateTime),
				"panic", r)
			err = fmt.Errorf("panic: %v: %w", r, errors.ErrInternal)
		}
	}()

	report = Reduce(job.ts, job.samples, a.cfg.TopK)
	a.reduceLatency.Since(start)

	a.reports.Add(1)
	a.lastReportSize.Store(int64(len(report.Items)))
	a.lastMergedSize.Store(int64(report.Total))
	a.lastReportAt.Store(report.Timestamp.UnixNano())

	log.Debug("window reduced",
		"window", report.Timestamp.Format(time.DateTime),
		"pids", len(job.samples),
		"identities", report.Total,
		"items", len(report.Items),
		"duration", time.Since(start))

	return report, nil
}

func (a *Aggregator) publish(report types.AggregatedReport) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for i, ch := range a.subs {
		select {
		case ch <- report:
		default:
			a.droppedDeliveries.Add(1)
			log.Warn("report delivery dropped, subscriber behind",
				"subscriber", i,
				"window", report.Timestamp.Format(time.DateTime))
		}
	}
}

// =============================================================================
// Stats
// =============================================================================

// Stats returns aggregator statistics.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	subs := len(a.subs)
	a.mu.RUnlock()

	s := Stats{
		Ticks:             a.ticks.Load(),
		Flushes:           a.flushes.Load(),
		Reports:           a.reports.Load(),
		DroppedWindows:    a.droppedWindows.Load(),
		DroppedDeliveries: a.droppedDeliveries.Load(),
		Panics:            a.panics.Load(),
		LastReportSize:    int(a.lastReportSize.Load()),
		LastMergedSize:    int(a.lastMergedSize.Load()),
		BufferedPids:      a.buffer.Pids(),
		Subscribers:       subs,
		Reduce:            a.reduceLatency.Summary(),
	}
	if ns := a.lastReportAt.Load(); ns != 0 {
		s.LastReportAt = time.Unix(0, ns)
	}
	return s
}
