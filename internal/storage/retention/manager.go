// Package retention runs the daily cleanup of the rank store.
//
// A cleanup computes cutoff = now - keep, optionally archives every segment
// about to be dropped to <archive_dir>/<segment>.parquet, and then applies
// store retention. A segment is never dropped if its archive failed.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	defaults "github.com/xtxerr/procrank/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/storage/parquet"
	"github.com/xtxerr/procrank/internal/store"
)

var log = logging.Component("retention")

// Store is the part of the rank store retention needs.
type Store interface {
	ExpiredSegments(ctx context.Context, cutoff time.Time) ([]string, error)
	ExportSegmentParquet(ctx context.Context, segment, path string) (int64, error)
	Retention(ctx context.Context, cutoff time.Time) (store.RetentionResult, error)
}

// Config holds retention configuration.
type Config struct {
	// Keep is how long data is retained.
	Keep time.Duration

	// RunHour is the local hour of the daily run.
	RunHour int

	// ArchiveDir receives a Parquet copy of every dropped segment.
	// Empty disables archiving.
	ArchiveDir string

	// RunTimeout bounds one scheduled cleanup.
	RunTimeout time.Duration

	// Location is the zone RunHour is evaluated in.
	Location *time.Location

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		Keep:       defaults.DefaultRetentionKeep,
		RunHour:    defaults.DefaultRetentionRunHour,
		RunTimeout: 10 * time.Minute,
		Location:   time.Local,
		Clock:      time.Now,
	}
}

// Manager handles automatic cleanup of expired data.
type Manager struct {
	store  Store
	config Config

	mu    sync.Mutex // serializes cleanups
	smu   sync.RWMutex
	stats Stats

	lmu      sync.Mutex
	started  bool
	stopped  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Stats holds retention statistics.
type Stats struct {
	Runs             int64
	LastRunTime      time.Time
	LastCutoff       time.Time
	NextRunTime      time.Time
	SegmentsDropped  int64
	SegmentsArchived int64
	BytesArchived    int64
	Errors           int64
}

// ArchivedSegment describes one segment written to the archive.
type ArchivedSegment struct {
	Segment string
	Path    string
	Rows    int64
	Bytes   int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	store.RetentionResult
	Archived []ArchivedSegment
}

// New creates a new retention manager.
func New(cfg *Config, st Store) *Manager {
	d := DefaultConfig()
	if cfg == nil {
		cfg = d
	}
	c := *cfg
	if c.Keep <= 0 {
		c.Keep = d.Keep
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = d.RunTimeout
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}

	return &Manager{
		store:    st,
		config:   c,
		shutdown: make(chan struct{}),
	}
}

// Cutoff returns the retention cutoff for now.
func (m *Manager) Cutoff(now time.Time) time.Time {
	return now.Add(-m.config.Keep)
}

// RunCleanup applies retention for now - keep.
func (m *Manager) RunCleanup(ctx context.Context, now time.Time) (CleanupResult, error) {
	return m.Prune(ctx, m.Cutoff(now))
}

// DryRun returns the segments a cleanup at now would drop.
func (m *Manager) DryRun(ctx context.Context, now time.Time) ([]string, error) {
	return m.store.ExpiredSegments(ctx, m.Cutoff(now))
}

// Prune archives the segments expired at cutoff, if archiving is enabled,
// and applies store retention.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := CleanupResult{}

	if m.config.ArchiveDir != "" {
		archived, err := m.archive(ctx, cutoff)
		result.Archived = archived
		m.recordArchive(archived)
		if err != nil {
			m.recordError()
			return result, err
		}
	}

	res, err := m.store.Retention(ctx, cutoff)
	if err != nil {
		m.recordError()
		return result, err
	}
	result.RetentionResult = res

	m.smu.Lock()
	m.stats.Runs++
	m.stats.LastRunTime = m.config.Clock()
	m.stats.LastCutoff = cutoff
	m.stats.SegmentsDropped += int64(len(res.DroppedSegments))
	m.smu.Unlock()

	return result, nil
}

// PruneStore is Prune reduced to the store result. It matches the pruner
// hook of the query service.
func (m *Manager) PruneStore(ctx context.Context, cutoff time.Time) (store.RetentionResult, error) {
	res, err := m.Prune(ctx, cutoff)
	return res.RetentionResult, err
}

func (m *Manager) archive(ctx context.Context, cutoff time.Time) ([]ArchivedSegment, error) {
	segments, err := m.store.ExpiredSegments(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(m.config.ArchiveDir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	var archived []ArchivedSegment
	for _, segment := range segments {
		path := m.ArchivePath(segment)
		sctx := logging.ContextWithSegment(ctx, segment)
		rows, err := m.store.ExportSegmentParquet(sctx, segment, path)
		if err != nil {
			logging.WithContext(sctx).Error("segment archive failed, retention skipped", "error", err)
			return archived, errors.Wrapf(err, "archive %s", segment)
		}

		// Read the footer back so a truncated archive never lets the drop
		// proceed.
		info, err := parquet.GetFileInfo(path)
		if err == nil && info.NumRows != rows {
			err = fmt.Errorf("archive holds %d rows, exported %d", info.NumRows, rows)
		}
		if err != nil {
			logging.WithContext(sctx).Error("segment archive unreadable, retention skipped", "error", err)
			return archived, errors.Wrapf(err, "verify archive %s", segment)
		}

		archived = append(archived, ArchivedSegment{Segment: segment, Path: path, Rows: rows, Bytes: info.Size})

		log.Info("segment archived", "segment", segment, "path", path, "rows", rows)
	}
	return archived, nil
}

// ArchivePath returns the archive file of a segment.
func (m *Manager) ArchivePath(segment string) string {
	return filepath.Join(m.config.ArchiveDir, segment+".parquet")
}

func (m *Manager) recordArchive(archived []ArchivedSegment) {
	m.smu.Lock()
	defer m.smu.Unlock()
	for _, a := range archived {
		m.stats.SegmentsArchived++
		m.stats.BytesArchived += a.Bytes
	}
}

func (m *Manager) recordError() {
	m.smu.Lock()
	m.stats.Errors++
	m.smu.Unlock()
}

// =============================================================================
// Daily worker
// =============================================================================

// NextRun returns the first RunHour boundary strictly after now.
func (m *Manager) NextRun(now time.Time) time.Time {
	local := now.In(m.config.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), m.config.RunHour, 0, 0, 0, m.config.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start starts the daily cleanup worker.
func (m *Manager) Start() error {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	if m.stopped {
		return errors.ErrAgentStopped
	}
	if m.started {
		return errors.ErrAgentRunning
	}
	m.started = true

	m.wg.Add(1)
	go m.loop()

	log.Info("retention worker started", "keep", m.config.Keep, "run_hour", m.config.RunHour)
	return nil
}

// Stop stops the worker and waits for a running cleanup, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) {
	m.lmu.Lock()
	if m.stopped || !m.started {
		m.stopped = true
		m.lmu.Unlock()
		return
	}
	m.stopped = true
	close(m.shutdown)
	m.lmu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("retention worker stopped")
	case <-ctx.Done():
		log.Warn("retention worker stop timed out")
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()

	for {
		now := m.config.Clock()
		next := m.NextRun(now)

		m.smu.Lock()
		m.stats.NextRunTime = next
		m.smu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-m.shutdown:
			timer.Stop()
			return
		case <-timer.C:
		}

		m.runScheduled()
	}
}

func (m *Manager) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.RunTimeout)
	defer cancel()

	// Stop cancels a running cleanup.
	go func() {
		select {
		case <-m.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := m.RunCleanup(ctx, m.config.Clock())
	if err != nil {
		log.Error("scheduled retention failed", "error", err)
		return
	}
	log.Info("scheduled retention done",
		"cutoff", result.Cutoff,
		"segments_dropped", len(result.DroppedSegments),
		"archived", len(result.Archived))
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.smu.RLock()
	defer m.smu.RUnlock()
	return m.stats
}

// =============================================================================
// Archive usage
// =============================================================================

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
	Files     []string
}

// ArchiveUsage returns the Parquet files in the archive directory, oldest first.
func (m *Manager) ArchiveUsage() (DiskUsage, error) {
	var usage DiskUsage
	if m.config.ArchiveDir == "" {
		return usage, nil
	}

	entries, err := os.ReadDir(m.config.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return usage, nil
		}
		return usage, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".parquet" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		usage.FileCount++
		usage.TotalSize += info.Size()
		usage.Files = append(usage.Files, entry.Name())
	}

	// Segment names sort chronologically.
	sort.Strings(usage.Files)
	return usage, nil
}

// FormatBytes formats bytes as human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
