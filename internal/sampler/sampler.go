// Package sampler takes one snapshot of every running process per tick and
// turns cumulative OS counters into per-tick rates.
//
// A Sampler keeps a small cache of the previous counters for every pid it
// has seen (ProcessState). The cache entry is created on first sight,
// refreshed every tick, and evicted on the first tick the pid is no longer
// enumerated, so memory stays bounded under heavy process churn.
package sampler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	defaults "github.com/xtxerr/procrank/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/types"
)

var log = logging.Component("sampler")

// processState is the per-pid baseline used for delta computation.
type processState struct {
	name string

	cpuTime time.Duration
	cpuAt   time.Time
	hasCPU  bool

	diskRead  uint64
	diskWrite uint64

	lastSampleTime time.Time
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithCores pins the core count instead of asking the source.
func WithCores(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.cores = n
		}
	}
}

// Sampler produces one ProcessSample per live process per Collect call.
type Sampler struct {
	source ProcessSource
	now    func() time.Time
	cores  int

	mu     sync.Mutex
	states map[int32]*processState
}

// New creates a Sampler reading from source.
func New(ctx context.Context, source ProcessSource, opts ...Option) *Sampler {
	s := &Sampler{
		source: source,
		now:    time.Now,
		states: make(map[int32]*processState),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cores == 0 {
		n, err := source.Cores(ctx)
		if err != nil || n <= 0 {
			n = runtime.NumCPU()
			log.Warn("core count unavailable, using runtime value", "cores", n, "error", err)
		}
		s.cores = n
	}

	return s
}

// Cores returns the core count used to normalize CPU percentages.
func (s *Sampler) Cores() int {
	return s.cores
}

// Tracked returns the number of pids with a cached baseline.
func (s *Sampler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Collect returns one sample per enumerable process, ordered by pid.
// Pid 0 is skipped. A process that cannot be read is omitted; Collect
// only fails when the process list itself is unavailable, in which case
// the cache is left untouched.
func (s *Sampler) Collect(ctx context.Context) ([]types.ProcessSample, error) {
	pids, err := s.source.Pids(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "collect")
	}
	now := s.now()

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int32]struct{}, len(pids))
	samples := make([]types.ProcessSample, 0, len(pids))

	for _, pid := range pids {
		if pid == 0 {
			continue
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}

		reading, err := s.source.Read(ctx, pid)
		if err != nil {
			// Exited between enumeration and read, or no access, is expected churn.
			if errors.IsTransientSampling(err) {
				log.Debug("process skipped", "pid", pid, "error", err)
			} else {
				log.Warn("process read failed", "pid", pid, "error", err)
			}
			continue
		}

		samples = append(samples, s.sampleLocked(pid, reading, now))
	}

	for pid := range s.states {
		if _, ok := seen[pid]; !ok {
			delete(s.states, pid)
		}
	}

	return samples, nil
}

// sampleLocked builds the sample for one reading and advances the pid's
// baseline. Unavailable cumulative counters repeat the last known value so
// window deltas stay meaningful.
func (s *Sampler) sampleLocked(pid int32, r ProcessReading, now time.Time) types.ProcessSample {
	st, ok := s.states[pid]
	if ok && st.name != r.Name {
		// Pid reused by a different program.
		ok = false
	}
	if !ok {
		st = &processState{name: r.Name}
		s.states[pid] = st
	}

	sample := types.ProcessSample{
		PID:       pid,
		Name:      r.Name,
		Path:      defaults.UnknownPath,
		Timestamp: now,
	}
	if r.Path.OK() {
		sample.Path = r.Path.Value
	}

	if r.CPUTime.OK() {
		cpuNow := r.CPUTime.Value
		if st.hasCPU {
			sample.CPUPercent = cpuPercent(cpuNow-st.cpuTime, now.Sub(st.cpuAt), s.cores)
		}
		st.cpuTime = cpuNow
		st.cpuAt = now
		st.hasCPU = true
	}
	sample.CumulativeCPUTime = st.cpuTime

	if r.WorkingSet.OK() {
		sample.WorkingSetBytes = r.WorkingSet.Value
	}

	if r.Disk.OK() {
		st.diskRead = r.Disk.Value.ReadBytes
		st.diskWrite = r.Disk.Value.WriteBytes
	}
	sample.CumulativeDiskReadBytes = st.diskRead
	sample.CumulativeDiskWriteBytes = st.diskWrite

	st.lastSampleTime = now
	return sample
}

// cpuPercent converts a CPU-time delta over a wall-clock delta into a share
// of the whole machine, clamped to [0, 100].
func cpuPercent(cpuDelta, wall time.Duration, cores int) float64 {
	if cpuDelta <= 0 || wall <= 0 || cores <= 0 {
		return 0
	}
	pct := cpuDelta.Seconds() / wall.Seconds() / float64(cores) * 100
	return clamp(pct, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
