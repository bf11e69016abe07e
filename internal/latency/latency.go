// Package latency tracks duration distributions of the agent's hot paths
// (process collection, window reduction) using DDSketch.
package latency

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of the quantile estimates (1%).
const DefaultAccuracy = 0.01

// Summary is a point-in-time view of a Tracker. Durations are in
// milliseconds.
type Summary struct {
	Count int64
	Min   float64
	Max   float64
	Avg   float64
	P50   float64
	P90   float64
	P99   float64
}

// Tracker maintains running statistics and a DDSketch of observed
// durations. The zero value is not usable; create one with New.
type Tracker struct {
	mu sync.Mutex

	accuracy float64
	count    int64
	sum      float64
	min      float64
	max      float64
	sketch   *ddsketch.DDSketch
}

// New creates a Tracker with the default accuracy.
func New() *Tracker {
	return NewWithAccuracy(DefaultAccuracy)
}

// NewWithAccuracy creates a Tracker with a custom relative accuracy.
// An invalid accuracy falls back to DefaultAccuracy.
func NewWithAccuracy(accuracy float64) *Tracker {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultAccuracy
	}
	t := &Tracker{accuracy: accuracy}
	t.resetLocked()
	return t
}

// Observe records one duration.
func (t *Tracker) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	t.sum += ms
	if ms < t.min {
		t.min = ms
	}
	if ms > t.max {
		t.max = ms
	}
	if t.sketch != nil {
		// DDSketch rejects negatives only; ms is never negative here.
		_ = t.sketch.Add(ms)
	}
}

// Since records the time elapsed since start.
func (t *Tracker) Since(start time.Time) {
	t.Observe(time.Since(start))
}

// Count returns the number of observations.
func (t *Tracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Summary returns the current statistics.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{Count: t.count}
	if t.count == 0 {
		return s
	}

	s.Min = t.min
	s.Max = t.max
	s.Avg = t.sum / float64(t.count)

	if t.sketch != nil {
		s.P50, _ = t.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = t.sketch.GetValueAtQuantile(0.90)
		s.P99, _ = t.sketch.GetValueAtQuantile(0.99)
	}
	return s
}

// Merge folds other's observations into t.
func (t *Tracker) Merge(other *Tracker) {
	if other == nil || other == t {
		return
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if other.count == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.count += other.count
	t.sum += other.sum
	if other.min < t.min {
		t.min = other.min
	}
	if other.max > t.max {
		t.max = other.max
	}
	if t.sketch != nil && other.sketch != nil {
		_ = t.sketch.MergeWith(other.sketch)
	}
}

// Reset discards all observations.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.count = 0
	t.sum = 0
	t.min = math.MaxFloat64
	t.max = -math.MaxFloat64

	// DDSketch has no Clear method
	sketch, err := ddsketch.NewDefaultDDSketch(t.accuracy)
	if err == nil {
		t.sketch = sketch
	}
}
