package window

import (
	"sync"

	"github.com/xtxerr/procrank/internal/types"
)

// Buffer accumulates the samples of one window keyed by pid.
//
// Appends and the drain at the window boundary are serialized by one mutex.
// Drain swaps the whole map out, so an append racing the boundary lands
// either in the drained window or in the next one, never in both.
type Buffer struct {
	mu      sync.Mutex
	samples map[int32][]types.ProcessSample
	count   int
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{samples: make(map[int32][]types.ProcessSample)}
}

// Append adds one tick's samples.
func (b *Buffer) Append(samples []types.ProcessSample) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range samples {
		b.samples[s.PID] = append(b.samples[s.PID], s)
	}
	b.count += len(samples)
}

// Drain returns the accumulated samples and leaves the buffer empty.
// The caller owns the returned map.
func (b *Buffer) Drain() map[int32][]types.ProcessSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.samples
	b.samples = make(map[int32][]types.ProcessSample, len(out))
	b.count = 0
	return out
}

// Pids returns the number of distinct pids buffered.
func (b *Buffer) Pids() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Len returns the number of samples buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
