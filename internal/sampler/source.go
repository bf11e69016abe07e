package sampler

import (
	"context"
	"time"
)

// Field is the result of one best-effort OS read. A failed read leaves
// Value at its zero value and records the cause in Err.
type Field[T any] struct {
	Value T
	Err   error
}

// OK reports whether the read succeeded.
func (f Field[T]) OK() bool {
	return f.Err == nil
}

// Value wraps a successful read.
func Value[T any](v T) Field[T] {
	return Field[T]{Value: v}
}

// Failed wraps a failed read.
func Failed[T any](err error) Field[T] {
	return Field[T]{Err: err}
}

// DiskCounters are the cumulative bytes a process has read and written.
type DiskCounters struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// ProcessReading is everything a ProcessSource could learn about one
// process in one pass. Every field except Name is optional.
type ProcessReading struct {
	Name       string
	Path       Field[string]
	CPUTime    Field[time.Duration]
	WorkingSet Field[uint64]
	Disk       Field[DiskCounters]
}

// ProcessSource is the OS capability the Sampler reads from.
type ProcessSource interface {
	// Pids enumerates the currently running processes.
	Pids(ctx context.Context) ([]int32, error)

	// Read returns one reading for pid. An error means the process as a
	// whole could not be read (exited, access denied) and is omitted.
	Read(ctx context.Context, pid int32) (ProcessReading, error)

	// Cores returns the number of logical CPUs.
	Cores(ctx context.Context) (int, error)
}
