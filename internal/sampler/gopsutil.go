package sampler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/xtxerr/procrank/internal/errors"
)

// HostSource reads processes of the local host through gopsutil.
type HostSource struct{}

// NewHostSource returns a ProcessSource backed by the local OS.
func NewHostSource() *HostSource {
	return &HostSource{}
}

// Pids implements ProcessSource.
func (HostSource) Pids(ctx context.Context) ([]int32, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNoEnumeration, err)
	}
	return pids, nil
}

// Read implements ProcessSource.
func (HostSource) Read(ctx context.Context, pid int32) (ProcessReading, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessReading{}, classify(pid, err)
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ProcessReading{}, classify(pid, err)
	}

	reading := ProcessReading{Name: name}

	if exe, err := p.ExeWithContext(ctx); err != nil || exe == "" {
		reading.Path = Failed[string](classify(pid, err))
	} else {
		reading.Path = Value(exe)
	}

	if times, err := p.TimesWithContext(ctx); err != nil {
		reading.CPUTime = Failed[time.Duration](classify(pid, err))
	} else {
		secs := times.User + times.System
		reading.CPUTime = Value(time.Duration(secs * float64(time.Second)))
	}

	if mem, err := p.MemoryInfoWithContext(ctx); err != nil {
		reading.WorkingSet = Failed[uint64](classify(pid, err))
	} else {
		reading.WorkingSet = Value(mem.RSS)
	}

	if io, err := p.IOCountersWithContext(ctx); err != nil {
		reading.Disk = Failed[DiskCounters](classify(pid, err))
	} else {
		reading.Disk = Value(DiskCounters{ReadBytes: io.ReadBytes, WriteBytes: io.WriteBytes})
	}

	return reading, nil
}

// Cores implements ProcessSource.
func (HostSource) Cores(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}

// classify maps gopsutil and OS errors onto the sampling taxonomy.
func classify(pid int32, err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("pid %d: empty value: %w", pid, errors.ErrNotFound)
	case errors.Is(err, process.ErrorProcessNotRunning), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("pid %d: %w", pid, errors.ErrProcessGone)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("pid %d: %w", pid, errors.ErrAccessDenied)
	default:
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}
