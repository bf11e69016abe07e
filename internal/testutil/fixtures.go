package testutil

import (
	"fmt"
	"time"

	"github.com/xtxerr/procrank/internal/types"
)

// SampleSeries builds n consecutive one-second samples of one pid with a
// constant cpu% and working set. Cumulative counters grow by the given
// per-tick increments.
func SampleSeries(pid int32, name, path string, start time.Time, n int,
	cpuPercent float64, workingSet uint64, cpuPerTick time.Duration, diskPerTick uint64,
) []types.ProcessSample {
	out := make([]types.ProcessSample, n)
	for i := range out {
		out[i] = types.ProcessSample{
			PID:                      pid,
			Name:                     name,
			Path:                     path,
			Timestamp:                start.Add(time.Duration(i) * time.Second),
			CPUPercent:               cpuPercent,
			WorkingSetBytes:          workingSet,
			CumulativeCPUTime:        time.Duration(i) * cpuPerTick,
			CumulativeDiskReadBytes:  uint64(i) * diskPerTick,
			CumulativeDiskWriteBytes: uint64(i) * diskPerTick / 2,
		}
	}
	return out
}

// Item builds an AggregatedItem for identity "p<i>" with the given metrics.
func Item(i int, cpu float64, mem, disk uint64) types.AggregatedItem {
	return types.AggregatedItem{
		Identity:       types.Identity{Name: fmt.Sprintf("p%d", i), Path: fmt.Sprintf("/bin/p%d", i)},
		PID:            int32(1000 + i),
		PIDCount:       1,
		Samples:        60,
		CPUAvgPercent:  cpu,
		CPUPeakPercent: cpu,
		CPUTimeTotalMs: cpu * 600,
		MemAvgBytes:    mem,
		DiskReadTotal:  disk,
		DiskTotal:      disk,
	}
}

// Report builds a report of n items where item i has cpu=i, mem=n-i and
// disk=i*7 mod n, so each dimension has a different leader.
func Report(ts time.Time, n int) types.AggregatedReport {
	items := make([]types.AggregatedItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, Item(i, float64(i%100), uint64(n-i)<<20, uint64((i*7)%n)<<10))
	}
	return types.AggregatedReport{Timestamp: ts, Items: items, Total: n}
}
