package types

import "time"

// MetricRow is one persisted AggregatedItem in a monthly segment.
type MetricRow struct {
	Timestamp        time.Time
	PID              int32
	Name             string
	Path             string
	CPUUsagePercent  float64
	CPUTimeTotalMs   float64
	MemoryUsageBytes int64
	DiskReadBytes    int64
	DiskWriteBytes   int64
}

// DiskTotal returns read + write bytes.
func (r *MetricRow) DiskTotal() int64 {
	return r.DiskReadBytes + r.DiskWriteBytes
}

// LeaderboardEntry is one ranked identity over a day range.
type LeaderboardEntry struct {
	Rank        int
	Name        string
	Path        string
	CPUCount    int64
	MemoryCount int64
	IOCount     int64
	Total       int64
}
