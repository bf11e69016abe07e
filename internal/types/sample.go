package types

import "time"

// ProcessSample is one process observed during one tick.
// CPU time and disk counters are cumulative since process start; CPUPercent
// is the rate derived from the previous tick.
type ProcessSample struct {
	// Identity
	PID  int32
	Name string
	Path string

	// Timestamp of the tick that produced this sample.
	Timestamp time.Time

	// Instantaneous values
	CPUPercent      float64 // 0..100, normalized by core count
	WorkingSetBytes uint64

	// Cumulative counters
	CumulativeCPUTime        time.Duration
	CumulativeDiskReadBytes  uint64
	CumulativeDiskWriteBytes uint64
}

// Identity returns the (name, path) identity of the sampled process.
func (s *ProcessSample) Identity() Identity {
	return Identity{Name: s.Name, Path: s.Path}
}
