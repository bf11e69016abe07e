package types

import "time"

// MergedPID is stored in place of a pid when an item sums several processes.
const MergedPID int32 = 0

// Identity is the (name, path) pair used to merge processes into one
// logical application.
type Identity struct {
	Name string
	Path string
}

// String returns "name (path)".
func (i Identity) String() string {
	return i.Name + " (" + i.Path + ")"
}

// AggregatedItem is the reduced footprint of one identity over one window.
type AggregatedItem struct {
	Identity

	// PID is the single contributing pid, or MergedPID when PIDCount > 1.
	PID      int32
	PIDCount int
	Samples  int

	CPUAvgPercent  float64
	CPUPeakPercent float64
	CPUTimeTotalMs float64
	MemAvgBytes    uint64
	DiskReadTotal  uint64
	DiskWriteTotal uint64
	DiskTotal      uint64

	// Placeholders, never computed.
	NetworkBytes uint64
	GPUPercent   float64

	// Dense ranks over the full merged set, 1 = highest.
	CPURank int
	MemRank int
	IORank  int
}

// AggregatedReport is the union of the per-dimension top-K items of one window.
// It is immutable once produced.
type AggregatedReport struct {
	Timestamp time.Time
	Items     []AggregatedItem

	// Total is the size of the merged set the ranks were computed over.
	Total int
}

// Len returns the number of items in the report.
func (r *AggregatedReport) Len() int {
	return len(r.Items)
}

// Find returns the item for the given identity.
func (r *AggregatedReport) Find(id Identity) (AggregatedItem, bool) {
	for _, item := range r.Items {
		if item.Identity == id {
			return item, true
		}
	}
	return AggregatedItem{}, false
}
