package window

import (
	"sort"
	"time"

	"github.com/xtxerr/procrank/internal/types"
)

// Reduce turns one drained window into a report:
//
//  1. one item per pid (AggregatePID), pids visited in ascending order
//  2. merge items sharing a (name, path) identity (MergeByIdentity)
//  3. stamp dense ranks over the full merged set (AssignRanks)
//  4. keep the union of the top k per dimension (SelectTop)
func Reduce(ts time.Time, window map[int32][]types.ProcessSample, k int) types.AggregatedReport {
	pids := make([]int32, 0, len(window))
	for pid, samples := range window {
		if len(samples) > 0 {
			pids = append(pids, pid)
		}
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	perPID := make([]types.AggregatedItem, 0, len(pids))
	for _, pid := range pids {
		perPID = append(perPID, AggregatePID(window[pid]))
	}

	merged := MergeByIdentity(perPID)
	AssignRanks(merged)

	return types.AggregatedReport{
		Timestamp: ts,
		Items:     SelectTop(merged, k),
		Total:     len(merged),
	}
}

// AggregatePID reduces the ordered samples of one pid. The identity is
// taken from the first sample. Counter deltas are last minus first,
// clamped to zero.
func AggregatePID(samples []types.ProcessSample) types.AggregatedItem {
	if len(samples) == 0 {
		return types.AggregatedItem{}
	}

	first := samples[0]
	last := samples[len(samples)-1]

	item := types.AggregatedItem{
		Identity: first.Identity(),
		PID:      first.PID,
		PIDCount: 1,
		Samples:  len(samples),
	}

	var cpuSum float64
	var memSum uint64
	for _, s := range samples {
		cpuSum += s.CPUPercent
		memSum += s.WorkingSetBytes
		if s.CPUPercent > item.CPUPeakPercent {
			item.CPUPeakPercent = s.CPUPercent
		}
	}
	n := len(samples)
	item.CPUAvgPercent = clampPercent(cpuSum / float64(n))
	item.CPUPeakPercent = clampPercent(item.CPUPeakPercent)
	item.MemAvgBytes = memSum / uint64(n)

	if d := last.CumulativeCPUTime - first.CumulativeCPUTime; d > 0 {
		item.CPUTimeTotalMs = float64(d) / float64(time.Millisecond)
	}
	item.DiskReadTotal = counterDelta(first.CumulativeDiskReadBytes, last.CumulativeDiskReadBytes)
	item.DiskWriteTotal = counterDelta(first.CumulativeDiskWriteBytes, last.CumulativeDiskWriteBytes)
	item.DiskTotal = item.DiskReadTotal + item.DiskWriteTotal

	return item
}

// MergeByIdentity sums items that share an identity. The result keeps the
// order in which identities first appear. Contributions are summed in pid
// order so totals do not depend on input order.
func MergeByIdentity(items []types.AggregatedItem) []types.AggregatedItem {
	order := make([]types.Identity, 0, len(items))
	groups := make(map[types.Identity][]types.AggregatedItem, len(items))

	for _, item := range items {
		if _, ok := groups[item.Identity]; !ok {
			order = append(order, item.Identity)
		}
		groups[item.Identity] = append(groups[item.Identity], item)
	}

	merged := make([]types.AggregatedItem, 0, len(order))
	for _, id := range order {
		merged = append(merged, mergeGroup(id, groups[id]))
	}
	return merged
}

func mergeGroup(id types.Identity, group []types.AggregatedItem) types.AggregatedItem {
	if len(group) == 1 {
		return group[0]
	}

	sort.SliceStable(group, func(i, j int) bool { return group[i].PID < group[j].PID })

	out := types.AggregatedItem{Identity: id, PID: types.MergedPID}
	for _, item := range group {
		out.PIDCount += item.PIDCount
		if item.Samples > out.Samples {
			out.Samples = item.Samples
		}
		out.CPUAvgPercent += item.CPUAvgPercent
		out.CPUPeakPercent += item.CPUPeakPercent
		out.CPUTimeTotalMs += item.CPUTimeTotalMs
		out.MemAvgBytes += item.MemAvgBytes
		out.DiskReadTotal += item.DiskReadTotal
		out.DiskWriteTotal += item.DiskWriteTotal
	}
	out.CPUAvgPercent = clampPercent(out.CPUAvgPercent)
	out.CPUPeakPercent = clampPercent(out.CPUPeakPercent)
	out.DiskTotal = out.DiskReadTotal + out.DiskWriteTotal
	return out
}

// dimension selects the ranked value of an item.
type dimension func(*types.AggregatedItem) float64

var (
	byCPU  dimension = func(i *types.AggregatedItem) float64 { return i.CPUAvgPercent }
	byMem  dimension = func(i *types.AggregatedItem) float64 { return float64(i.MemAvgBytes) }
	byDisk dimension = func(i *types.AggregatedItem) float64 { return float64(i.DiskTotal) }
)

// AssignRanks stamps CPURank, MemRank and IORank on every item. Each rank
// is the 1-based position in a stable descending sort, so every dimension
// is a permutation of 1..len(items) and ties keep input order.
func AssignRanks(items []types.AggregatedItem) {
	for pos, idx := range rankOrder(items, byCPU) {
		items[idx].CPURank = pos + 1
	}
	for pos, idx := range rankOrder(items, byMem) {
		items[idx].MemRank = pos + 1
	}
	for pos, idx := range rankOrder(items, byDisk) {
		items[idx].IORank = pos + 1
	}
}

func rankOrder(items []types.AggregatedItem, value dimension) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return value(&items[idx[a]]) > value(&items[idx[b]])
	})
	return idx
}

// SelectTop returns every item ranked within the top k of at least one
// dimension. Items appear once, ordered by CPU rank.
func SelectTop(items []types.AggregatedItem, k int) []types.AggregatedItem {
	if k <= 0 {
		return nil
	}

	out := make([]types.AggregatedItem, 0, min(len(items), 3*k))
	seen := make(map[types.Identity]struct{}, 3*k)
	for _, item := range items {
		if item.CPURank > k && item.MemRank > k && item.IORank > k {
			continue
		}
		if _, dup := seen[item.Identity]; dup {
			continue
		}
		seen[item.Identity] = struct{}{}
		out = append(out, item)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CPURank < out[j].CPURank })
	return out
}

func counterDelta(first, last uint64) uint64 {
	if last < first {
		return 0
	}
	return last - first
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
