package agent

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/xtxerr/procrank/internal/latency"
	"github.com/xtxerr/procrank/internal/scheduler"
	"github.com/xtxerr/procrank/internal/storage/query"
	"github.com/xtxerr/procrank/internal/storage/retention"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/window"
)

// Stats is a snapshot of every component's counters.
type Stats struct {
	Cores        int
	TrackedPids  int
	ReportsSaved int64
	SaveErrors   int64
	Scheduler    scheduler.Stats
	Window       window.Stats
	Store        store.Stats
	Retention    retention.Stats
	Query        query.ServiceStats
}

// Stats returns agent statistics.
func (a *Agent) Stats() Stats {
	return Stats{
		Cores:        a.sampler.Cores(),
		TrackedPids:  a.sampler.Tracked(),
		ReportsSaved: a.recorded.Load(),
		SaveErrors:   a.saveErrors.Load(),
		Scheduler:    a.scheduler.Stats(),
		Window:       a.aggregator.Stats(),
		Store:        a.store.Stats(),
		Retention:    a.retention.Stats(),
		Query:        a.query.Stats(),
	}
}

// PrintStats writes a human readable summary, used by the shell stats
// command.
func (a *Agent) PrintStats(w io.Writer) {
	s := a.Stats()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "sampler\tcores=%d tracked=%d\n", s.Cores, s.TrackedPids)
	fmt.Fprintf(tw, "scheduler\tticks=%d collect_failures=%d panics=%d last_samples=%d\n",
		s.Scheduler.Ticks, s.Scheduler.CollectFailures, s.Scheduler.Panics, s.Scheduler.LastSamples)
	fmt.Fprintf(tw, "  collect\t%s\n", formatLatency(s.Scheduler.Collect))
	fmt.Fprintf(tw, "window\tflushes=%d reports=%d dropped=%d buffered_pids=%d last_size=%d/%d\n",
		s.Window.Flushes, s.Window.Reports, s.Window.DroppedWindows, s.Window.BufferedPids,
		s.Window.LastReportSize, s.Window.LastMergedSize)
	fmt.Fprintf(tw, "  reduce\t%s\n", formatLatency(s.Window.Reduce))
	fmt.Fprintf(tw, "store\tsaved=%d failures=%d rows=%d upserts=%d rebuilds=%d\n",
		s.Store.ReportsSaved, s.Store.SaveFailures, s.Store.RowsWritten,
		s.Store.LeaderboardUpserts, s.Store.Rebuilds)
	fmt.Fprintf(tw, "  save\t%s\n", formatLatency(s.Store.Save))
	fmt.Fprintf(tw, "retention\truns=%d dropped=%d archived=%d (%s) errors=%d next=%s\n",
		s.Retention.Runs, s.Retention.SegmentsDropped, s.Retention.SegmentsArchived,
		retention.FormatBytes(s.Retention.BytesArchived), s.Retention.Errors,
		formatTime(s.Retention.NextRunTime, a.loc))
	fmt.Fprintf(tw, "queries\texecuted=%d rows=%d invalid=%d errors=%d\n",
		s.Query.QueriesExecuted, s.Query.RowsReturned, s.Query.ValidationErrors, s.Query.Errors)
	fmt.Fprintf(tw, "recorder\tsaved=%d dropped=%d\n", s.ReportsSaved, s.SaveErrors)

	tw.Flush()
}

func formatLatency(s latency.Summary) string {
	if s.Count == 0 {
		return "n=0"
	}
	return fmt.Sprintf("n=%d p50=%.1fms p90=%.1fms p99=%.1fms max=%.1fms", s.Count, s.P50, s.P90, s.P99, s.Max)
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(time.DateTime)
}
