// Package shell implements the procrank query commands shared by the
// interactive shell of the daemon and the procrankctl tool.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/storage/retention"
	"github.com/xtxerr/procrank/internal/store"
	"github.com/xtxerr/procrank/internal/types"
	"github.com/xtxerr/procrank/internal/validation"
)

// ErrExit is returned by Execute for the exit command.
var ErrExit = errors.New("exit")

// Querier is the validated query surface the commands run against.
type Querier interface {
	Location() *time.Location
	ListTimestamps(ctx context.Context, day, hour string) ([]time.Time, error)
	GetReportAt(ctx context.Context, timestamp string) (types.AggregatedReport, error)
	Leaderboard(ctx context.Context, startDay, endDay string) ([]types.LeaderboardEntry, error)
	ExportCSV(ctx context.Context, w io.Writer, startDay, endDay string) (int64, error)
	ExportParquet(ctx context.Context, path, startDay, endDay string) (int64, error)
	ReadParquet(ctx context.Context, path, limit string) ([]types.MetricRow, int64, error)
	Prune(ctx context.Context, cutoffDay string) (store.RetentionResult, error)
	Rebuild(ctx context.Context) (store.RebuildResult, error)
	Segments(ctx context.Context) ([]string, error)
}

// Command is one shell command.
type Command struct {
	Name        string
	Usage       string
	Description string
	MinArgs     int
	MaxArgs     int
	run         func(e *Executor, ctx context.Context, args []string) error
}

// Commands lists every command in help order.
var Commands []Command

func init() {
	Commands = []Command{
		{"timestamps", "timestamps <day> [hour]", "list flush timestamps of a day", 1, 2, (*Executor).timestamps},
		{"report", "report <timestamp>", "show the report flushed at a timestamp", 1, 2, (*Executor).report},
		{"leaderboard", "leaderboard <start-day> <end-day>", "rank identities over a day range", 2, 2, (*Executor).leaderboard},
		{"export", "export <start-day> <end-day> [file]", "export raw rows as CSV", 2, 3, (*Executor).exportCSV},
		{"parquet", "parquet <start-day> <end-day> <file>", "export raw rows as Parquet", 3, 3, (*Executor).exportParquet},
		{"inspect", "inspect <file> [limit]", "show the first rows of a Parquet export or archive", 1, 2, (*Executor).inspect},
		{"segments", "segments", "list monthly segments", 0, 0, (*Executor).segments},
		{"prune", "prune <cutoff-day>", "drop data before a day", 1, 1, (*Executor).prune},
		{"rebuild", "rebuild", "backfill an empty leaderboard", 0, 0, (*Executor).rebuild},
		{"stats", "stats", "show agent statistics", 0, 0, (*Executor).stats},
		{"help", "help", "show this help", 0, 0, (*Executor).help},
		{"exit", "exit", "leave the shell", 0, 0, (*Executor).exit},
	}
}

func lookup(name string) (Command, bool) {
	for _, c := range Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// Option configures an Executor.
type Option func(*Executor)

// WithStats sets the printer used by the stats command.
func WithStats(fn func(w io.Writer)) Option {
	return func(e *Executor) { e.statsFn = fn }
}

// Executor parses and runs command lines.
type Executor struct {
	q       Querier
	out     io.Writer
	statsFn func(w io.Writer)
	exited  bool
}

// NewExecutor creates an executor writing to out.
func NewExecutor(q Querier, out io.Writer, opts ...Option) *Executor {
	e := &Executor{q: q, out: out}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exited reports whether the exit command has run.
func (e *Executor) Exited() bool {
	return e.exited
}

// Execute runs one command line. Empty lines are ignored.
func (e *Executor) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == "quit" {
		name = "exit"
	}

	cmd, ok := lookup(name)
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	// A timestamp may be typed as "day time".
	if cmd.Name == "report" && len(args) == 2 {
		args = []string{args[0] + " " + args[1]}
	}
	if len(args) < cmd.MinArgs || len(args) > cmd.MaxArgs {
		return fmt.Errorf("usage: %s", cmd.Usage)
	}
	return cmd.run(e, ctx, args)
}

// =============================================================================
// Commands
// =============================================================================

func (e *Executor) timestamps(ctx context.Context, args []string) error {
	hour := ""
	if len(args) > 1 {
		hour = args[1]
	}
	list, err := e.q.ListTimestamps(ctx, args[0], hour)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(e.out, "no reports")
		return nil
	}
	for _, ts := range list {
		fmt.Fprintln(e.out, ts.In(e.q.Location()).Format(validation.TimestampLayout))
	}
	return nil
}

func (e *Executor) report(ctx context.Context, args []string) error {
	report, err := e.q.GetReportAt(ctx, args[0])
	if err != nil {
		return err
	}
	if report.Len() == 0 {
		fmt.Fprintf(e.out, "no report at %s\n", args[0])
		return nil
	}

	items := append([]types.AggregatedItem(nil), report.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].CPURank < items[j].CPURank })

	fmt.Fprintf(e.out, "report %s (%d items)\n",
		report.Timestamp.In(e.q.Location()).Format(validation.TimestampLayout), report.Len())

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CPU#\tMEM#\tIO#\tNAME\tPID\tCPU%\tMEMORY\tDISK\tPATH")
	for _, it := range items {
		pid := fmt.Sprint(it.PID)
		if it.PID == types.MergedPID {
			pid = "merged"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			it.CPURank, it.MemRank, it.IORank, it.Name, pid, it.CPUAvgPercent,
			retention.FormatBytes(int64(it.MemAvgBytes)),
			retention.FormatBytes(int64(it.DiskTotal)), it.Path)
	}
	return tw.Flush()
}

func (e *Executor) leaderboard(ctx context.Context, args []string) error {
	entries, err := e.q.Leaderboard(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(e.out, "leaderboard is empty for this range")
		return nil
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNAME\tCPU\tMEMORY\tIO\tTOTAL\tPATH")
	for _, en := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
			en.Rank, en.Name, en.CPUCount, en.MemoryCount, en.IOCount, en.Total, en.Path)
	}
	return tw.Flush()
}

func (e *Executor) exportCSV(ctx context.Context, args []string) error {
	if len(args) == 2 {
		_, err := e.q.ExportCSV(ctx, e.out, args[0], args[1])
		return err
	}

	f, err := os.Create(args[2])
	if err != nil {
		return fmt.Errorf("create %s: %w", args[2], err)
	}
	n, err := e.q.ExportCSV(ctx, f, args[0], args[1])
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(args[2])
		return err
	}
	fmt.Fprintf(e.out, "exported %d rows to %s\n", n, args[2])
	return nil
}

func (e *Executor) exportParquet(ctx context.Context, args []string) error {
	n, err := e.q.ExportParquet(ctx, args[2], args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "exported %d rows to %s\n", n, args[2])
	return nil
}

func (e *Executor) inspect(ctx context.Context, args []string) error {
	limit := ""
	if len(args) > 1 {
		limit = args[1]
	}
	rows, total, err := e.q.ReadParquet(ctx, args[0], limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s: %d rows, showing %d\n", args[0], total, len(rows))
	if len(rows) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tNAME\tPID\tCPU%\tMEMORY\tDISK\tPATH")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%s\t%s\t%s\n",
			r.Timestamp.In(e.q.Location()).Format(validation.TimestampLayout),
			r.Name, r.PID, r.CPUUsagePercent,
			retention.FormatBytes(r.MemoryUsageBytes),
			retention.FormatBytes(r.DiskTotal()), r.Path)
	}
	return tw.Flush()
}

func (e *Executor) segments(ctx context.Context, args []string) error {
	segments, err := e.q.Segments(ctx)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		fmt.Fprintln(e.out, "no segments")
	}
	for _, s := range segments {
		fmt.Fprintln(e.out, s)
	}
	return nil
}

func (e *Executor) prune(ctx context.Context, args []string) error {
	res, err := e.q.Prune(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "dropped %d segments, %d leaderboard rows, %d legacy rows\n",
		len(res.DroppedSegments), res.LeaderboardDeleted, res.LegacyDeleted)
	for _, s := range res.DroppedSegments {
		fmt.Fprintf(e.out, "  %s\n", s)
	}
	return nil
}

func (e *Executor) rebuild(ctx context.Context, args []string) error {
	res, err := e.q.Rebuild(ctx)
	if err != nil {
		return err
	}
	if !res.Rebuilt {
		fmt.Fprintln(e.out, "leaderboard already populated, nothing to do")
		return nil
	}
	fmt.Fprintf(e.out, "leaderboard rebuilt: %d tables, %d timestamps, %d counters\n",
		res.Tables, res.Timestamps, res.Keys)
	return nil
}

func (e *Executor) stats(ctx context.Context, args []string) error {
	if e.statsFn == nil {
		fmt.Fprintln(e.out, "no statistics available")
		return nil
	}
	e.statsFn(e.out)
	return nil
}

func (e *Executor) help(ctx context.Context, args []string) error {
	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	for _, c := range Commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Usage, c.Description)
	}
	fmt.Fprintln(tw, "\ndays are YYYY-MM-DD, timestamps YYYY-MM-DD HH:MM:SS")
	return tw.Flush()
}

func (e *Executor) exit(ctx context.Context, args []string) error {
	e.exited = true
	return ErrExit
}
