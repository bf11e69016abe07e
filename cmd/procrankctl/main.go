// procrankctl runs query and maintenance commands against a procrank
// database. With no command and a terminal on stdin it starts the
// interactive shell.
//
//	procrankctl -db /var/lib/procrank/procrank.duckdb leaderboard 2026-10-01 2026-10-19
//	procrankctl prune 2026-07-01
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/xtxerr/procrank/internal/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/shell"
	"github.com/xtxerr/procrank/internal/storage/query"
	"github.com/xtxerr/procrank/internal/storage/retention"
	"github.com/xtxerr/procrank/internal/store"
)

func main() {
	cfgPath := flag.String("config", "/etc/procrank/procrank.yaml", "config file path")
	dbPath := flag.String("db", "", "database file (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: procrankctl [flags] [command args...]\n\ncommands:\n")
		for _, c := range shell.Commands {
			fmt.Fprintf(flag.CommandLine.Output(), "  %-40s %s\n", c.Usage, c.Description)
		}
		fmt.Fprintf(flag.CommandLine.Output(), "\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "procrankctl: %v\n", err)
		os.Exit(2)
	}
	logging.Init(level, false)

	if err := run(*cfgPath, *dbPath, *dataDir, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "procrankctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, dbPath, dataDir string, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.DefaultConfig()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if dbPath != "" {
		cfg.Database = dbPath
	}

	loc, err := cfg.LoadLocation()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	st, err := store.New(store.Config{
		Path:               cfg.DatabasePath(),
		QueryTimeout:       cfg.Store.QueryTimeout,
		TopK:               cfg.Window.TopK,
		LeaderboardLimit:   cfg.Store.LeaderboardLimit,
		Location:           loc,
		ParquetCompression: cfg.Store.ParquetCompression,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	rm := retention.New(&retention.Config{
		Keep:       cfg.Retention.Keep,
		RunHour:    cfg.Retention.RunHour,
		ArchiveDir: cfg.Retention.ArchiveDir,
		Location:   loc,
	}, st)
	svc := query.New(st, query.WithPruner(rm.PruneStore))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e := shell.NewExecutor(svc, os.Stdout, shell.WithStats(func(w io.Writer) {
		s := svc.Stats()
		fmt.Fprintf(w, "queries=%d rows=%d invalid=%d errors=%d\n",
			s.QueriesExecuted, s.RowsReturned, s.ValidationErrors, s.Errors)
	}))

	if len(args) == 0 {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			flag.Usage()
			return errors.New("no command given")
		}
		shell.Run(ctx, e)
		return nil
	}

	err = e.Execute(ctx, strings.Join(args, " "))
	if errors.Is(err, shell.ErrExit) {
		return nil
	}
	return err
}
