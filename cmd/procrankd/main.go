// procrankd is the per-process resource ranking agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/xtxerr/procrank/internal/agent"
	"github.com/xtxerr/procrank/internal/config"
	"github.com/xtxerr/procrank/internal/errors"
	"github.com/xtxerr/procrank/internal/logging"
	"github.com/xtxerr/procrank/internal/shell"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "/etc/procrank/procrank.yaml", "config file path")
	dbPath := flag.String("db", "", "database file (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	withShell := flag.Bool("shell", false, "run the interactive query shell (stdin must be a terminal)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	if err := run(*cfgPath, *dbPath, *dataDir, *logLevel, *withShell); err != nil {
		fmt.Fprintf(os.Stderr, "procrankd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, dbPath, dataDir, logLevel string, withShell bool) error {
	// Load config
	cfg, err := config.Load(cfgPath)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil {
		if !missing {
			return err
		}
		cfg = config.DefaultConfig()
	}

	// CLI overrides
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if dbPath != "" {
		cfg.Database = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.Logging.JSON)

	log := logging.Component("main")
	log.Info("procrankd starting", "version", Version)
	if missing {
		log.Info("no config file found, using defaults", "path", cfgPath)
	}

	// =========================================================================
	// Build and start the agent
	// =========================================================================

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := agent.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		a.Stop(context.Background())
		return fmt.Errorf("start agent: %w", err)
	}

	// =========================================================================
	// Run until signalled (or the shell exits)
	// =========================================================================

	if withShell {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			log.Warn("stdin is not a terminal, shell disabled")
			<-ctx.Done()
		} else {
			e := shell.NewExecutor(a.Query(), os.Stdout, shell.WithStats(a.PrintStats))
			shell.Run(ctx, e)
		}
	} else {
		<-ctx.Done()
	}

	// =========================================================================
	// Graceful shutdown
	// =========================================================================

	log.Info("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := a.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop agent: %w", err)
	}
	return nil
}
