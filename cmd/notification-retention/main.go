// Command notification-retention deletes read notifications older than a
// cutoff. It runs the same sweep the server schedules, for operators who
// disable the in-process job or want a one-off dry run.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/realtydesk/internal/adapter/postgres"
	"github.com/pscheid92/realtydesk/internal/app"
	"github.com/pscheid92/realtydesk/internal/platform/logging"
	"github.com/spf13/pflag"
)

const defaultRetention = 90 * 24 * time.Hour

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Retention sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		databaseURL string
		olderThan   time.Duration
		dryRun      bool
		verbose     bool
	)

	flagSet := pflag.NewFlagSet("notification-retention", pflag.ContinueOnError)
	flagSet.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL (or set DATABASE_URL)")
	flagSet.DurationVar(&olderThan, "older-than", defaultRetention, "delete read notifications read before now minus this duration")
	flagSet.BoolVar(&dryRun, "dry-run", false, "count matching notifications without deleting them")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", extra[0])
	}
	if databaseURL == "" {
		return errors.New("database URL required (--database-url or DATABASE_URL)")
	}
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, databaseURL, postgres.PoolOptions{
		ApplicationName: "realtydesk-notification-retention",
		MaxConns:        2,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	start := time.Now()
	retention := app.NewNotificationRetention(postgres.NewNotificationRepo(pool), olderThan, 0, clockwork.NewRealClock())
	n, err := retention.Sweep(ctx, dryRun)
	if err != nil {
		return err
	}

	slog.Info("Retention sweep complete",
		"dry_run", dryRun, "older_than", olderThan, "matched", n, "duration", time.Since(start))
	return nil
}
