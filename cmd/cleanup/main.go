// Command cleanup is an operator CLI that purges old terminal test sessions
// (and their cascaded results) from the repository (spec.md §9 "Cleanup
// policy"). It is a thin external collaborator over storage.Repository,
// not part of the session engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mfgtest/orchestrator/internal/storage"
)

const defaultRetentionDays = 90

func main() {
	var (
		retentionDays = flag.Int("retention-days", defaultRetentionDays, "delete terminal sessions older than this many days")
		dryRun        = flag.Bool("dry-run", true, "count matching sessions without deleting them")
		apply         = flag.Bool("apply", false, "actually delete; overrides -dry-run")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *retentionDays < 1 {
		logger.Error("retention-days must be positive", slog.Int("retention_days", *retentionDays))
		os.Exit(1)
	}

	dbCfg := storage.LoadConfig()
	if err := dbCfg.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	repo := storage.NewPostgresRepository(conn, logger)

	cutoff := time.Now().Add(-time.Duration(*retentionDays) * 24 * time.Hour)
	effectiveDryRun := *dryRun && !*apply

	count, err := repo.DeleteSessionsBefore(context.Background(), cutoff, effectiveDryRun)
	if err != nil {
		logger.Error("cleanup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if effectiveDryRun {
		fmt.Printf("dry run: %d session(s) older than %s would be deleted\n", count, cutoff.Format(time.RFC3339))

		return
	}

	fmt.Printf("deleted %d session(s) older than %s\n", count, cutoff.Format(time.RFC3339))
}
