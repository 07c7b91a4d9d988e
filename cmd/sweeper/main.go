// Command sweeper runs one retention sweep over the usage ledgers and exits.
//
//	sweeper --horizon 720h --archive local
//
// Flags override RETENTION_HORIZON and ARCHIVE_PROVIDER; everything else comes
// from the same environment as the server. --list-archives prints the keys of
// earlier archives instead of sweeping.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/pflag"

	"github.com/DukeRupert/gambit/internal"
	"github.com/DukeRupert/gambit/internal/storage"
	"github.com/DukeRupert/gambit/internal/sweeper"
)

func run(args []string) error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	flags := pflag.NewFlagSet("sweeper", pflag.ContinueOnError)
	horizon := flags.Duration("horizon", cfg.RetentionHorizon, "delete periods anchored before now minus this duration (at least one window; 768h under monthly windows)")
	archive := flags.String("archive", cfg.ArchiveProvider, "archive swept periods to: none, local or r2")
	timeout := flags.Duration("timeout", 10*time.Minute, "abort the sweep after this long")
	logLevel := flags.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	listArchives := flags.Bool("list-archives", false, "print the keys of earlier sweep archives and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// The floor follows USAGE_WINDOW and ACCOUNT_WINDOW_POLICY, so a short
	// --horizon can never remove a period whose window is still open.
	if err := cfg.SweeperConfig().CheckHorizon(*horizon); err != nil {
		return fmt.Errorf("--horizon: %w", err)
	}
	cfg.ArchiveProvider = *archive
	cfg.RetentionHorizon = *horizon

	logger := internal.NewLogger(os.Stdout, cfg.Env, *logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	store, err := internal.OpenArchive(cfg, logger)
	if err != nil {
		return fmt.Errorf("archive initialization failed: %w", err)
	}
	if *listArchives {
		return printArchives(ctx, store)
	}

	db, err := internal.OpenDatabase(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := internal.RunMigrations(db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	usage, closeLedger, err := internal.OpenLedger(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("ledger initialization failed: %w", err)
	}
	defer closeLedger()

	sw, err := sweeper.New(usage, store, quartz.NewReal(), cfg.SweeperConfig(), logger)
	if err != nil {
		return fmt.Errorf("sweeper initialization failed: %w", err)
	}

	res, err := sw.Sweep(ctx, *horizon)
	if err != nil {
		return err
	}

	fmt.Printf("removed %d periods anchored before %s", res.Removed, res.Cutoff.UTC().Format(time.RFC3339))
	if res.ArchiveKey != "" {
		fmt.Printf(" (archived to %s)", res.ArchiveKey)
	}
	fmt.Println()
	return nil
}

// printArchives lists archive keys, oldest first.
func printArchives(ctx context.Context, store storage.Storage) error {
	if store == nil {
		return errors.New("--list-archives needs ARCHIVE_PROVIDER or --archive set to local or r2")
	}
	keys, err := store.List(ctx, storage.ArchivePrefix)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}
