package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"in-house-gis/internal/config"
	"in-house-gis/internal/db"
	"in-house-gis/internal/gis"
	"in-house-gis/internal/syncer"
)

func main() {
	// Parse command line flags
	source := flag.String("source", "davis", "Source to sync (see tools sources)")
	limit := flag.Int("limit", 0, "Stop after this many records (0 = all)")
	page := flag.Int("page", 0, "Page size override (0 = source default)")
	delay := flag.Duration("delay", 0, "Delay between pages (0 = source default)")
	timeout := flag.Duration("timeout", 60*time.Second, "Timeout per feature service request")
	clear := flag.Bool("clear", false, "Clear the parcels table before syncing")
	fast := flag.Bool("fast", false, "Merge through the database function instead of batched UPDATEs")
	dryRun := flag.Bool("dry-run", false, "Fetch and transform but write nothing")
	run := flag.Bool("run", false, "Write to the database")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Refuse to guess the mode: a sync either writes or it does not
	if *dryRun == *run {
		fmt.Println("Error: specify either -dry-run or -run")
		fmt.Println()
		fmt.Println("  -dry-run  fetch and transform, write nothing, log a sample record")
		fmt.Println("  -run      write to the database")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  sync -source davis -dry-run")
		fmt.Println("  sync -source davis -run")
		fmt.Println("  sync -source davis-lir-merge -run -fast")
		fmt.Println("  sync -source davis -run -clear -limit 1000")
		os.Exit(1)
	}
	if *dryRun && *clear {
		fmt.Println("Error: -clear cannot be combined with -dry-run")
		os.Exit(1)
	}

	def, err := syncer.GetSource(*source)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid source")
	}

	dsn, err := config.DatabaseURL()
	if err != nil {
		log.Fatal().Err(err).Msg("missing configuration")
	}

	database, err := db.New(dsn)
	if err != nil {
		if db.IsAuthError(err) {
			log.Fatal().Msg("database authentication failed, check the credentials in PARCELS_DATABASE_URL")
		}
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	// Apply per-source defaults unless overridden on the command line
	pageSize := def.PageSize
	if *page > 0 {
		pageSize = *page
	}
	pause := def.Delay()
	if *delay > 0 {
		pause = *delay
	}

	client := gis.NewClient(def.ClientConfig(*timeout))

	var sink syncer.Sink
	switch def.Strategy {
	case syncer.StrategyMerge:
		if *fast {
			sink = db.NewFuncMergeSink(database, def.Columns())
		} else {
			sink = db.NewMergeSink(database, def.Columns())
		}
	default:
		if *fast {
			log.Warn().Msg("-fast only applies to merge sources, ignoring")
		}
		sink = db.NewUpsertSink(database, def.Columns(), def.Geometry)
	}

	if *clear {
		log.Info().Msg("clearing parcels table")
		if err := database.Clear(); err != nil {
			log.Fatal().Err(err).Msg("failed to clear parcels table")
		}
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Warn().Msg("received interrupt signal, shutting down")
		cancel()
	}()

	engine := syncer.New(client, sink, def.Transformer(), syncer.Options{
		SourceName: def.Name,
		Limit:      *limit,
		PageSize:   pageSize,
		Delay:      pause,
		DryRun:     *dryRun,
	})

	startTime := time.Now()
	progress, err := engine.Run(ctx)

	// Record the run even when it ended early, partial progress counts
	if rErr := database.RecordSyncRun(progress.SyncRun()); rErr != nil {
		log.Warn().Err(rErr).Msg("failed to record sync run")
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("sync cancelled")
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("sync failed")
	}

	log.Info().Str("run_id", progress.RunID).Dur("elapsed", time.Since(startTime)).Msg("sync finished")
}
