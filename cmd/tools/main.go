package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"in-house-gis/internal/config"
	"in-house-gis/internal/db"
	"in-house-gis/internal/gis"
	"in-house-gis/internal/syncer"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Sub-commands
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = os.Args[1:] // Shift args for flag parsing

	switch cmd {
	case "sources":
		listSources()
	case "inspect":
		inspectSource()
	case "verify":
		verifyDatabase()
	case "clear":
		clearParcels()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tools <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  sources   List the configured sync sources")
	fmt.Println("  inspect   Probe a source's feature service and show sample records")
	fmt.Println("  verify    Show parcel table stats and recent sync runs")
	fmt.Println("  clear     Delete all parcels from the database")
}

func listSources() {
	sources, err := syncer.LoadSources()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load source registry")
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := sources[name]
		fmt.Printf("%-16s %s\n", name, def.Description)
		fmt.Printf("%-16s strategy=%s geometry=%v page=%d columns=%d\n", "", def.Strategy, def.Geometry, def.PageSize, len(def.Columns())+1)
		fmt.Printf("%-16s %s\n", "", def.ServiceURL)
		fmt.Println()
	}
}

func inspectSource() {
	source := flag.String("source", "davis", "Source to inspect")
	timeout := flag.Duration("timeout", 60*time.Second, "Request timeout")
	sample := flag.Int("sample", 3, "Number of sample features to fetch")
	flag.Parse()

	def, err := syncer.GetSource(*source)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid source")
	}

	ctx := context.Background()
	client := gis.NewClient(def.ClientConfig(*timeout))

	info, err := client.LayerInfo(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch layer info")
	}

	fmt.Printf("Layer:            %s\n", info.Name)
	fmt.Printf("Geometry type:    %s\n", info.GeometryType)
	fmt.Printf("Max record count: %d\n", info.MaxRecordCount)
	fmt.Printf("Fields:           %d\n", len(info.Fields))
	for _, f := range info.Fields {
		fmt.Printf("  %-32s %s\n", f.Name, f.Type)
	}

	count, err := client.Count(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to count features")
	}
	fmt.Printf("Total features:   %d\n", count)

	features, err := client.FetchPage(ctx, 0, *sample)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch sample page")
	}

	transformer := def.Transformer()
	fmt.Printf("\nSample records (%d):\n", len(features))
	for _, f := range features {
		p, err := transformer.Transform(f)
		if err != nil {
			fmt.Printf("  skipped: %v\n", err)
			continue
		}
		fmt.Printf("  apn=%s", p.APN)
		if p.Address != nil {
			fmt.Printf(" address=%q", *p.Address)
		}
		if p.OwnerName != nil {
			fmt.Printf(" owner=%q", *p.OwnerName)
		}
		if f.Geometry != nil {
			if lat, lng, err := gis.Centroid(gis.EnsureMultiPolygon(f.Geometry)); err == nil {
				fmt.Printf(" centroid=%.5f,%.5f", lat, lng)
			}
		}
		fmt.Println()
	}
}

func verifyDatabase() {
	runs := flag.Int("runs", 5, "Number of recent sync runs to show")
	flag.Parse()

	database := mustOpenDB()
	defer database.Close()

	stats, err := database.GetStats()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to query stats")
	}

	fmt.Printf("Parcels:       %d\n", stats.Total)
	fmt.Printf("With geometry: %d\n", stats.WithGeometry)
	fmt.Printf("With building: %d\n", stats.WithBuilding)
	if stats.LastSync != nil {
		fmt.Printf("Last sync:     %s\n", stats.LastSync.Format(time.RFC3339))
	}
	for _, c := range stats.Counties {
		fmt.Printf("  %-16s %d\n", c.County, c.Parcels)
	}

	recent, err := database.LatestSyncRuns(*runs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to query sync runs")
	}
	if len(recent) > 0 {
		fmt.Println("\nRecent sync runs:")
		for _, r := range recent {
			mode := "run"
			if r.DryRun {
				mode = "dry-run"
			}
			fmt.Printf("  %s %-14s %-7s processed=%d succeeded=%d failed=%d skipped=%d\n",
				r.StartedAt.Format("2006-01-02 15:04"), r.Source, mode, r.Processed, r.Succeeded, r.Failed, r.Skipped)
		}
	}

	samples, err := database.SampleParcels(3)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sample parcels")
	}
	if len(samples) > 0 {
		fmt.Println("\nMost recently updated:")
		for _, p := range samples {
			fmt.Printf("  apn=%s", p.APN)
			if p.Address != nil {
				fmt.Printf(" address=%q", *p.Address)
			}
			if p.TotalMktValue != nil {
				fmt.Printf(" total_mkt_value=%.0f", *p.TotalMktValue)
			}
			fmt.Println()
		}
	}
}

func clearParcels() {
	force := flag.Bool("force", false, "Actually delete, without this flag nothing happens")
	flag.Parse()

	if !*force {
		fmt.Println("Refusing to clear the parcels table without -force")
		os.Exit(1)
	}

	database := mustOpenDB()
	defer database.Close()

	before, err := database.CountParcels()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to count parcels")
	}

	if err := database.Clear(); err != nil {
		log.Fatal().Err(err).Msg("failed to clear parcels table")
	}

	fmt.Printf("Cleared %d parcels\n", before)
}

func mustOpenDB() *db.DB {
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
	return database
}
