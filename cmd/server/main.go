package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"in-house-gis/internal/api"
	"in-house-gis/internal/config"
	"in-house-gis/internal/db"
)

func main() {
	// Parse command line flags
	addr := flag.String("addr", "", "Address to listen on (overrides PARCELS_HTTP_ADDR)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	dsn, err := config.DatabaseURL()
	if err != nil {
		log.Fatal().Err(err).Msg("missing configuration")
	}

	// Initialize database
	database, err := db.New(dsn)
	if err != nil {
		if db.IsAuthError(err) {
			log.Fatal().Msg("database authentication failed, check the credentials in PARCELS_DATABASE_URL")
		}
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	// Create router
	router := api.NewRouter(database)

	// Start server
	log.Info().Str("addr", cfg.ListenAddr).Msg("starting parcel API server")

	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
