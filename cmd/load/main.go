// Package main provides a one-shot catalog load for operational use:
// run a full (or sample) load against the configured cache and exit.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/market-scanner/internal/client"
	"github.com/market-scanner/internal/config"
	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/service"
	"github.com/market-scanner/internal/storage"
	"github.com/market-scanner/internal/types"
)

func main() {
	kindFlag := flag.String("kind", "full", "catalog kind to load (full or sample)")
	forceFlag := flag.Bool("force", false, "reload even when the current snapshot is fresh")
	flag.Parse()

	kind := types.CatalogKind(*kindFlag)
	if !kind.Valid() {
		log.Fatalf("invalid kind %q, must be full or sample", *kindFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	redis, err := storage.NewRedisCache(&cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	cache := storage.NewCacheStore(redis, logger)

	var archive service.RunArchiver
	if cfg.ArchiveEnabled() {
		postgres, err := storage.NewPostgresDB(&cfg.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()
		archive = storage.NewArchiveRepository(postgres.Pool())
	}

	upstream := client.New(&cfg.Upstream)
	aggregator := service.NewDetailAggregator(upstream, cache, cfg.Cache.DetailTTL, logger)
	catalog := service.NewCatalogService(upstream, aggregator, cache, archive, cfg.Load, cfg.Cache, logger)

	catalog.RestoreFromCache(context.Background())

	// Interrupt aborts the run; partial results are never published
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	snapshot, err := catalog.RunLoad(ctx, kind, *forceFlag)
	if err != nil {
		logger.WithError(err).Error("Catalog load failed")
		os.Exit(1)
	}

	logger.WithFields(map[string]interface{}{
		"kind":    string(snapshot.Kind),
		"records": snapshot.RecordCount(),
		"hash":    snapshot.ContentHash,
	}).Info("Catalog load complete")
}
