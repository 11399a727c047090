package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tickerwatch/internal/api"
	"tickerwatch/internal/config"
	"tickerwatch/internal/datafeed"
	"tickerwatch/internal/freshness"
	"tickerwatch/internal/httpapi"
	"tickerwatch/internal/ingest"
	"tickerwatch/internal/marketdata"
	"tickerwatch/internal/refresh"
	"tickerwatch/internal/registry"
	"tickerwatch/internal/store"
	"tickerwatch/internal/util"
	"tickerwatch/internal/watchlist"
)

func main() {
	cfgPath := "config/tickerwatch.yaml"
	if p := os.Getenv("TICKERWATCH_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	util.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()

	var history store.HistoryStore = db
	if cfg.Storage.HistoryBackend == "parquet" {
		history = store.NewParquetStore(filepath.Clean(cfg.Storage.DataDir))
	}

	cal, err := util.NewTradingCalendar(cfg.Calendar.Timezone)
	if err != nil {
		log.Fatalf("trading calendar: %v", err)
	}

	var fetcher marketdata.Fetcher
	switch cfg.Fetch.Provider {
	case "alpaca":
		fetcher = marketdata.NewAlpacaFetcher(
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed,
			history, cfg.Fetch.LookbackDays, cfg.Fetch.RateLimitPerMin, cfg.Fetch.MaxAttempts,
		)
	default:
		fetcher = marketdata.NewMockFetcher(history, uint64(time.Now().UnixNano()))
	}

	var assets marketdata.AssetLookup
	if r := marketdata.NewAlpacaAssetResolver(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL); r != nil {
		assets = r
	}
	resolver := marketdata.NewSymbolResolver(assets, marketdata.LoadReferenceData(cfg.Storage.ReferenceDir))

	classifier := freshness.NewClassifier(history, cal, cfg.Fetch.Concurrency)
	rest := httpapi.NewServer(
		registry.NewService(db, db, db, classifier),
		watchlist.NewService(db, db),
		ingest.NewPipeline(db, db, db, resolver, fetcher),
		refresh.NewRefresher(db, classifier, fetcher, cfg.Fetch.Concurrency),
		datafeed.NewFeed(history, resolver),
		db,
	)

	logger.Info("tickerwatch-server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"history_backend", cfg.Storage.HistoryBackend,
		"provider", cfg.Fetch.Provider,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := api.NewServer(cfg, rest.Handler(), db)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("tickerwatch-server stopped")
}
