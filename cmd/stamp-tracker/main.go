package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"stamp-price-tracker/internal/app"
	"stamp-price-tracker/internal/config"
	"stamp-price-tracker/internal/fetcher"
	"stamp-price-tracker/internal/images"
	"stamp-price-tracker/internal/normalize"
	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/scraper"
	"stamp-price-tracker/internal/storage"
	"stamp-price-tracker/internal/storage/mssql"
	"stamp-price-tracker/internal/storage/postgres"
)

func main() {
	os.Exit(run())
}

// run возвращает код выхода: 1 только для неверного конфига или
// невозможности прочитать/записать файл истории
func run() int {
	configPath := config.ConfigPath()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Failed to load config %s: %v", configPath, err)
		return 1
	}

	runID := uuid.NewString()
	baseLogger := observability.NewLogger(observability.LoggerOptions{
		Path:       cfg.Observability.LogPath,
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		MaxSizeMB:  cfg.Observability.LogMaxSizeMB,
		MaxBackups: cfg.Observability.LogMaxBackups,
		MaxAgeDays: cfg.Observability.LogMaxAgeDays,
	})
	defer func() {
		if err := baseLogger.Close(); err != nil {
			log.Printf("Warning: failed to close log file: %v", err)
		}
	}()
	logger := baseLogger.With("run_id", runID)

	logger.Info("Stamp tracker starting",
		"config", configPath,
		"config_loaded", cfg.Source != "",
		"sections", len(cfg.Sections),
		"history", cfg.Storage.HistoryPath,
	)

	selectors, err := cfg.Selectors()
	if err != nil {
		logger.Error("Failed to load selectors", "file", cfg.SelectorsFile, "error", err.Error())
		return 1
	}

	normalizer, err := normalize.NewNormalizer(cfg.Normalize.Options())
	if err != nil {
		logger.Error("Invalid normalize options", "error", err.Error())
		return 1
	}

	metrics := observability.NewMetrics()
	defer func() {
		if err := metrics.WriteTextfile(cfg.Observability.MetricsPath); err != nil {
			logger.Warn("Failed to write metrics", "path", cfg.Observability.MetricsPath, "error", err.Error())
		}
	}()

	store, err := storage.OpenHistoryStore(cfg.Storage.HistoryPath, cfg.Storage.OnCorrupt, logger)
	if err != nil {
		logger.Error("Failed to open history", "path", cfg.Storage.HistoryPath, "error", err.Error())
		metrics.SetRunSuccess(false)
		return 1
	}

	var pageFetcher fetcher.Fetcher
	if cfg.Rod.Enabled {
		rodFetcher := fetcher.NewRodFetcher(cfg, logger, metrics)
		defer func() {
			if err := rodFetcher.Close(); err != nil {
				logger.Warn("Failed to close browser", "error", err.Error())
			}
		}()
		pageFetcher = rodFetcher
	} else {
		pageFetcher = fetcher.NewHTTPFetcher(cfg, logger, fetcher.WithMetrics(metrics))
	}

	crawler := app.NewPageCrawler(cfg, pageFetcher, scraper.NewScraper(selectors), scraper.NewExtractor(normalizer), logger, metrics)

	ctx, cancel := app.GracefulShutdown(logger, cfg.GetRunTimeout())
	defer cancel()

	opts := []app.OrchestratorOption{app.WithRunID(runID)}

	if cfg.Images.Enabled {
		downloader, err := images.NewDownloader(images.Options{
			Dir:       cfg.Images.Dir,
			MaxBytes:  cfg.Images.MaxBytes,
			CacheSize: cfg.Images.CacheSize,
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.GetImageTimeout(),
		}, nil, logger)
		if err != nil {
			logger.Warn("Image downloads disabled", "error", err.Error())
		} else {
			opts = append(opts, app.WithImages(downloader))
		}
	}

	if cfg.Storage.MirrorEnabled() {
		repo, err := newRepository(ctx, cfg, logger)
		if err != nil {
			// Зеркало необязательно: файл истории остаётся источником истины
			logger.Error("SQL mirror unavailable", "driver", cfg.Storage.Driver, "error", err.Error())
			metrics.IncMirrorError()
		} else {
			mirror := app.NewMirror(repo, logger, metrics)
			defer func() {
				if err := mirror.Close(); err != nil {
					logger.Warn("Failed to close mirror", "error", err.Error())
				}
			}()
			opts = append(opts, app.WithMirror(mirror))
		}
	}

	orchestrator := app.NewOrchestrator(cfg, logger, metrics, crawler, store, opts...)

	summary, err := orchestrator.Run(ctx)
	if err != nil {
		logger.Error("Run failed", "error", err.Error())
		return 1
	}

	logger.Info("Stamp tracker finished",
		"changed", summary.Upsert.Changed,
		"created", summary.Upsert.Created,
		"cancelled", summary.Cancelled,
	)
	return 0
}

// newRepository открывает SQL зеркало и создаёт схему
func newRepository(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.Repository, error) {
	var repo storage.Repository
	switch cfg.Storage.Driver {
	case "mssql":
		r, err := mssql.NewRepository(cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, err
		}
		repo = r
	case "postgres":
		r, err := postgres.NewRepository(ctx, cfg.Storage.DSN, cfg.GetCommandTimeout(), cfg.Storage.BatchSize, logger)
		if err != nil {
			return nil, err
		}
		repo = r
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}
