package app

import (
	"context"
	"fmt"
	"time"

	"stamp-price-tracker/internal/catalog"
	"stamp-price-tracker/internal/config"
	"stamp-price-tracker/internal/images"
	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/storage"
)

// SectionCrawler обход одного раздела каталога
type SectionCrawler interface {
	Crawl(ctx context.Context, section config.SectionConfig) ([]*catalog.Record, *CrawlStats)
}

// ImageDownloader загрузка картинки позиции по её ключу
type ImageDownloader interface {
	Download(ctx context.Context, key, imageURL string) (images.DownloadResult, error)
}

// RunSummary итог одного прогона
type RunSummary struct {
	RunID      string
	Sections   []*CrawlStats
	Records    int
	Rejections map[string]int
	Upsert     storage.UpsertResult
	Images     ImageStats
	Mirror     *MirrorStats
	Cancelled  bool
	Duration   time.Duration
}

type ImageStats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

type Orchestrator struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	crawler SectionCrawler
	store   *storage.HistoryStore
	images  ImageDownloader
	mirror  *Mirror
	sleep   SleepFunc
	runID   string
}

type OrchestratorOption func(*Orchestrator)

func WithImages(d ImageDownloader) OrchestratorOption {
	return func(o *Orchestrator) {
		o.images = d
	}
}

func WithMirror(m *Mirror) OrchestratorOption {
	return func(o *Orchestrator) {
		o.mirror = m
	}
}

func WithRunID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithSectionSleep подменяет паузу между разделами (для тестов)
func WithSectionSleep(sleep SleepFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

func NewOrchestrator(
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	crawler SectionCrawler,
	store *storage.HistoryStore,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		crawler: crawler,
		store:   store,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run один проход: разделы по очереди, затем одно сохранение истории.
// Ошибка возвращается только если историю не удалось сохранить.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{RunID: o.runID, Rejections: make(map[string]int)}

	o.logger.Info("Starting run", "sections", len(o.cfg.Sections), "history", o.store.Path())

	var records []*catalog.Record
	for i, section := range o.cfg.Sections {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.GetSectionDelay()); err != nil {
				summary.Cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		sectionRecords, stats := o.crawler.Crawl(ctx, section)
		summary.Sections = append(summary.Sections, stats)
		for reason, n := range stats.Rejections {
			summary.Rejections[reason] += n
		}
		records = append(records, sectionRecords...)

		if stats.StoppedReason == StopCancelled {
			summary.Cancelled = true
			break
		}
	}
	summary.Records = len(records)

	// Накопленное сохраняется и при отмене
	result, err := o.store.Upsert(records)
	summary.Upsert = result
	if err != nil {
		o.metrics.SetRunSuccess(false)
		summary.Duration = time.Since(start)
		o.logger.Error("Failed to update history", "path", o.store.Path(), "error", err.Error())
		return summary, fmt.Errorf("failed to update history: %w", err)
	}
	o.metrics.AddChanges(result.Changed, result.Created)

	if !summary.Cancelled && ctx.Err() == nil {
		if o.images != nil {
			summary.Images = o.downloadImages(ctx, records)
		}
		if o.mirror != nil && len(result.ChangedKeys) > 0 {
			summary.Mirror = o.mirror.Sync(ctx, o.store, result.ChangedKeys)
		}
	} else {
		summary.Cancelled = true
	}

	o.metrics.SetRunSuccess(true)
	summary.Duration = time.Since(start)
	o.logSummary(summary)

	return summary, nil
}

// downloadImages по одной картинке на ключ; ошибки только логируются
func (o *Orchestrator) downloadImages(ctx context.Context, records []*catalog.Record) ImageStats {
	var stats ImageStats
	seen := make(map[string]bool)

	for _, rec := range records {
		if rec.ImageRef == "" {
			continue
		}
		key := rec.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		if ctx.Err() != nil {
			break
		}

		res, err := o.images.Download(ctx, key, rec.ImageRef)
		switch {
		case err != nil:
			stats.Failed++
			o.metrics.IncImage("failed")
			o.logger.Warn("Image download failed", "key", key, "url", rec.ImageRef, "error", err.Error())
		case res.Skipped:
			stats.Skipped++
			o.metrics.IncImage("skipped")
		default:
			stats.Downloaded++
			o.metrics.IncImage("downloaded")
		}
	}

	return stats
}

func (o *Orchestrator) logSummary(s *RunSummary) {
	pages := 0
	for _, st := range s.Sections {
		pages += st.Pages
		o.logger.Info("Section summary",
			"section", st.SectionID,
			"pages", st.Pages,
			"records", st.Records,
			"retries", st.Retries,
			"reason", st.StoppedReason,
		)
	}

	args := []any{
		"sections", len(s.Sections),
		"pages", pages,
		"records", s.Records,
		"changed", s.Upsert.Changed,
		"created", s.Upsert.Created,
		"images_downloaded", s.Images.Downloaded,
		"images_skipped", s.Images.Skipped,
		"images_failed", s.Images.Failed,
		"cancelled", s.Cancelled,
		"duration", s.Duration.String(),
	}
	for reason, n := range s.Rejections {
		args = append(args, "rejected_"+reason, n)
	}
	if s.Mirror != nil {
		args = append(args, "mirror_failed", s.Mirror.Failed)
	}

	o.logger.Info("Run completed", args...)
}
