package app

import (
	"context"

	"stamp-price-tracker/internal/checksum"
	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/storage"
)

// MirrorStats итог синхронизации SQL зеркала
type MirrorStats struct {
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
}

// Mirror переносит изменённые позиции истории в SQL хранилище.
// Ошибки зеркала не влияют на файл истории и код завершения.
type Mirror struct {
	repo     storage.Repository
	checksum *checksum.Generator
	logger   *observability.Logger
	metrics  *observability.Metrics

	// synced хеш последней успешно перенесённой версии позиции
	synced map[string]string
}

func NewMirror(repo storage.Repository, logger *observability.Logger, metrics *observability.Metrics) *Mirror {
	return &Mirror{
		repo:     repo,
		checksum: checksum.NewGenerator(),
		logger:   logger,
		metrics:  metrics,
		synced:   make(map[string]string),
	}
}

// ItemSource откуда зеркало берёт позиции
type ItemSource interface {
	Get(key string) (*storage.ItemRecord, bool)
}

func (m *Mirror) Sync(ctx context.Context, source ItemSource, keys []string) *MirrorStats {
	stats := &MirrorStats{}

	for i, key := range keys {
		if ctx.Err() != nil {
			m.logger.Warn("Mirror sync interrupted", "remaining", len(keys)-i)
			break
		}

		item, ok := source.Get(key)
		if !ok {
			continue
		}

		if m.checksum.VerifyItemHash(m.synced[key], key, item.Title, string(item.Category), item.LatestPrice, item.LastDate()) {
			stats.Unchanged++
			continue
		}

		sum := m.checksum.GenerateItemHash(key, item.Title, string(item.Category), item.LatestPrice, item.LastDate())
		isNew, isUpdated, err := m.repo.UpsertItem(ctx, item.Snapshot(key, sum))
		if err != nil {
			stats.Failed++
			m.metrics.IncMirrorError()
			m.logger.Error("Failed to mirror item", "key", key, "error", err.Error())
			continue
		}

		if err := m.repo.AppendPricePoints(ctx, key, item.PriceHistory); err != nil {
			stats.Failed++
			m.metrics.IncMirrorError()
			m.logger.Error("Failed to mirror price history", "key", key, "error", err.Error())
			continue
		}

		m.synced[key] = sum

		switch {
		case isNew:
			stats.Inserted++
		case isUpdated:
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}

	m.logger.Info("Mirror sync completed",
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"failed", stats.Failed,
	)

	return stats
}

func (m *Mirror) Close() error {
	return m.repo.Close()
}
