package storage

import (
	"context"

	"github.com/shopspring/decimal"
)

// ItemSnapshot состояние позиции для SQL зеркала
type ItemSnapshot struct {
	Key          string
	Identifier   string
	Title        string
	Category     string
	ImageRef     string
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
	LatestPrice  decimal.Decimal
	LastObserved string
	CheckSum     string // SHA256 состояния позиции
}

// Repository интерфейс SQL зеркала истории цен. Источник истины
// остаётся файл истории; зеркало получает только изменённые позиции.
type Repository interface {
	// EnsureSchema создаёт таблицы, если их нет
	EnsureSchema(ctx context.Context) error

	// UpsertItem сохраняет или обновляет позицию, возвращает (isNew, isUpdated, error)
	UpsertItem(ctx context.Context, item *ItemSnapshot) (isNew bool, isUpdated bool, err error)

	// AppendPricePoints добавляет точки истории, уже существующие пропускаются
	AppendPricePoints(ctx context.Context, key string, points []PricePoint) error

	Close() error
}

// Snapshot строит снимок позиции для зеркала
func (r *ItemRecord) Snapshot(key, checkSum string) *ItemSnapshot {
	return &ItemSnapshot{
		Key:          key,
		Identifier:   r.Identifier,
		Title:        r.Title,
		Category:     string(r.Category),
		ImageRef:     r.ImageRef,
		MinPrice:     r.MinPrice,
		MaxPrice:     r.MaxPrice,
		LatestPrice:  r.LatestPrice,
		LastObserved: r.LastDate(),
		CheckSum:     checkSum,
	}
}
