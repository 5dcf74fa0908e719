package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stamp-price-tracker/internal/catalog"
	"stamp-price-tracker/internal/observability"
)

const dateLayout = "2006-01-02"

// Политики обработки повреждённого файла истории
const (
	OnCorruptReset = "reset"
	OnCorruptFail  = "fail"
)

var ErrCorruptState = errors.New("history state is corrupt")

// PersistError не удалось записать файл истории
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist history to %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

type PricePoint struct {
	Date  string          `json:"date"`
	Price decimal.Decimal `json:"price"`
}

// MarshalJSON пишет цену числом, а не строкой
func (p PricePoint) MarshalJSON() ([]byte, error) {
	return marshalUnescaped(struct {
		Date  string      `json:"date"`
		Price json.Number `json:"price"`
	}{Date: p.Date, Price: json.Number(p.Price.String())})
}

// ItemRecord история цен одной позиции; min/max/latest всегда согласованы с историей
type ItemRecord struct {
	Identifier   string           `json:"identifier"`
	Title        string           `json:"title"`
	Category     catalog.Category `json:"category"`
	ImageRef     string           `json:"imageRef,omitempty"`
	PriceHistory []PricePoint     `json:"priceHistory"`
	MinPrice     decimal.Decimal  `json:"minPrice"`
	MaxPrice     decimal.Decimal  `json:"maxPrice"`
	LatestPrice  decimal.Decimal  `json:"latestPrice"`
}

// MarshalJSON пишет min/max/latest числами
func (r ItemRecord) MarshalJSON() ([]byte, error) {
	type plain ItemRecord
	return marshalUnescaped(struct {
		plain
		MinPrice    json.Number `json:"minPrice"`
		MaxPrice    json.Number `json:"maxPrice"`
		LatestPrice json.Number `json:"latestPrice"`
	}{
		plain:       plain(r),
		MinPrice:    json.Number(r.MinPrice.String()),
		MaxPrice:    json.Number(r.MaxPrice.String()),
		LatestPrice: json.Number(r.LatestPrice.String()),
	})
}

// marshalUnescaped json.Marshal без экранирования <, > и &
func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// LastDate дата последней записи истории
func (r *ItemRecord) LastDate() string {
	if len(r.PriceHistory) == 0 {
		return ""
	}
	return r.PriceHistory[len(r.PriceHistory)-1].Date
}

func (r *ItemRecord) recompute() {
	if len(r.PriceHistory) == 0 {
		return
	}
	minPrice := r.PriceHistory[0].Price
	maxPrice := r.PriceHistory[0].Price
	for _, p := range r.PriceHistory[1:] {
		if p.Price.LessThan(minPrice) {
			minPrice = p.Price
		}
		if p.Price.GreaterThan(maxPrice) {
			maxPrice = p.Price
		}
	}
	r.MinPrice = minPrice
	r.MaxPrice = maxPrice
	r.LatestPrice = r.PriceHistory[len(r.PriceHistory)-1].Price
}

func (r *ItemRecord) clone() *ItemRecord {
	c := *r
	c.PriceHistory = append([]PricePoint(nil), r.PriceHistory...)
	return &c
}

type UpsertResult struct {
	Changed     int
	Created     int
	ChangedKeys []string
}

// HistoryStore единственный владелец отображения ключ -> ItemRecord
type HistoryStore struct {
	path   string
	logger *observability.Logger
	now    func() time.Time

	mu    sync.Mutex
	items map[string]*ItemRecord
}

// OpenHistoryStore загружает состояние. Нет файла: пустое состояние.
// Повреждённый файл обрабатывается согласно onCorrupt.
func OpenHistoryStore(path, onCorrupt string, logger *observability.Logger) (*HistoryStore, error) {
	s := &HistoryStore{
		path:   path,
		logger: logger,
		now:    time.Now,
		items:  make(map[string]*ItemRecord),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("History file not found, starting empty", "path", path)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read history %s: %w", path, err)
	}

	if len(data) == 0 {
		return s, nil
	}

	items := make(map[string]*ItemRecord)
	if err := json.Unmarshal(data, &items); err != nil {
		if onCorrupt == OnCorruptFail {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
		}

		backup := fmt.Sprintf("%s.corrupt-%s", path, s.now().Format("20060102T150405"))
		if renameErr := os.Rename(path, backup); renameErr != nil {
			return nil, fmt.Errorf("%w: %s: backup failed: %v", ErrCorruptState, path, renameErr)
		}
		logger.Warn("History file is corrupt, starting empty",
			"path", path,
			"backup", backup,
			"error", err.Error(),
		)
		return s, nil
	}

	if items == nil {
		// Литерал null: валидный JSON без позиций
		logger.Warn("History file holds no items, starting empty", "path", path)
		items = make(map[string]*ItemRecord)
	}

	for key, item := range items {
		if item == nil {
			delete(items, key)
			continue
		}
		item.recompute()
	}
	s.items = items

	logger.Info("History loaded", "path", path, "items", len(items))
	return s, nil
}

// WithClock подменяет дату для записей без даты наблюдения
func (s *HistoryStore) WithClock(now func() time.Time) *HistoryStore {
	s.now = now
	return s
}

// Upsert добавляет новые цены. Новая запись истории появляется только для
// нового ключа или при изменении цены. Файл переписывается только при изменениях.
func (s *HistoryStore) Upsert(records []*catalog.Record) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result UpsertResult
	changedSet := make(map[string]bool)
	// Состояние до изменений; nil означает, что ключа не было
	previous := make(map[string]*ItemRecord)

	for _, rec := range records {
		key := rec.Key()

		item, exists := s.items[key]
		if _, saved := previous[key]; !saved {
			if exists {
				previous[key] = item.clone()
			} else {
				previous[key] = nil
			}
		}
		if !exists {
			item = &ItemRecord{
				Identifier:   rec.Identifier,
				Title:        rec.Title,
				Category:     rec.Category,
				ImageRef:     rec.ImageRef,
				PriceHistory: []PricePoint{},
				MinPrice:     rec.Price,
				MaxPrice:     rec.Price,
				LatestPrice:  rec.Price,
			}
			s.items[key] = item
			result.Created++
		}

		if len(item.PriceHistory) > 0 && rec.Price.Equal(item.LatestPrice) {
			continue
		}

		date := rec.ObservedDate
		if date.IsZero() {
			date = s.now()
		}
		item.PriceHistory = append(item.PriceHistory, PricePoint{
			Date:  date.Format(dateLayout),
			Price: rec.Price,
		})
		item.recompute()

		result.Changed++
		if !changedSet[key] {
			changedSet[key] = true
			result.ChangedKeys = append(result.ChangedKeys, key)
		}
	}

	if result.Changed == 0 {
		return result, nil
	}

	if err := s.persist(); err != nil {
		// Откат: повторный Upsert увидит те же изменения и снова попробует записать
		for key, prev := range previous {
			if prev == nil {
				delete(s.items, key)
			} else {
				s.items[key] = prev
			}
		}
		return result, err
	}

	return result, nil
}

// persist атомарно переписывает файл: временный файл, fsync, rename
func (s *HistoryStore) persist() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(s.items); err != nil {
		_ = tmp.Close()
		cleanup()
		return &PersistError{Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &PersistError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &PersistError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return &PersistError{Path: s.path, Err: err}
	}

	s.logger.Info("History persisted", "path", s.path, "items", len(s.items))
	return nil
}

// Get копия записи по ключу
func (s *HistoryStore) Get(key string) (*ItemRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, false
	}
	return item.clone(), true
}

// Keys отсортированные ключи
func (s *HistoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *HistoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Path путь файла истории
func (s *HistoryStore) Path() string {
	return s.path
}
