package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stamp-price-tracker/internal/catalog"
	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/storage"
)

type fakeRepo struct {
	sums      map[string]string
	points    map[string][]storage.PricePoint
	upsertErr error
	closed    bool
	calls     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sums:   make(map[string]string),
		points: make(map[string][]storage.PricePoint),
	}
}

func (r *fakeRepo) EnsureSchema(context.Context) error { return nil }

func (r *fakeRepo) UpsertItem(_ context.Context, item *storage.ItemSnapshot) (bool, bool, error) {
	r.calls++
	if r.upsertErr != nil {
		return false, false, r.upsertErr
	}
	prev, ok := r.sums[item.Key]
	r.sums[item.Key] = item.CheckSum
	return !ok, ok && prev != item.CheckSum, nil
}

func (r *fakeRepo) AppendPricePoints(_ context.Context, key string, points []storage.PricePoint) error {
	seen := make(map[string]bool)
	for _, p := range r.points[key] {
		seen[p.Date+"|"+p.Price.String()] = true
	}
	for _, p := range points {
		if !seen[p.Date+"|"+p.Price.String()] {
			r.points[key] = append(r.points[key], p)
		}
	}
	return nil
}

func (r *fakeRepo) Close() error {
	r.closed = true
	return nil
}

func seedStore(t *testing.T) *storage.HistoryStore {
	t.Helper()
	store := openTestStore(t, filepath.Join(t.TempDir(), "h.json"))
	_, err := store.Upsert([]*catalog.Record{
		{Identifier: "T50", Category: catalog.CategoryT, Title: "T50 关汉卿", Price: decimal.RequireFromString("8.5"), ObservedDate: fixedNow},
		{Identifier: "J120", Category: catalog.CategoryJ, Title: "J120 孙中山", Price: decimal.RequireFromString("12"), ObservedDate: fixedNow},
	})
	require.NoError(t, err)
	return store
}

func TestMirrorSyncInsertUpdateUnchanged(t *testing.T) {
	store := seedStore(t)
	repo := newFakeRepo()
	m := NewMirror(repo, observability.NewNopLogger(), nil)

	stats := m.Sync(context.Background(), store, []string{"T50", "J120"})
	assert.Equal(t, 2, stats.Inserted)

	// Повторная синхронизация без изменений не ходит в базу
	stats = m.Sync(context.Background(), store, []string{"T50", "J120"})
	assert.Equal(t, 2, stats.Unchanged)
	assert.Equal(t, 2, repo.calls)

	_, err := store.Upsert([]*catalog.Record{
		{Identifier: "T50", Category: catalog.CategoryT, Title: "T50 关汉卿", Price: decimal.RequireFromString("9"), ObservedDate: fixedNow.AddDate(0, 0, 1)},
	})
	require.NoError(t, err)

	stats = m.Sync(context.Background(), store, []string{"T50"})
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 3, repo.calls)
	assert.Len(t, repo.points["T50"], 2)

	require.NoError(t, m.Close())
	assert.True(t, repo.closed)
}

func TestMirrorSyncSkipsUnknownKeys(t *testing.T) {
	store := seedStore(t)
	m := NewMirror(newFakeRepo(), observability.NewNopLogger(), nil)

	stats := m.Sync(context.Background(), store, []string{"T999"})
	assert.Equal(t, MirrorStats{}, *stats)
}

func TestMirrorSyncFailuresAreCounted(t *testing.T) {
	store := seedStore(t)
	repo := newFakeRepo()
	repo.upsertErr = errors.New("connection refused")
	metrics := observability.NewMetrics()
	m := NewMirror(repo, observability.NewNopLogger(), metrics)

	stats := m.Sync(context.Background(), store, []string{"T50", "J120"})
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MirrorErrors))
}

func TestMirrorSyncStopsOnCancel(t *testing.T) {
	store := seedStore(t)
	repo := newFakeRepo()
	m := NewMirror(repo, observability.NewNopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := m.Sync(ctx, store, []string{"T50", "J120"})
	assert.Equal(t, 0, stats.Inserted)
	assert.Empty(t, repo.sums)
}

func TestMirrorRetriesFailedItems(t *testing.T) {
	store := seedStore(t)
	repo := newFakeRepo()
	repo.upsertErr = errors.New("connection refused")
	m := NewMirror(repo, observability.NewNopLogger(), nil)

	stats := m.Sync(context.Background(), store, []string{"T50"})
	assert.Equal(t, 1, stats.Failed)

	// Неудачная попытка не запоминается как перенесённая
	repo.upsertErr = nil
	stats = m.Sync(context.Background(), store, []string{"T50"})
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 2, repo.calls)
}
