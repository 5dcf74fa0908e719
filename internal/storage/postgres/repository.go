package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/storage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS stamps (
	stamp_key     TEXT PRIMARY KEY,
	identifier    TEXT NOT NULL,
	title         TEXT NOT NULL,
	category      TEXT NOT NULL,
	image_url     TEXT,
	min_price     NUMERIC(12,2) NOT NULL,
	max_price     NUMERIC(12,2) NOT NULL,
	latest_price  NUMERIC(12,2) NOT NULL,
	last_observed DATE NOT NULL,
	checksum      CHAR(64) NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS stamp_prices (
	stamp_key   TEXT NOT NULL REFERENCES stamps(stamp_key) ON DELETE CASCADE,
	observed_on DATE NOT NULL,
	price       NUMERIC(12,2) NOT NULL,
	PRIMARY KEY (stamp_key, observed_on, price)
);`

var _ storage.Repository = (*Repository)(nil)

type Repository struct {
	pool           *pgxpool.Pool
	commandTimeout time.Duration
	batchSize      int
	logger         *observability.Logger
}

func NewRepository(ctx context.Context, dsn string, commandTimeout time.Duration, batchSize int, logger *observability.Logger) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if batchSize <= 0 {
		batchSize = 100
	}

	return &Repository{
		pool:           pool,
		commandTimeout: commandTimeout,
		batchSize:      batchSize,
		logger:         logger,
	}, nil
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertItem ON CONFLICT по ключу; строка обновляется только при смене checksum
func (r *Repository) UpsertItem(ctx context.Context, item *storage.ItemSnapshot) (isNew bool, isUpdated bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var inserted bool
	err = r.pool.QueryRow(ctx, `
		INSERT INTO stamps (stamp_key, identifier, title, category, image_url,
			min_price, max_price, latest_price, last_observed, checksum)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6::numeric, $7::numeric, $8::numeric, $9::date, $10)
		ON CONFLICT (stamp_key) DO UPDATE SET
			identifier    = EXCLUDED.identifier,
			title         = EXCLUDED.title,
			category      = EXCLUDED.category,
			image_url     = EXCLUDED.image_url,
			min_price     = EXCLUDED.min_price,
			max_price     = EXCLUDED.max_price,
			latest_price  = EXCLUDED.latest_price,
			last_observed = EXCLUDED.last_observed,
			checksum      = EXCLUDED.checksum,
			updated_at    = now()
		WHERE stamps.checksum <> EXCLUDED.checksum
		RETURNING (xmax = 0)`,
		item.Key, item.Identifier, item.Title, item.Category, item.ImageRef,
		item.MinPrice.String(), item.MaxPrice.String(), item.LatestPrice.String(),
		item.LastObserved, item.CheckSum,
	).Scan(&inserted)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, false, nil
	case err != nil:
		return false, false, fmt.Errorf("failed to execute upsert: %w", err)
	}

	return inserted, !inserted, nil
}

// AppendPricePoints пачками через pgx.Batch
func (r *Repository) AppendPricePoints(ctx context.Context, key string, points []storage.PricePoint) error {
	for start := 0; start < len(points); start += r.batchSize {
		end := start + r.batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := r.insertBatch(ctx, key, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) insertBatch(ctx context.Context, key string, points []storage.PricePoint) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO stamp_prices (stamp_key, observed_on, price)
			VALUES ($1, $2::date, $3::numeric)
			ON CONFLICT (stamp_key, observed_on, price) DO NOTHING`,
			key, p.Date, p.Price.String(),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	for range points {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to insert price points for %s: %w", key, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
