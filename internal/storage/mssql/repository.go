package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/storage"
)

const schemaSQL = `
IF OBJECT_ID(N'dbo.TblStamps', N'U') IS NULL
CREATE TABLE dbo.TblStamps (
	[StampKey]     NVARCHAR(64)  NOT NULL PRIMARY KEY,
	[Identifier]   NVARCHAR(32)  NOT NULL,
	[Title]        NVARCHAR(512) NOT NULL,
	[Category]     NVARCHAR(32)  NOT NULL,
	[ImageURL]     NVARCHAR(1024) NULL,
	[MinPrice]     DECIMAL(12,2) NOT NULL,
	[MaxPrice]     DECIMAL(12,2) NOT NULL,
	[LatestPrice]  DECIMAL(12,2) NOT NULL,
	[LastObserved] DATE NOT NULL,
	[CheckSum]     CHAR(64) NOT NULL,
	[UpdatedAt]    DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()
);
IF OBJECT_ID(N'dbo.TblStampPrices', N'U') IS NULL
CREATE TABLE dbo.TblStampPrices (
	[StampKey] NVARCHAR(64)  NOT NULL,
	[DT]       DATE          NOT NULL,
	[Price]    DECIMAL(12,2) NOT NULL,
	CONSTRAINT PK_TblStampPrices PRIMARY KEY ([StampKey], [DT], [Price])
);`

var _ storage.Repository = (*Repository)(nil)

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
}

func NewRepository(dsn string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Тестируем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{
		db:             db,
		commandTimeout: commandTimeout,
		logger:         logger,
	}, nil
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertItem MERGE по ключу; строка обновляется только при смене CheckSum
func (r *Repository) UpsertItem(ctx context.Context, item *storage.ItemSnapshot) (isNew bool, isUpdated bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	query := `
		MERGE INTO dbo.TblStamps AS target
		USING (SELECT @StampKey AS StampKey) AS source
		ON target.[StampKey] = source.StampKey
		WHEN MATCHED AND target.[CheckSum] <> @CheckSum THEN
			UPDATE SET
				[Identifier] = @Identifier,
				[Title] = @Title,
				[Category] = @Category,
				[ImageURL] = @ImageURL,
				[MinPrice] = @MinPrice,
				[MaxPrice] = @MaxPrice,
				[LatestPrice] = @LatestPrice,
				[LastObserved] = @LastObserved,
				[CheckSum] = @CheckSum,
				[UpdatedAt] = SYSUTCDATETIME()
		WHEN NOT MATCHED THEN
			INSERT ([StampKey], [Identifier], [Title], [Category], [ImageURL], [MinPrice], [MaxPrice], [LatestPrice], [LastObserved], [CheckSum])
			VALUES (@StampKey, @Identifier, @Title, @Category, @ImageURL, @MinPrice, @MaxPrice, @LatestPrice, @LastObserved, @CheckSum)
		OUTPUT $action;
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return false, false, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			r.logger.Error("Failed to close statement", "error", err.Error())
		}
	}()

	var action string
	err = stmt.QueryRowContext(ctx,
		sql.Named("StampKey", item.Key),
		sql.Named("Identifier", item.Identifier),
		sql.Named("Title", item.Title),
		sql.Named("Category", item.Category),
		sql.Named("ImageURL", nullString(item.ImageRef)),
		sql.Named("MinPrice", item.MinPrice.String()),
		sql.Named("MaxPrice", item.MaxPrice.String()),
		sql.Named("LatestPrice", item.LatestPrice.String()),
		sql.Named("LastObserved", item.LastObserved),
		sql.Named("CheckSum", item.CheckSum),
	).Scan(&action)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// CheckSum не изменился
		return false, false, nil
	case err != nil:
		return false, false, fmt.Errorf("failed to execute upsert: %w", err)
	}

	return action == "INSERT", action == "UPDATE", nil
}

func (r *Repository) AppendPricePoints(ctx context.Context, key string, points []storage.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		IF NOT EXISTS (SELECT 1 FROM dbo.TblStampPrices WHERE [StampKey] = @StampKey AND [DT] = @DT AND [Price] = @Price)
			INSERT INTO dbo.TblStampPrices ([StampKey], [DT], [Price]) VALUES (@StampKey, @DT, @Price);
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			r.logger.Error("Failed to close statement", "error", err.Error())
		}
	}()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx,
			sql.Named("StampKey", key),
			sql.Named("DT", p.Date),
			sql.Named("Price", p.Price.String()),
		); err != nil {
			return fmt.Errorf("failed to insert price point %s/%s: %w", key, p.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price points: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Close закрывает соединение с БД
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
