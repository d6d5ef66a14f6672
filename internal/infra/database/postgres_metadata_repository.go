// internal/infra/database/postgres_metadata_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"khatam_bot/internal/domain/khatam"
)

// The metadata relation is a single row with id = 1.
const metadataRowID = 1

type PostgresMetadataRepository struct {
	db *sql.DB
}

func NewPostgresMetadataRepository(db *sql.DB) *PostgresMetadataRepository {
	return &PostgresMetadataRepository{db: db}
}

func (r *PostgresMetadataRepository) Get(ctx context.Context) (*khatam.Metadata, error) {
	query := `SELECT khatam_count, last_month, updated_at FROM khatam_metadata WHERE id = $1`
	m := khatam.Metadata{}
	err := r.db.QueryRowContext(ctx, query, metadataRowID).Scan(&m.CycleCount, &m.RecordedPeriod, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, khatam.ErrMetadataNotFound
		}
		return nil, fmt.Errorf("error getting cycle metadata: %w", unavailable(err))
	}
	return &m, nil
}

func (r *PostgresMetadataRepository) Initialize(ctx context.Context, meta khatam.Metadata) error {
	query := `INSERT INTO khatam_metadata (id, khatam_count, last_month, updated_at)
               VALUES ($1, $2, $3, NOW())
               ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, metadataRowID, meta.CycleCount, meta.RecordedPeriod); err != nil {
		return fmt.Errorf("error initializing cycle metadata: %w", unavailable(err))
	}
	return nil
}

func (r *PostgresMetadataRepository) Write(ctx context.Context, meta khatam.Metadata) error {
	query := `INSERT INTO khatam_metadata (id, khatam_count, last_month, updated_at)
               VALUES ($1, $2, $3, NOW())
               ON CONFLICT (id) DO UPDATE
               SET khatam_count = EXCLUDED.khatam_count, last_month = EXCLUDED.last_month, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, metadataRowID, meta.CycleCount, meta.RecordedPeriod); err != nil {
		return fmt.Errorf("error writing cycle metadata: %w", unavailable(err))
	}
	return nil
}

// CompareAndSwap relies on the row-level check in the WHERE clause; only one of
// several concurrent callers with the same expected state sees a row affected.
func (r *PostgresMetadataRepository) CompareAndSwap(ctx context.Context, expected, next khatam.Metadata) (bool, error) {
	query := `UPDATE khatam_metadata
               SET khatam_count = $1, last_month = $2, updated_at = COALESCE($6::timestamptz, NOW())
               WHERE id = $3 AND khatam_count = $4 AND last_month = $5`
	updatedAt := sql.NullTime{Time: next.UpdatedAt, Valid: !next.UpdatedAt.IsZero()}
	res, err := r.db.ExecContext(ctx, query,
		next.CycleCount, next.RecordedPeriod,
		metadataRowID, expected.CycleCount, expected.RecordedPeriod,
		updatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("error updating cycle metadata: %w", unavailable(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows for cycle metadata: %w", unavailable(err))
	}
	return affected == 1, nil
}
