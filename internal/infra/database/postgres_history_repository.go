// internal/infra/database/postgres_history_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"khatam_bot/internal/domain/khatam"
)

type PostgresHistoryRepository struct {
	db *sql.DB
}

func NewPostgresHistoryRepository(db *sql.DB) *PostgresHistoryRepository {
	return &PostgresHistoryRepository{db: db}
}

// AppendBatch inserts the whole batch in one transaction. Batch completeness is
// the caller's responsibility.
func (r *PostgresHistoryRepository) AppendBatch(ctx context.Context, entries []khatam.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for history batch: %w", unavailable(err))
	}
	defer txn.Rollback() // Rollback if not committed

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO khatam_history (khatam_number, juz_number, name, month_name, archived_at)
                                         VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for history batch: %w", unavailable(err))
	}
	defer stmt.Close()

	for _, e := range entries {
		var archivedAt sql.NullTime
		if !e.ArchivedAt.IsZero() {
			archivedAt = sql.NullTime{Time: e.ArchivedAt, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, e.CycleNumber, e.UnitIndex, e.ClaimantName, e.PeriodName, archivedAt); err != nil {
			return fmt.Errorf("error inserting history entry (cycle %d, juz %d): %w", e.CycleNumber, e.UnitIndex, unavailable(err))
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit history batch: %w", unavailable(err))
	}
	return nil
}

func (r *PostgresHistoryRepository) ListAll(ctx context.Context) ([]khatam.HistoryEntry, error) {
	query := `SELECT id, khatam_number, juz_number, name, month_name, archived_at
               FROM khatam_history ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing history: %w", unavailable(err))
	}
	defer rows.Close()

	entries := make([]khatam.HistoryEntry, 0)
	for rows.Next() {
		e := khatam.HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.CycleNumber, &e.UnitIndex, &e.ClaimantName, &e.PeriodName, &e.ArchivedAt); err != nil {
			return nil, fmt.Errorf("error scanning history entry: %w", unavailable(err))
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", unavailable(err))
	}
	return entries, nil
}
