// internal/infra/database/postgres_unit_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"khatam_bot/internal/domain/khatam"

	"github.com/lib/pq" // For pq.Array
)

type PostgresUnitRepository struct {
	db *sql.DB
}

func NewPostgresUnitRepository(db *sql.DB) *PostgresUnitRepository {
	return &PostgresUnitRepository{db: db}
}

func (r *PostgresUnitRepository) ListUnits(ctx context.Context) (khatam.Board, error) {
	query := `SELECT juz_number, claimant_name, claimed_at FROM khatam_units ORDER BY juz_number`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing units: %w", unavailable(err))
	}
	defer rows.Close()

	board := make(khatam.Board, 0, khatam.TotalUnits)
	for rows.Next() {
		u := khatam.Unit{}
		if err := rows.Scan(&u.Index, &u.ClaimantName, &u.ClaimedAt); err != nil {
			return nil, fmt.Errorf("error scanning unit: %w", unavailable(err))
		}
		board = append(board, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating units: %w", unavailable(err))
	}
	return board, nil
}

// ClaimUnits is one conditional bulk update; each row is only taken if it is still
// unclaimed when the statement reaches it.
func (r *PostgresUnitRepository) ClaimUnits(ctx context.Context, indices []int, claimantName string) ([]int, error) {
	if len(indices) == 0 {
		return nil, nil
	}

	query := `UPDATE khatam_units
               SET claimant_name = $1, claimed_at = NOW()
               WHERE juz_number = ANY($2::int[]) AND claimant_name IS NULL
               RETURNING juz_number`

	ids := make([]int64, len(indices))
	for i, idx := range indices {
		ids[i] = int64(idx)
	}

	rows, err := r.db.QueryContext(ctx, query, claimantName, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error claiming units: %w", unavailable(err))
	}
	defer rows.Close()

	claimed := make([]int, 0, len(indices))
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("error scanning claimed unit: %w", unavailable(err))
		}
		claimed = append(claimed, idx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed units: %w", unavailable(err))
	}
	return claimed, nil
}

func (r *PostgresUnitRepository) ClearAll(ctx context.Context) error {
	query := `UPDATE khatam_units SET claimant_name = NULL, claimed_at = NULL
               WHERE claimant_name IS NOT NULL OR claimed_at IS NOT NULL`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("error clearing units: %w", unavailable(err))
	}
	return nil
}
