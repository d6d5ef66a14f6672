package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"khatam_bot/internal/domain/khatam"

	"github.com/lib/pq"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

//go:embed schema.sql
var schemaSQL string

// NewPostgresConnection creates and returns a new PostgreSQL database connection.
// It also pings the database to ensure connectivity.
func NewPostgresConnection(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the khatam tables, provisions the 30 units and installs
// triggers that publish change events on notifyChannel. It is safe to run on every start.
func EnsureSchema(ctx context.Context, db *sql.DB, notifyChannel string) error {
	stmt := strings.ReplaceAll(schemaSQL, "__NOTIFY_CHANNEL__", pq.QuoteLiteral(notifyChannel))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to apply schema: %w", unavailable(err))
	}
	return nil
}

// unavailable marks err as a transport or persistence failure.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", khatam.ErrStoreUnavailable, err)
}
