package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// A single-row counter per counter name. The upsert makes the
	// read-increment-write one atomic statement, so concurrent pipeline
	// runs sharing a database cannot allocate the same version.
	allocateNextSQL = `
		INSERT INTO report_versions (name, value, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (name) DO UPDATE SET
			value = report_versions.value + 1,
			updated_at = NOW()
		RETURNING value;
	`
	currentSQL = `SELECT value FROM report_versions WHERE name = $1;`

	// SQL for creating the table (for reference)
	/*
		-- Run this manually or via migrations after connecting to the DB:
		CREATE TABLE IF NOT EXISTS report_versions (
			name VARCHAR(255) PRIMARY KEY,
			value INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	*/
)

// Ensure PostgresStore implements the Store interface at compile time
var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps the counter in a single PostgreSQL row, for teams
// whose pipeline runs do not share a workspace directory.
type PostgresStore struct {
	db      *pgxpool.Pool
	counter string
	logger  *slog.Logger
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
// counter names the row used for this pipeline's versions.
func NewPostgresStore(ctx context.Context, dsn, counter string, logger *slog.Logger) (*PostgresStore, error) {
	if counter == "" {
		return nil, fmt.Errorf("counter name is empty")
	}
	dbpool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("PostgreSQL connection pool established for version store")
	return &PostgresStore{db: dbpool, counter: counter, logger: logger}, nil
}

// AllocateNext implements Store.
func (s *PostgresStore) AllocateNext(ctx context.Context) (int, error) {
	var value int
	if err := s.db.QueryRow(ctx, allocateNextSQL, s.counter).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to allocate next version for counter %s: %w", s.counter, err)
	}
	s.logger.Info("Allocated report version", slog.Int("version", value), slog.String("counter", s.counter))
	return value, nil
}

// Current implements Store.
func (s *PostgresStore) Current(ctx context.Context) (int, error) {
	var value int
	err := s.db.QueryRow(ctx, currentSQL, s.counter).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query current version for counter %s: %w", s.counter, err)
	}
	return value, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
