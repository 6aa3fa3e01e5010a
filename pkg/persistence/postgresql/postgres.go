// Package postgresql implements the run ledger on PostgreSQL.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/studio233/flowcore/pkg/persistence"
	"github.com/studio233/flowcore/pkg/persistence/sqlbase"
)

// RunLedger is the PostgreSQL-backed run repository.
type RunLedger struct {
	db      *sql.DB
	logger  *slog.Logger
	runRepo *RunRepository
}

// NewRunLedger connects, migrates and returns the ledger.
func NewRunLedger(ctx context.Context, logger *slog.Logger, databaseURL string) (*RunLedger, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &RunLedger{
		db:      database,
		logger:  logger,
		runRepo: NewRunRepository(database, logger),
	}, nil
}

// Runs returns the run repository.
func (l *RunLedger) Runs() persistence.RunRepository {
	return l.runRepo
}

// HealthCheck verifies the database connection is healthy.
func (l *RunLedger) HealthCheck(ctx context.Context) error {
	err := l.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (l *RunLedger) Close(_ context.Context) error {
	err := l.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}
