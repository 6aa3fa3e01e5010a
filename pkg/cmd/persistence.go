// Package cmd provides common initialization for the command-line
// entrypoints.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/studio233/flowcore/pkg/persistence"
	"github.com/studio233/flowcore/pkg/persistence/memory"
	"github.com/studio233/flowcore/pkg/persistence/postgresql"
	"github.com/studio233/flowcore/pkg/persistence/redis"
)

// dualStore is the production persistence layout: definitions in Redis,
// the run ledger in PostgreSQL.
type dualStore struct {
	definitions *redis.DefinitionRepository
	ledger      *postgresql.RunLedger
}

func (s *dualStore) Definitions() persistence.DefinitionRepository { return s.definitions }

func (s *dualStore) Runs() persistence.RunRepository { return s.ledger.Runs() }

func (s *dualStore) HealthCheck(ctx context.Context) error {
	if err := s.definitions.HealthCheck(ctx); err != nil {
		return fmt.Errorf("definition store: %w", err)
	}

	if err := s.ledger.HealthCheck(ctx); err != nil {
		return fmt.Errorf("run ledger: %w", err)
	}

	return nil
}

func (s *dualStore) Close(ctx context.Context) error {
	if err := s.definitions.Close(ctx); err != nil {
		return err
	}

	return s.ledger.Close(ctx)
}

// NewPersistence wires the storage layer. With both URLs empty it
// falls back to the in-memory store for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, redisURL string) (persistence.Persistence, error) {
	if databaseURL == "" && redisURL == "" {
		logger.WarnContext(ctx, "No storage configured, using in-memory persistence")

		return memory.NewPersistence(), nil
	}

	if databaseURL == "" || redisURL == "" {
		return nil, errors.New("both DATABASE_URL and REDIS_URL are required for durable persistence")
	}

	ledger, err := postgresql.NewRunLedger(ctx, logger, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize run ledger: %w", err)
	}

	definitions, err := redis.NewDefinitionRepository(ctx, logger, redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize definition store: %w", err)
	}

	return &dualStore{definitions: definitions, ledger: ledger}, nil
}
