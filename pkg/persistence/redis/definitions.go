// Package redis stores workflow definitions in a Redis key-value
// namespace, one JSON document per definition plus a per-project list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/studio233/flowcore/pkg/models"
	"github.com/studio233/flowcore/pkg/persistence"
)

// DefinitionRepository implements persistence.DefinitionRepository on
// Redis. Keys embed the owner, so a caller can only ever address their
// own definitions; anything else is a missing key, reported not-found.
type DefinitionRepository struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// NewDefinitionRepository connects to Redis and returns the repository.
func NewDefinitionRepository(ctx context.Context, logger *slog.Logger, redisURL string) (*DefinitionRepository, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := goredis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &DefinitionRepository{client: client, logger: logger}, nil
}

// NewDefinitionRepositoryWithClient wraps an existing client; used by
// tests with a miniredis-style server.
func NewDefinitionRepositoryWithClient(client goredis.UniversalClient, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{client: client, logger: logger}
}

func defKey(owner persistence.Owner, id string) string {
	return fmt.Sprintf("workflow:def:%s:%s:%s", owner.UserID, owner.ProjectID, id)
}

func listKey(owner persistence.Owner) string {
	return fmt.Sprintf("workflow:list:%s:%s", owner.UserID, owner.ProjectID)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func ownerOf(def *models.WorkflowDefinition) persistence.Owner {
	return persistence.Owner{UserID: def.UserID, ProjectID: def.ProjectID}
}

// Create stores the definition and registers it in the owner's list.
func (r *DefinitionRepository) Create(ctx context.Context, def *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if def.ID == "" {
		id, err := newID()
		if err != nil {
			return persistence.NewDefinitionError("Create", "", err)
		}

		def.ID = id
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	return r.store(ctx, "Create", def)
}

// GetByID loads the definition for the owner; missing or unowned keys
// are both not-found.
func (r *DefinitionRepository) GetByID(ctx context.Context, owner persistence.Owner, id string) (*models.WorkflowDefinition, error) {
	data, err := r.client.Get(ctx, defKey(owner, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	return &def, nil
}

// List returns the owner's definitions, most recently updated first.
func (r *DefinitionRepository) List(ctx context.Context, owner persistence.Owner) ([]*models.WorkflowDefinition, error) {
	ids, err := r.client.SMembers(ctx, listKey(owner)).Result()
	if err != nil {
		return nil, persistence.NewDefinitionError("List", "", err)
	}

	defs := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		def, err := r.GetByID(ctx, owner, id)
		if persistence.IsDefinitionNotFound(err) {
			// The list can lag a delete; skip the stale entry.
			continue
		}

		if err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].UpdatedAt.After(defs[j].UpdatedAt)
	})

	return defs, nil
}

// Update overwrites the stored definition after confirming ownership.
func (r *DefinitionRepository) Update(ctx context.Context, def *models.WorkflowDefinition) error {
	existing, err := r.GetByID(ctx, ownerOf(def), def.ID)
	if err != nil {
		return err
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	return r.store(ctx, "Update", def)
}

// Delete removes the definition and its list entry.
func (r *DefinitionRepository) Delete(ctx context.Context, owner persistence.Owner, id string) error {
	deleted, err := r.client.Del(ctx, defKey(owner, id)).Result()
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	if deleted == 0 {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	err = r.client.SRem(ctx, listKey(owner), id).Err()
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	return nil
}

// Close releases the Redis connection.
func (r *DefinitionRepository) Close(_ context.Context) error {
	return r.client.Close()
}

// HealthCheck verifies the Redis connection.
func (r *DefinitionRepository) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *DefinitionRepository) store(ctx context.Context, op string, def *models.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return persistence.NewDefinitionError(op, def.ID, err)
	}

	owner := ownerOf(def)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, defKey(owner, def.ID), data, 0)
	pipe.SAdd(ctx, listKey(owner), def.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return persistence.NewDefinitionError(op, def.ID, err)
	}

	return nil
}
