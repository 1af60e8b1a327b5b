// Package responses keeps the per-tenant mapping from normalized path to the
// canned reply served for it.
package responses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"echohook/internal/paths"
	"echohook/internal/types"
)

// Records is the persistence the store runs on. UpsertResponse must run fn
// and write its result atomically per (tenant, path).
type Records interface {
	UpsertResponse(ctx context.Context, tenantID, path string, fn func(existing *types.ConfiguredResponse) (*types.ConfiguredResponse, error)) (*types.ConfiguredResponse, error)
	GetResponse(ctx context.Context, tenantID, path string) (*types.ConfiguredResponse, error)
	ListResponses(ctx context.Context, tenantID string) ([]*types.ConfiguredResponse, error)
	DeleteResponse(ctx context.Context, tenantID, path string) error
	PurgeResponses(ctx context.Context, tenantID string) (int, error)
}

type Store struct {
	records Records
	clock   clockwork.Clock
}

func New(records Records, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{records: records, clock: clock}
}

// Upsert creates the rule for path or replaces the reply of the existing
// one. An existing rule keeps its id; LastModifiedAt is always refreshed.
func (s *Store) Upsert(ctx context.Context, tenantID, path, body string, kind types.ContentKind, statusCode int) (*types.ConfiguredResponse, error) {
	if strings.TrimSpace(path) == "" {
		return nil, types.Validationf("Path cannot be null or whitespace.")
	}
	if strings.TrimSpace(body) == "" {
		return nil, types.Validationf("Body cannot be null or whitespace.")
	}
	key := paths.Normalize(tenantID, path)

	rule, err := s.records.UpsertResponse(ctx, tenantID, key, func(existing *types.ConfiguredResponse) (*types.ConfiguredResponse, error) {
		next := &types.ConfiguredResponse{
			TenantID:       tenantID,
			Path:           key,
			Body:           body,
			ContentKind:    kind,
			StatusCode:     statusCode,
			LastModifiedAt: s.clock.Now().UTC(),
		}
		if existing != nil {
			next.ID = existing.ID
		} else {
			next.ID = uuid.NewString()
		}
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert response %s: %w", key, err)
	}
	return rule, nil
}

// Find returns the rule whose path equals the normalized rawPath. A missing
// rule is reported through found, not as an error.
func (s *Store) Find(ctx context.Context, tenantID, rawPath string) (rule *types.ConfiguredResponse, found bool, err error) {
	rule, err = s.records.GetResponse(ctx, tenantID, paths.Normalize(tenantID, rawPath))
	switch {
	case errors.Is(err, types.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return rule, true, nil
}

func (s *Store) List(ctx context.Context, tenantID string) ([]*types.ConfiguredResponse, error) {
	return s.records.ListResponses(ctx, tenantID)
}

func (s *Store) Delete(ctx context.Context, tenantID, rawPath string) error {
	return s.records.DeleteResponse(ctx, tenantID, paths.Normalize(tenantID, rawPath))
}

func (s *Store) PurgeAll(ctx context.Context, tenantID string) (int, error) {
	return s.records.PurgeResponses(ctx, tenantID)
}
