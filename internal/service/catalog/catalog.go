// Package catalog is the read side of the exercise catalog, cached in process.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

type Catalog struct {
	repo    repository.ExerciseRepository
	cache   *cache.Cache
	metrics *metrics.Metrics
}

func New(repo repository.ExerciseRepository, ttl, cleanupInterval time.Duration, m *metrics.Metrics) *Catalog {
	return &Catalog{
		repo:    repo,
		cache:   cache.New(ttl, cleanupInterval),
		metrics: m,
	}
}

// Lookup returns the exercise, or nil when it no longer exists. A cached
// definition is served until it expires, so callers that must not see
// deleted exercises use Resolve.
func (c *Catalog) Lookup(ctx context.Context, id uuid.UUID) (*model.Exercise, error) {
	if cached, found := c.cache.Get(id.String()); found {
		c.metrics.CatalogCacheLookups.WithLabelValues("hit").Inc()
		e := cached.(model.Exercise)
		return &e, nil
	}
	c.metrics.CatalogCacheLookups.WithLabelValues("miss").Inc()

	exercise, err := c.repo.Get(ctx, id)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load exercise: %w", err)
	}

	c.cache.Set(id.String(), *exercise, cache.DefaultExpiration)
	return exercise, nil
}

// Resolve checks ids against the repository and returns the definitions of
// those still in the catalog. Deleted ids are absent from the result and
// evicted from the cache; the cache only supplies titles and descriptions.
func (c *Catalog) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Exercise, error) {
	existing, err := c.repo.Existing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check exercises: %w", err)
	}

	out := make(map[uuid.UUID]*model.Exercise, len(existing))
	for _, id := range ids {
		if !existing[id] {
			c.Invalidate(id)
			continue
		}
		exercise, err := c.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if exercise != nil {
			out[id] = exercise
		}
	}
	return out, nil
}

// Require resolves a single exercise that must exist.
func (c *Catalog) Require(ctx context.Context, id uuid.UUID) (*model.Exercise, error) {
	found, err := c.Resolve(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	exercise, ok := found[id]
	if !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("exercise %s", id), nil)
	}
	return exercise, nil
}

func (c *Catalog) List(ctx context.Context) ([]*model.Exercise, error) {
	return c.repo.List(ctx)
}

func (c *Catalog) Create(ctx context.Context, exercise *model.Exercise) error {
	if err := c.repo.Create(ctx, exercise); err != nil {
		return err
	}
	c.cache.Set(exercise.ID.String(), *exercise, cache.DefaultExpiration)
	return nil
}

// Invalidate drops a cached entry.
func (c *Catalog) Invalidate(id uuid.UUID) {
	c.cache.Delete(id.String())
}
