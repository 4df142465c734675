package cache

import (
	"context"
	"time"

	"tillpoint/backend/internal/domain"
)

// ItemCache holds catalog snapshots so the sale pipeline does not hit
// the database for every line rehydration.
type ItemCache interface {
	Get(ctx context.Context, key string) (*domain.Item, bool, error)
	Set(ctx context.Context, key string, value *domain.Item, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopItemCache struct{}

func (NoopItemCache) Get(_ context.Context, _ string) (*domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopItemCache) Set(_ context.Context, _ string, _ *domain.Item, _ time.Duration) error {
	return nil
}

func (NoopItemCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
