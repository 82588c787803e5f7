package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/domain/task"
)

// CustomerSource is the authoritative lookup behind the cache, typically the
// CRM-synced customers table.
type CustomerSource interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*task.Customer, error)
}

// CustomerCache is a cache-first customer directory. Hits are served from
// Redis; misses fall through to the source and refresh the TTL on write.
type CustomerCache struct {
	cache  Cache
	source CustomerSource
	ttl    time.Duration
	logger *zap.Logger
}

func NewCustomerCache(c Cache, source CustomerSource, ttl time.Duration, logger *zap.Logger) *CustomerCache {
	return &CustomerCache{
		cache:  c,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

func (cc *CustomerCache) GetCustomer(ctx context.Context, id uuid.UUID) (*task.Customer, error) {
	key := customerKey(id)

	var cached task.Customer
	err := cc.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !IsNotFound(err) {
		// Degraded cache should not block the contact flow
		cc.logger.Warn("customer cache read failed, falling through",
			zap.String("customer_id", id.String()),
			zap.Error(err))
	}

	customer, err := cc.source.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := cc.cache.SetJSON(ctx, key, customer, cc.ttl); err != nil {
		cc.logger.Warn("customer cache write failed",
			zap.String("customer_id", id.String()),
			zap.Error(err))
	}

	return customer, nil
}

// Invalidate drops the cached entry, forcing the next lookup to the source.
func (cc *CustomerCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return cc.cache.Delete(ctx, customerKey(id))
}

func customerKey(id uuid.UUID) string {
	return fmt.Sprintf("customer:%s", id)
}
