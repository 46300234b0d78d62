package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appmetering "github.com/staryer/backend/internal/application/metering"
	"github.com/staryer/backend/internal/domain/metering"
	"github.com/staryer/backend/internal/infrastructure/config"
)

// NewRedisClient creates a redis client from configuration and verifies the
// connection.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// cachedAggregate is the redis wire form of a usage aggregate
type cachedAggregate struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	MeterID        uuid.UUID  `json:"meter_id"`
	UserID         string     `json:"user_id"`
	BillingPeriod  string     `json:"billing_period"`
	AggregateValue float64    `json:"aggregate_value"`
	EventCount     int64      `json:"event_count"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty"`
}

// RedisAggregateCache caches materialized usage aggregates in redis.
// Cache failures are logged and swallowed: the database aggregate is the
// source of truth and a miss only costs a read there.
type RedisAggregateCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisAggregateCache creates a redis-backed aggregate cache
func NewRedisAggregateCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisAggregateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisAggregateCache{client: client, ttl: ttl, logger: logger}
}

func aggregateKey(tenantID, meterID uuid.UUID, userID, billingPeriod string) string {
	return fmt.Sprintf("usage:agg:%s:%s:%s:%s", tenantID, meterID, userID, billingPeriod)
}

// Get retrieves a cached aggregate, reporting a miss on any failure
func (c *RedisAggregateCache) Get(ctx context.Context, tenantID, meterID uuid.UUID, userID, billingPeriod string) (*metering.UsageAggregate, bool) {
	key := aggregateKey(tenantID, meterID, userID, billingPeriod)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Aggregate cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var cached cachedAggregate
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Warn("Aggregate cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	agg := &metering.UsageAggregate{
		TenantID:       cached.TenantID,
		MeterID:        cached.MeterID,
		UserID:         cached.UserID,
		BillingPeriod:  cached.BillingPeriod,
		AggregateValue: cached.AggregateValue,
		EventCount:     cached.EventCount,
		LastEventAt:    cached.LastEventAt,
	}
	agg.ID = cached.ID
	return agg, true
}

// Set stores an aggregate with the configured TTL
func (c *RedisAggregateCache) Set(ctx context.Context, aggregate *metering.UsageAggregate) {
	cached := cachedAggregate{
		ID:             aggregate.ID,
		TenantID:       aggregate.TenantID,
		MeterID:        aggregate.MeterID,
		UserID:         aggregate.UserID,
		BillingPeriod:  aggregate.BillingPeriod,
		AggregateValue: aggregate.AggregateValue,
		EventCount:     aggregate.EventCount,
		LastEventAt:    aggregate.LastEventAt,
	}

	data, err := json.Marshal(cached)
	if err != nil {
		c.logger.Warn("Aggregate cache marshal failed", zap.Error(err))
		return
	}

	key := aggregateKey(aggregate.TenantID, aggregate.MeterID, aggregate.UserID, aggregate.BillingPeriod)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Aggregate cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes a cached aggregate
func (c *RedisAggregateCache) Invalidate(ctx context.Context, tenantID, meterID uuid.UUID, userID, billingPeriod string) {
	key := aggregateKey(tenantID, meterID, userID, billingPeriod)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("Aggregate cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

// Ensure RedisAggregateCache implements the interface
var _ appmetering.AggregateCache = (*RedisAggregateCache)(nil)
