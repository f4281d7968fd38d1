// Package statecache persists the latest risk views in Redis so quick
// runs can re-derive work lists without re-running the expensive tasks.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/circuitbreaker"
	"github.com/pharmasentinel/orchestrator/internal/risk"
)

const riskViewsKey = "pharmasentinel:risk_views"

// ErrNoSnapshot means no full run has published risk views yet.
var ErrNoSnapshot = errors.New("no risk snapshot in cache")

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds snapshot staleness; a quick run never acts on views older
	// than this.
	TTL time.Duration
}

// Cache stores and loads the per-drug risk snapshot.
type Cache struct {
	redis  *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and wraps the client with the circuit breaker.
func New(config Config, logger *zap.Logger) (*Cache, error) {
	if config.TTL == 0 {
		config.TTL = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Cache{
		redis:  circuitbreaker.NewRedisWrapper(client, logger),
		ttl:    config.TTL,
		logger: logger,
	}, nil
}

// NewFromClient wraps an existing Redis client. Tests use this with
// miniredis.
func NewFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		redis:  circuitbreaker.NewRedisWrapper(client, logger),
		ttl:    ttl,
		logger: logger,
	}
}

// SaveViews publishes the latest per-drug risk views. Full runs call this
// after aggregation; the snapshot replaces the previous one atomically.
func (c *Cache) SaveViews(ctx context.Context, views []risk.DrugRiskView) error {
	data, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("marshal risk views: %w", err)
	}
	if err := c.redis.Set(ctx, riskViewsKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save risk views: %w", err)
	}
	c.logger.Debug("Risk snapshot saved", zap.Int("drugs", len(views)))
	return nil
}

// LoadViews returns the last published snapshot, or ErrNoSnapshot when
// nothing is cached.
func (c *Cache) LoadViews(ctx context.Context) ([]risk.DrugRiskView, error) {
	data, err := c.redis.Get(ctx, riskViewsKey).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load risk views: %w", err)
	}
	var views []risk.DrugRiskView
	if err := json.Unmarshal(data, &views); err != nil {
		return nil, fmt.Errorf("unmarshal risk views: %w", err)
	}
	for i := range views {
		views[i].Tier = risk.ParseTier(views[i].TierName)
	}
	return views, nil
}

// Invalidate drops the snapshot, forcing the next quick trigger to fall
// back to a full run.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, riskViewsKey).Err()
}

// Ping checks Redis connectivity through the circuit breaker.
func (c *Cache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.redis.Close()
}
