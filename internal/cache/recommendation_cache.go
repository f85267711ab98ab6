package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cafeops/replenish/internal/config"
	"github.com/cafeops/replenish/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	recommendationKeyPrefix = "recommendation"
	forecastKeyPrefix       = "forecast"
	scanBatchSize           = 100
)

// RecommendationCache is a read-through TTL cache over the engine's two
// expensive computations. A miss or cache error is never fatal; the
// engine recomputes and answers identically with the cache disabled.
type RecommendationCache interface {
	GetRecommendation(ctx context.Context, itemID string, day time.Time) (*domain.ReorderRecommendation, bool, error)
	SetRecommendation(ctx context.Context, itemID string, day time.Time, rec *domain.ReorderRecommendation) error
	GetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time) (*domain.ForecastResult, bool, error)
	SetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time, result *domain.ForecastResult) error
	InvalidateItem(ctx context.Context, itemID string) error
	InvalidateAll(ctx context.Context) error
}

type redisRecommendationCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopRecommendationCache struct{}

func NewRecommendationCache(cfg config.CacheConfig) (RecommendationCache, error) {
	if !cfg.Enabled {
		return &noopRecommendationCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return &redisRecommendationCache{client: client, ttl: ttl}, nil
}

func NewNoopRecommendationCache() RecommendationCache {
	return &noopRecommendationCache{}
}

func (c *redisRecommendationCache) GetRecommendation(ctx context.Context, itemID string, day time.Time) (*domain.ReorderRecommendation, bool, error) {
	payload, err := c.client.Get(ctx, buildRecommendationKey(itemID, day)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var rec domain.ReorderRecommendation
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, false, fmt.Errorf("decode recommendation cache: %w", err)
	}
	return &rec, true, nil
}

func (c *redisRecommendationCache) SetRecommendation(ctx context.Context, itemID string, day time.Time, rec *domain.ReorderRecommendation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode recommendation cache: %w", err)
	}
	if err := c.client.Set(ctx, buildRecommendationKey(itemID, day), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisRecommendationCache) GetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time) (*domain.ForecastResult, bool, error) {
	payload, err := c.client.Get(ctx, buildForecastKey(itemID, horizonDays, day)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var result domain.ForecastResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false, fmt.Errorf("decode forecast cache: %w", err)
	}
	return &result, true, nil
}

func (c *redisRecommendationCache) SetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time, result *domain.ForecastResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode forecast cache: %w", err)
	}
	if err := c.client.Set(ctx, buildForecastKey(itemID, horizonDays, day), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidateItem drops every cached entry for one item, both prefixes.
// Called when new consumption data lands so stale answers never outlive
// the data that produced them.
func (c *redisRecommendationCache) InvalidateItem(ctx context.Context, itemID string) error {
	if err := deleteKeysWithPrefix(ctx, c.client, recommendationKeyPrefix+":"+itemID+":", scanBatchSize); err != nil {
		return err
	}
	return deleteKeysWithPrefix(ctx, c.client, forecastKeyPrefix+":"+itemID+":", scanBatchSize)
}

func (c *redisRecommendationCache) InvalidateAll(ctx context.Context) error {
	if err := deleteKeysWithPrefix(ctx, c.client, recommendationKeyPrefix+":", scanBatchSize); err != nil {
		return err
	}
	return deleteKeysWithPrefix(ctx, c.client, forecastKeyPrefix+":", scanBatchSize)
}

func (n *noopRecommendationCache) GetRecommendation(ctx context.Context, itemID string, day time.Time) (*domain.ReorderRecommendation, bool, error) {
	return nil, false, nil
}

func (n *noopRecommendationCache) SetRecommendation(ctx context.Context, itemID string, day time.Time, rec *domain.ReorderRecommendation) error {
	return nil
}

func (n *noopRecommendationCache) GetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time) (*domain.ForecastResult, bool, error) {
	return nil, false, nil
}

func (n *noopRecommendationCache) SetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time, result *domain.ForecastResult) error {
	return nil
}

func (n *noopRecommendationCache) InvalidateItem(ctx context.Context, itemID string) error {
	return nil
}

func (n *noopRecommendationCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildRecommendationKey(itemID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", recommendationKeyPrefix, itemID, day.UTC().Format("2006-01-02"))
}

func buildForecastKey(itemID string, horizonDays int, day time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%s", forecastKeyPrefix, itemID, horizonDays, day.UTC().Format("2006-01-02"))
}
