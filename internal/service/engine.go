package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cafeops/replenish/internal/cache"
	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/feedback"
	"github.com/cafeops/replenish/internal/forecast"
	"github.com/cafeops/replenish/internal/replenish"
	"github.com/cafeops/replenish/internal/repository"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const reconcileLookback = 30 * 24 * time.Hour

// Engine is the façade the API and schedulers talk to. It front-loads a
// TTL cache over the forecast and recommendation paths and collapses
// concurrent requests for the same item into a single computation.
type Engine struct {
	forecasts  *forecast.Manager
	optimizer  *replenish.Optimizer
	reconciler *feedback.Reconciler
	audit      repository.ForecastAuditRepository
	cache      cache.RecommendationCache
	group      singleflight.Group
	nowFn      func() time.Time
}

func NewEngine(
	forecasts *forecast.Manager,
	optimizer *replenish.Optimizer,
	reconciler *feedback.Reconciler,
	audit repository.ForecastAuditRepository,
	recCache cache.RecommendationCache,
) *Engine {
	if recCache == nil {
		recCache = cache.NewNoopRecommendationCache()
	}
	return &Engine{
		forecasts:  forecasts,
		optimizer:  optimizer,
		reconciler: reconciler,
		audit:      audit,
		cache:      recCache,
		nowFn:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) { e.nowFn = now }

func (e *Engine) GetForecast(ctx context.Context, itemID string, horizonDays int) (*domain.ForecastResult, error) {
	if horizonDays <= 0 {
		return nil, fmt.Errorf("invalid horizon %d for item %s", horizonDays, itemID)
	}

	day := e.nowFn().UTC().Truncate(24 * time.Hour)
	if cached, ok, err := e.cache.GetForecast(ctx, itemID, horizonDays, day); err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("engine: forecast cache read failed")
	} else if ok {
		return cached, nil
	}

	key := fmt.Sprintf("fc:%s:%d", itemID, horizonDays)
	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		result, err := e.forecasts.GetForecast(ctx, itemID, horizonDays)
		if err != nil {
			return nil, err
		}
		if err := e.cache.SetForecast(ctx, itemID, horizonDays, day, result); err != nil {
			log.Warn().Err(err).Str("item_id", itemID).Msg("engine: forecast cache write failed")
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ForecastResult), nil
}

func (e *Engine) GetRecommendation(ctx context.Context, itemID string) (*domain.ReorderRecommendation, error) {
	day := e.nowFn().UTC().Truncate(24 * time.Hour)
	if cached, ok, err := e.cache.GetRecommendation(ctx, itemID, day); err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("engine: recommendation cache read failed")
	} else if ok {
		return cached, nil
	}

	v, err, _ := e.group.Do("rec:"+itemID, func() (interface{}, error) {
		rec, err := e.optimizer.Recommend(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if err := e.cache.SetRecommendation(ctx, itemID, day, rec); err != nil {
			log.Warn().Err(err).Str("item_id", itemID).Msg("engine: recommendation cache write failed")
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ReorderRecommendation), nil
}

// ReconcileNow scores an item's elapsed forecasts against realized
// consumption and drops its cached answers so the next request reflects
// the updated accuracy state.
func (e *Engine) ReconcileNow(ctx context.Context, itemID string) (*domain.ItemAccuracy, error) {
	acc, err := e.reconciler.Reconcile(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := e.cache.InvalidateItem(ctx, itemID); err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("engine: cache invalidation failed after reconcile")
	}
	return acc, nil
}

// ReconcileAll sweeps every item active over the past month; used by the
// scheduler.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	return e.reconciler.ReconcileAll(ctx, reconcileLookback)
}

func (e *Engine) Accuracy(ctx context.Context, itemID string) (*domain.ItemAccuracy, error) {
	return e.audit.Accuracy(ctx, itemID)
}

// InvalidateItem is called by the ingest path when new consumption rows
// land for an item.
func (e *Engine) InvalidateItem(ctx context.Context, itemID string) error {
	return e.cache.InvalidateItem(ctx, itemID)
}
