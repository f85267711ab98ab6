package feedback

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/repository"
	"github.com/rs/zerolog/log"
)

const reconcileBatchLimit = 50

// staleMarker is the one bit of forecast state the feedback loop touches.
type staleMarker interface {
	MarkStale(itemID string)
}

// Config tunes the accuracy feedback loop.
type Config struct {
	// MAPEThreshold is the rolling error above which the model is flagged.
	MAPEThreshold float64
	// Window is how many reconciled forecasts the rolling error spans.
	Window int
}

// Reconciler compares elapsed forecasts with realized consumption and
// maintains a rolling accuracy score per item. It never blocks or mutates
// an in-flight model; a bad score only flips the staleness bit consumed by
// the model manager.
type Reconciler struct {
	audit       repository.ForecastAuditRepository
	consumption repository.ConsumptionRepository
	models      staleMarker
	cfg         Config
	nowFn       func() time.Time
}

func NewReconciler(audit repository.ForecastAuditRepository, consumption repository.ConsumptionRepository, models staleMarker, cfg Config) *Reconciler {
	if cfg.MAPEThreshold <= 0 {
		cfg.MAPEThreshold = 0.40
	}
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	return &Reconciler{
		audit:       audit,
		consumption: consumption,
		models:      models,
		cfg:         cfg,
		nowFn:       time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *Reconciler) SetClock(now func() time.Time) { r.nowFn = now }

// Reconcile scores every elapsed, not-yet-reconciled forecast for one item
// and refreshes the item's rolling accuracy. Returns the updated state, or
// the previous one when nothing had elapsed.
func (r *Reconciler) Reconcile(ctx context.Context, itemID string) (*domain.ItemAccuracy, error) {
	now := r.nowFn()

	elapsed, err := r.audit.ElapsedUnreconciled(ctx, itemID, now, reconcileBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load elapsed forecasts for %s: %w", itemID, err)
	}

	for _, af := range elapsed {
		from := truncateDay(af.Result.GeneratedAt)
		to := from.AddDate(0, 0, af.Result.HorizonDays)

		realized, err := r.consumption.TotalInRange(ctx, itemID, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to load realized consumption for %s: %w", itemID, err)
		}

		ape := absolutePercentageError(realized, af.Result.PointEstimate)
		if err := r.audit.MarkReconciled(ctx, af.ID, ape); err != nil {
			return nil, fmt.Errorf("failed to mark forecast reconciled: %w", err)
		}

		log.Debug().
			Str("item_id", itemID).
			Float64("forecast", af.Result.PointEstimate).
			Float64("realized", realized).
			Float64("ape", ape).
			Msg("feedback: forecast reconciled")
	}

	apes, err := r.audit.RecentAPEs(ctx, itemID, r.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent errors for %s: %w", itemID, err)
	}
	if len(apes) == 0 {
		return r.audit.Accuracy(ctx, itemID)
	}

	var sum float64
	for _, a := range apes {
		sum += a
	}
	mape := sum / float64(len(apes))

	acc := &domain.ItemAccuracy{
		ItemID:       itemID,
		RollingMAPE:  mape,
		SampleCount:  len(apes),
		LastError:    apes[0],
		ModelStale:   mape > r.cfg.MAPEThreshold,
		ReconciledAt: now,
	}
	if err := r.audit.UpsertAccuracy(ctx, acc); err != nil {
		return nil, fmt.Errorf("failed to store accuracy for %s: %w", itemID, err)
	}

	if acc.ModelStale && r.models != nil {
		log.Warn().
			Str("item_id", itemID).
			Float64("rolling_mape", mape).
			Float64("threshold", r.cfg.MAPEThreshold).
			Msg("feedback: rolling error above threshold, forcing retrain")
		r.models.MarkStale(itemID)
	}

	return acc, nil
}

// ReconcileAll sweeps every item with recent consumption. Per-item failures
// are logged and skipped; one item's bad data never blocks the rest.
func (r *Reconciler) ReconcileAll(ctx context.Context, lookback time.Duration) error {
	since := r.nowFn().Add(-lookback)
	items, err := r.consumption.ActiveItemIDs(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list items for reconciliation: %w", err)
	}

	for _, itemID := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.Reconcile(ctx, itemID); err != nil {
			log.Error().Err(err).Str("item_id", itemID).Msg("feedback: reconcile failed")
		}
	}
	return nil
}

// absolutePercentageError is |realized - forecast| / realized. A zero
// realized quantity scores 0 for a zero forecast and 1 otherwise, keeping
// the rolling score finite.
func absolutePercentageError(realized, forecast float64) float64 {
	if realized <= 0 {
		if forecast <= 0 {
			return 0
		}
		return 1
	}
	return math.Abs(realized-forecast) / realized
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
