package replenish

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	stockoutEpsilon = 1e-6

	// Lower bound on the staleness decay factor. A missing snapshot is
	// treated as maximally stale and gets exactly this factor, so an old
	// snapshot can never score below no snapshot at all.
	minStalenessFactor = 0.25
)

// ForecastProvider is the slice of the model manager the optimizer needs.
type ForecastProvider interface {
	GetForecast(ctx context.Context, itemID string, horizonDays int) (*domain.ForecastResult, error)
}

// Config tunes the replenishment policy. The z multiplier and review period
// are operational defaults, tunable per deployment.
type Config struct {
	ReviewPeriodDays    int
	ServiceLevelZ       float64
	StockFreshness      time.Duration
	DefaultLeadTimeDays int
}

func (c *Config) applyDefaults() {
	if c.ReviewPeriodDays <= 0 {
		c.ReviewPeriodDays = 7
	}
	if c.ServiceLevelZ <= 0 {
		c.ServiceLevelZ = 1.65
	}
	if c.StockFreshness <= 0 {
		c.StockFreshness = 24 * time.Hour
	}
	if c.DefaultLeadTimeDays <= 0 {
		c.DefaultLeadTimeDays = 3
	}
}

// Optimizer turns a demand forecast, the live stock level and the supplier
// packaging terms into a bounded, pack-rounded reorder recommendation.
// Data-quality problems (stale stock, missing constraint) degrade the
// output and set flags; only a broken structural invariant withholds it.
type Optimizer struct {
	forecasts ForecastProvider
	stock     repository.StockRepository
	suppliers repository.SupplierRepository
	cfg       Config
	nowFn     func() time.Time
}

func NewOptimizer(forecasts ForecastProvider, stock repository.StockRepository, suppliers repository.SupplierRepository, cfg Config) *Optimizer {
	cfg.applyDefaults()
	return &Optimizer{
		forecasts: forecasts,
		stock:     stock,
		suppliers: suppliers,
		cfg:       cfg,
		nowFn:     time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (o *Optimizer) SetClock(now func() time.Time) { o.nowFn = now }

func (o *Optimizer) Recommend(ctx context.Context, itemID string) (*domain.ReorderRecommendation, error) {
	constraint, err := o.suppliers.ConstraintForItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load supplier constraint for %s: %w", itemID, err)
	}

	constraintMissing := constraint == nil || constraint.PackSize <= 0
	if constraintMissing {
		log.Warn().Str("item_id", itemID).Msg("replenish: no supplier constraint, using pack size 1")
		constraint = &domain.SupplierConstraint{
			ItemID:       itemID,
			PackSize:     1,
			LeadTimeDays: o.cfg.DefaultLeadTimeDays,
		}
	}

	horizon := constraint.LeadTimeDays + o.cfg.ReviewPeriodDays
	forecast, err := o.forecasts.GetForecast(ctx, itemID, horizon)
	if err != nil {
		return nil, err
	}
	if err := checkForecastInvariants(itemID, forecast); err != nil {
		// A wrong number is worse than no number; withhold and let the
		// caller surface "no recommendation available".
		log.Error().Err(err).Str("item_id", itemID).Msg("replenish: forecast violated invariants, withholding recommendation")
		return nil, err
	}

	now := o.nowFn()
	snapshot, err := o.stock.Snapshot(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock snapshot for %s: %w", itemID, err)
	}

	currentStock := 0.0
	staleStock := true
	confidence := forecast.Confidence
	if snapshot == nil {
		confidence *= minStalenessFactor
	} else {
		currentStock = math.Max(0, snapshot.CurrentQuantity)
		age := now.Sub(snapshot.AsOf)
		staleStock = age > o.cfg.StockFreshness
		if staleStock && age > 0 {
			// Confidence decays in proportion to how far past the
			// freshness window the snapshot is, floored so an aged
			// snapshot still beats a missing one.
			factor := float64(o.cfg.StockFreshness) / float64(age)
			if factor < minStalenessFactor {
				factor = minStalenessFactor
			}
			confidence *= factor
		}
	}

	safetyStock := o.cfg.ServiceLevelZ * forecast.ResidualStd
	target := forecast.UpperBound + safetyStock - currentStock

	packSize := constraint.PackSize
	packs := 0
	if target > 0 {
		// Always round up: rounding down would eat the safety margin.
		packs = int(math.Ceil(target / packSize))
	}
	qty := float64(packs) * packSize

	if qty > 0 && qty < constraint.MinOrderQty {
		packs = int(math.Ceil(constraint.MinOrderQty / packSize))
		qty = float64(packs) * packSize
	}

	cost := decimal.Zero
	if constraint.UnitCost.IsPositive() {
		cost = constraint.UnitCost.Mul(decimal.NewFromFloat(qty))
		if qty > 0 && constraint.MinOrderValue.IsPositive() && cost.LessThan(constraint.MinOrderValue) {
			packValue := constraint.UnitCost.Mul(decimal.NewFromFloat(packSize))
			packs = int(constraint.MinOrderValue.Div(packValue).Ceil().IntPart())
			qty = float64(packs) * packSize
			cost = constraint.UnitCost.Mul(decimal.NewFromFloat(qty))
		}
	}

	if qty < 0 || math.Mod(qty, packSize) > 1e-9 {
		return nil, &domain.InvariantViolationError{
			ItemID:    itemID,
			Invariant: fmt.Sprintf("recommended qty %.3f not a multiple of pack %.3f", qty, packSize),
		}
	}

	daysUntilStockout := currentStock / math.Max(forecast.DailyRate, stockoutEpsilon)
	urgency := urgencyTier(daysUntilStockout, constraint.LeadTimeDays, o.cfg.ReviewPeriodDays)

	rec := &domain.ReorderRecommendation{
		ID:                uuid.NewString(),
		ItemID:            itemID,
		SupplierID:        constraint.SupplierID,
		RecommendedQty:    qty,
		PackCount:         packs,
		PackSize:          packSize,
		SafetyStockQty:    safetyStock,
		Urgency:           urgency,
		Confidence:        clamp01(confidence),
		EstimatedCost:     cost,
		StaleStock:        staleStock,
		ConstraintMissing: constraintMissing,
		GeneratedAt:       now,
	}
	rec.ReasoningSummary = o.reasoning(rec, forecast, constraint, currentStock, daysUntilStockout, staleStock)

	return rec, nil
}

func checkForecastInvariants(itemID string, f *domain.ForecastResult) error {
	switch {
	case math.IsNaN(f.PointEstimate) || math.IsNaN(f.LowerBound) || math.IsNaN(f.UpperBound):
		return &domain.InvariantViolationError{ItemID: itemID, Invariant: "non-finite forecast"}
	case f.PointEstimate < 0:
		return &domain.InvariantViolationError{ItemID: itemID, Invariant: "negative point estimate"}
	case f.LowerBound > f.PointEstimate || f.PointEstimate > f.UpperBound:
		return &domain.InvariantViolationError{ItemID: itemID, Invariant: "forecast bounds out of order"}
	}
	return nil
}

func urgencyTier(daysUntilStockout float64, leadTimeDays, reviewPeriodDays int) domain.UrgencyTier {
	switch {
	case daysUntilStockout < float64(leadTimeDays):
		return domain.UrgencyCritical
	case daysUntilStockout < float64(leadTimeDays+3):
		return domain.UrgencyHigh
	case daysUntilStockout < float64(leadTimeDays+reviewPeriodDays):
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

// reasoning is a deterministic template fill, not text generation: the same
// inputs always produce the same summary.
func (o *Optimizer) reasoning(rec *domain.ReorderRecommendation, f *domain.ForecastResult, c *domain.SupplierConstraint, currentStock, daysUntilStockout float64, staleStock bool) string {
	freshness := "fresh"
	if staleStock {
		freshness = "stale"
	}
	return fmt.Sprintf(
		"forecast %.1f units over %dd horizon (%.1f/day, model %s, confidence %.2f); stock %.1f (%s, ~%.1fd cover); safety stock %.1f at z=%.2f; order %d x pack %.0f = %.0f units; urgency %s (stockout in ~%.1fd vs %dd lead time)",
		f.UpperBound, f.HorizonDays, f.DailyRate, f.ModelKind, rec.Confidence,
		currentStock, freshness, daysUntilStockout,
		rec.SafetyStockQty, o.cfg.ServiceLevelZ,
		rec.PackCount, c.PackSize, rec.RecommendedQty,
		rec.Urgency, daysUntilStockout, c.LeadTimeDays,
	)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
