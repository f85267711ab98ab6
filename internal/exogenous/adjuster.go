package exogenous

import (
	"context"
	"time"

	"github.com/cafeops/replenish/internal/repository"
	"github.com/rs/zerolog/log"
)

// Combined multipliers are clamped so a single noisy signal cannot swing a
// forecast by more than these bounds.
const (
	MinMultiplier = 0.3
	MaxMultiplier = 3.0
)

// Adjuster derives a bounded multiplicative demand correction from the
// exogenous factors valid on a date. It never fails: absence or breakage of
// the factor feed degrades to the neutral multiplier 1.0.
type Adjuster struct {
	repo repository.FactorRepository
}

func NewAdjuster(repo repository.FactorRepository) *Adjuster {
	return &Adjuster{repo: repo}
}

// Adjustment combines all applicable factors by multiplying them, each first
// damped toward 1.0 in proportion to its source confidence, then clamps the
// product into [MinMultiplier, MaxMultiplier].
func (a *Adjuster) Adjustment(ctx context.Context, itemID string, date time.Time) float64 {
	if a.repo == nil {
		return 1.0
	}

	factors, err := a.repo.FactorsForDate(ctx, itemID, date)
	if err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("exogenous: factor lookup failed, using neutral")
		return 1.0
	}
	if len(factors) == 0 {
		return 1.0
	}

	combined := 1.0
	for _, f := range factors {
		if f.Multiplier <= 0 {
			continue
		}
		conf := clamp01(f.SourceConfidence)
		// A low-confidence factor contributes less deviation from neutral.
		damped := 1.0 + (f.Multiplier-1.0)*conf
		combined *= damped
	}

	if combined < MinMultiplier {
		return MinMultiplier
	}
	if combined > MaxMultiplier {
		return MaxMultiplier
	}
	return combined
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
