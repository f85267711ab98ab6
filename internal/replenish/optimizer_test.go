package replenish

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fixedForecast struct {
	result *domain.ForecastResult
	err    error
}

func (f *fixedForecast) GetForecast(ctx context.Context, itemID string, horizonDays int) (*domain.ForecastResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.ItemID = itemID
	r.HorizonDays = horizonDays
	return &r, nil
}

type fixedStock struct {
	snapshot *domain.StockSnapshot
	err      error
}

func (f *fixedStock) Snapshot(ctx context.Context, itemID string) (*domain.StockSnapshot, error) {
	return f.snapshot, f.err
}

type fixedSupplier struct {
	constraint *domain.SupplierConstraint
	err        error
}

func (f *fixedSupplier) ConstraintForItem(ctx context.Context, itemID string) (*domain.SupplierConstraint, error) {
	return f.constraint, f.err
}

func (f *fixedSupplier) UpsertConstraint(ctx context.Context, c *domain.SupplierConstraint) error {
	return nil
}

func steadyForecast() *domain.ForecastResult {
	return &domain.ForecastResult{
		PointEstimate: 100,
		LowerBound:    90,
		UpperBound:    110,
		DailyRate:     10,
		ResidualStd:   5,
		Confidence:    0.8,
		ModelKind:     domain.ModelTreeEnsemble,
	}
}

func packConstraint() *domain.SupplierConstraint {
	return &domain.SupplierConstraint{
		SupplierID:   "roastery-co",
		ItemID:       "espresso-beans",
		PackSize:     5,
		LeadTimeDays: 3,
	}
}

func freshStock(qty float64) *fixedStock {
	return &fixedStock{snapshot: &domain.StockSnapshot{
		ItemID:          "espresso-beans",
		CurrentQuantity: qty,
		AsOf:            time.Now().Add(-time.Hour),
	}}
}

func newTestOptimizer(fc *fixedForecast, stock *fixedStock, supplier *fixedSupplier) *Optimizer {
	return NewOptimizer(fc, stock, supplier, Config{
		ReviewPeriodDays: 7,
		ServiceLevelZ:    1.65,
		StockFreshness:   24 * time.Hour,
	})
}

func TestRecommendSteadyDemand(t *testing.T) {
	opt := newTestOptimizer(
		&fixedForecast{result: steadyForecast()},
		freshStock(60),
		&fixedSupplier{constraint: packConstraint()},
	)

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	// target = 110 + 1.65*5 - 60 = 58.25, rounded up to 12 packs of 5.
	assert.Equal(t, 60.0, rec.RecommendedQty)
	assert.Equal(t, 12, rec.PackCount)
	assert.Zero(t, math.Mod(rec.RecommendedQty, rec.PackSize))
	assert.InDelta(t, 8.25, rec.SafetyStockQty, 1e-9)
	assert.Equal(t, domain.UrgencyMedium, rec.Urgency)
	assert.False(t, rec.StaleStock)
	assert.False(t, rec.ConstraintMissing)
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.ReasoningSummary)
}

func TestRecommendNearStockoutIsCritical(t *testing.T) {
	opt := newTestOptimizer(
		&fixedForecast{result: steadyForecast()},
		freshStock(5),
		&fixedSupplier{constraint: packConstraint()},
	)

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	// 5 units at 10/day is half a day of cover against a 3 day lead time.
	assert.Equal(t, domain.UrgencyCritical, rec.Urgency)
	assert.Greater(t, rec.RecommendedQty, 0.0)
}

func TestRecommendOverstockedOrdersNothing(t *testing.T) {
	opt := newTestOptimizer(
		&fixedForecast{result: steadyForecast()},
		freshStock(1000),
		&fixedSupplier{constraint: packConstraint()},
	)

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	assert.Equal(t, 0.0, rec.RecommendedQty)
	assert.Equal(t, 0, rec.PackCount)
	assert.Equal(t, domain.UrgencyLow, rec.Urgency)
}

func TestRecommendStaleStockDegradesConfidence(t *testing.T) {
	stale := &fixedStock{snapshot: &domain.StockSnapshot{
		ItemID:          "espresso-beans",
		CurrentQuantity: 60,
		AsOf:            time.Now().Add(-48 * time.Hour),
	}}
	opt := newTestOptimizer(&fixedForecast{result: steadyForecast()}, stale, &fixedSupplier{constraint: packConstraint()})

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	assert.True(t, rec.StaleStock)
	assert.Less(t, rec.Confidence, 0.8, "stale stock must lower confidence")
	assert.Greater(t, rec.RecommendedQty, 0.0, "stale stock degrades, it does not withhold")
}

func TestRecommendMissingSnapshotAssumesEmptyAndStale(t *testing.T) {
	opt := newTestOptimizer(
		&fixedForecast{result: steadyForecast()},
		&fixedStock{},
		&fixedSupplier{constraint: packConstraint()},
	)

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	assert.True(t, rec.StaleStock)
	assert.Equal(t, domain.UrgencyCritical, rec.Urgency)
	assert.InDelta(t, 0.8*minStalenessFactor, rec.Confidence, 1e-9,
		"no snapshot at all must score like a maximally stale one")
}

func TestRecommendConfidenceMonotoneInSnapshotAge(t *testing.T) {
	confAt := func(stock *fixedStock) float64 {
		opt := newTestOptimizer(&fixedForecast{result: steadyForecast()}, stock, &fixedSupplier{constraint: packConstraint()})
		rec, err := opt.Recommend(context.Background(), "espresso-beans")
		require.NoError(t, err)
		return rec.Confidence
	}
	snapshotAged := func(age time.Duration) *fixedStock {
		return &fixedStock{snapshot: &domain.StockSnapshot{
			ItemID:          "espresso-beans",
			CurrentQuantity: 60,
			AsOf:            time.Now().Add(-age),
		}}
	}

	fresh := confAt(snapshotAged(time.Hour))
	aged := confAt(snapshotAged(48 * time.Hour))
	ancient := confAt(snapshotAged(30 * 24 * time.Hour))
	missing := confAt(&fixedStock{})

	assert.Greater(t, fresh, aged)
	assert.Greater(t, aged, ancient, "decay continues past the freshness window")
	assert.LessOrEqual(t, missing, ancient, "a missing snapshot can never outscore a recorded one")
}

func TestRecommendMissingConstraintFallsBackToUnitPacks(t *testing.T) {
	opt := newTestOptimizer(
		&fixedForecast{result: steadyForecast()},
		freshStock(60),
		&fixedSupplier{},
	)

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	assert.True(t, rec.ConstraintMissing)
	assert.Equal(t, 1.0, rec.PackSize)
	assert.Greater(t, rec.RecommendedQty, 0.0)
}

func TestRecommendEnforcesMinOrderQty(t *testing.T) {
	c := packConstraint()
	c.MinOrderQty = 100
	opt := newTestOptimizer(
		&fixedForecast{result: steadyForecast()},
		freshStock(100),
		&fixedSupplier{constraint: c},
	)

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	// target is small (18.25) but the supplier floor applies.
	assert.GreaterOrEqual(t, rec.RecommendedQty, 100.0)
	assert.Zero(t, math.Mod(rec.RecommendedQty, rec.PackSize))
}

func TestRecommendEnforcesMinOrderValue(t *testing.T) {
	c := packConstraint()
	c.UnitCost = decimal.NewFromInt(2)
	c.MinOrderValue = decimal.NewFromInt(200)
	opt := newTestOptimizer(
		&fixedForecast{result: steadyForecast()},
		freshStock(100),
		&fixedSupplier{constraint: c},
	)

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.NoError(t, err)

	assert.True(t, rec.EstimatedCost.GreaterThanOrEqual(decimal.NewFromInt(200)),
		"cost %s must meet the supplier minimum", rec.EstimatedCost)
	assert.Zero(t, math.Mod(rec.RecommendedQty, rec.PackSize))
}

func TestRecommendWithholdsOnBrokenForecast(t *testing.T) {
	bad := steadyForecast()
	bad.PointEstimate = -5
	opt := newTestOptimizer(&fixedForecast{result: bad}, freshStock(60), &fixedSupplier{constraint: packConstraint()})

	rec, err := opt.Recommend(context.Background(), "espresso-beans")
	require.Error(t, err)
	assert.Nil(t, rec)

	var violation *domain.InvariantViolationError
	assert.True(t, errors.As(err, &violation))
}

func TestRecommendPropagatesForecastError(t *testing.T) {
	opt := newTestOptimizer(&fixedForecast{err: errors.New("store down")}, freshStock(60), &fixedSupplier{constraint: packConstraint()})
	_, err := opt.Recommend(context.Background(), "espresso-beans")
	assert.Error(t, err)
}

func TestUrgencyTiers(t *testing.T) {
	cases := []struct {
		days float64
		want domain.UrgencyTier
	}{
		{0.5, domain.UrgencyCritical},
		{2.9, domain.UrgencyCritical},
		{3.0, domain.UrgencyHigh},
		{5.9, domain.UrgencyHigh},
		{6.0, domain.UrgencyMedium},
		{9.9, domain.UrgencyMedium},
		{10.0, domain.UrgencyLow},
		{40, domain.UrgencyLow},
	}
	for _, tc := range cases {
		if got := urgencyTier(tc.days, 3, 7); got != tc.want {
			t.Errorf("urgencyTier(%f) = %s, want %s", tc.days, got, tc.want)
		}
	}
}
