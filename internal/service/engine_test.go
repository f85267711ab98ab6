package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cafeops/replenish/internal/cache"
	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/exogenous"
	"github.com/cafeops/replenish/internal/feedback"
	"github.com/cafeops/replenish/internal/forecast"
	"github.com/cafeops/replenish/internal/history"
	"github.com/cafeops/replenish/internal/replenish"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type steadyRepo struct{ qty float64 }

func (s *steadyRepo) RecordsInRange(ctx context.Context, itemID string, from, to time.Time) ([]domain.ConsumptionRecord, error) {
	out := make([]domain.ConsumptionRecord, 0)
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		out = append(out, domain.ConsumptionRecord{ItemID: itemID, Date: day, QuantityConsumed: s.qty})
	}
	return out, nil
}

func (s *steadyRepo) TotalInRange(ctx context.Context, itemID string, from, to time.Time) (float64, error) {
	return s.qty * to.Sub(from).Hours() / 24, nil
}

func (s *steadyRepo) AppendDaily(ctx context.Context, records []domain.ConsumptionRecord) error {
	return nil
}

func (s *steadyRepo) ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	return nil, nil
}

type nilAudit struct{ inserts int }

func (a *nilAudit) InsertForecast(ctx context.Context, result *domain.ForecastResult) error {
	a.inserts++
	return nil
}

func (a *nilAudit) ElapsedUnreconciled(ctx context.Context, itemID string, asOf time.Time, limit int) ([]domain.AuditedForecast, error) {
	return nil, nil
}

func (a *nilAudit) MarkReconciled(ctx context.Context, auditID int64, ape float64) error {
	return nil
}

func (a *nilAudit) RecentAPEs(ctx context.Context, itemID string, n int) ([]float64, error) {
	return nil, nil
}

func (a *nilAudit) UpsertAccuracy(ctx context.Context, acc *domain.ItemAccuracy) error {
	return nil
}

func (a *nilAudit) Accuracy(ctx context.Context, itemID string) (*domain.ItemAccuracy, error) {
	return nil, nil
}

type fixedStock struct{ qty float64 }

func (f *fixedStock) Snapshot(ctx context.Context, itemID string) (*domain.StockSnapshot, error) {
	return &domain.StockSnapshot{ItemID: itemID, CurrentQuantity: f.qty, AsOf: time.Now().Add(-time.Hour)}, nil
}

type fixedSupplier struct{}

func (f *fixedSupplier) ConstraintForItem(ctx context.Context, itemID string) (*domain.SupplierConstraint, error) {
	return &domain.SupplierConstraint{
		SupplierID:   "roastery-co",
		ItemID:       itemID,
		PackSize:     5,
		LeadTimeDays: 3,
	}, nil
}

func (f *fixedSupplier) UpsertConstraint(ctx context.Context, c *domain.SupplierConstraint) error {
	return nil
}

// memCache is an in-process stand-in for the redis-backed cache.
type memCache struct {
	recs map[string]*domain.ReorderRecommendation
	fcs  map[string]*domain.ForecastResult
}

func newMemCache() *memCache {
	return &memCache{
		recs: make(map[string]*domain.ReorderRecommendation),
		fcs:  make(map[string]*domain.ForecastResult),
	}
}

func recKey(itemID string, day time.Time) string {
	return itemID + ":" + day.UTC().Format("2006-01-02")
}

func (m *memCache) GetRecommendation(ctx context.Context, itemID string, day time.Time) (*domain.ReorderRecommendation, bool, error) {
	r, ok := m.recs[recKey(itemID, day)]
	return r, ok, nil
}

func (m *memCache) SetRecommendation(ctx context.Context, itemID string, day time.Time, rec *domain.ReorderRecommendation) error {
	m.recs[recKey(itemID, day)] = rec
	return nil
}

func (m *memCache) GetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time) (*domain.ForecastResult, bool, error) {
	f, ok := m.fcs[recKey(itemID, day)]
	return f, ok, nil
}

func (m *memCache) SetForecast(ctx context.Context, itemID string, horizonDays int, day time.Time, result *domain.ForecastResult) error {
	m.fcs[recKey(itemID, day)] = result
	return nil
}

func (m *memCache) InvalidateItem(ctx context.Context, itemID string) error {
	for k := range m.recs {
		if len(k) >= len(itemID) && k[:len(itemID)] == itemID {
			delete(m.recs, k)
		}
	}
	for k := range m.fcs {
		if len(k) >= len(itemID) && k[:len(itemID)] == itemID {
			delete(m.fcs, k)
		}
	}
	return nil
}

func (m *memCache) InvalidateAll(ctx context.Context) error {
	m.recs = make(map[string]*domain.ReorderRecommendation)
	m.fcs = make(map[string]*domain.ForecastResult)
	return nil
}

func newTestEngine(c cache.RecommendationCache, audit *nilAudit) *Engine {
	repo := &steadyRepo{qty: 10}
	agg := history.NewAggregator(repo, 7)
	adj := exogenous.NewAdjuster(nil)
	models := forecast.NewManager(agg, adj, audit, forecast.Config{Trees: 10, MaxDepth: 3})
	opt := replenish.NewOptimizer(models, &fixedStock{qty: 60}, &fixedSupplier{}, replenish.Config{})
	rec := feedback.NewReconciler(audit, repo, models, feedback.Config{})
	return NewEngine(models, opt, rec, audit, c)
}

func TestRecommendationCachedWithinDay(t *testing.T) {
	audit := &nilAudit{}
	e := newTestEngine(newMemCache(), audit)

	r1, err := e.GetRecommendation(context.Background(), "espresso-beans")
	require.NoError(t, err)
	computes := audit.inserts

	r2, err := e.GetRecommendation(context.Background(), "espresso-beans")
	require.NoError(t, err)

	assert.Equal(t, r1.ID, r2.ID, "second call must come from the cache")
	assert.Equal(t, computes, audit.inserts, "cached answer must skip recomputation")
}

func TestCacheIsDroppable(t *testing.T) {
	cached := newTestEngine(newMemCache(), &nilAudit{})
	uncached := newTestEngine(cache.NewNoopRecommendationCache(), &nilAudit{})

	a, err := cached.GetRecommendation(context.Background(), "espresso-beans")
	require.NoError(t, err)
	b, err := uncached.GetRecommendation(context.Background(), "espresso-beans")
	require.NoError(t, err)

	// Identical inputs must produce the same recommendation with or
	// without a cache; only the identity fields differ per computation.
	assert.Equal(t, a.RecommendedQty, b.RecommendedQty)
	assert.Equal(t, a.PackCount, b.PackCount)
	assert.Equal(t, a.Urgency, b.Urgency)
	assert.Equal(t, a.Confidence, b.Confidence)
	assert.Equal(t, a.SafetyStockQty, b.SafetyStockQty)
}

func TestReconcileNowInvalidatesCache(t *testing.T) {
	mem := newMemCache()
	e := newTestEngine(mem, &nilAudit{})

	_, err := e.GetRecommendation(context.Background(), "espresso-beans")
	require.NoError(t, err)
	require.Len(t, mem.recs, 1)

	_, err = e.ReconcileNow(context.Background(), "espresso-beans")
	require.NoError(t, err)
	assert.Empty(t, mem.recs, "reconcile must drop cached answers")
}

func TestForecastReadThrough(t *testing.T) {
	audit := &nilAudit{}
	e := newTestEngine(newMemCache(), audit)

	f1, err := e.GetForecast(context.Background(), "espresso-beans", 10)
	require.NoError(t, err)
	inserts := audit.inserts

	f2, err := e.GetForecast(context.Background(), "espresso-beans", 10)
	require.NoError(t, err)

	assert.Equal(t, f1.PointEstimate, f2.PointEstimate)
	assert.Equal(t, inserts, audit.inserts, "cache hit must not re-audit")
}

func TestForecastRejectsBadHorizon(t *testing.T) {
	e := newTestEngine(cache.NewNoopRecommendationCache(), &nilAudit{})
	_, err := e.GetForecast(context.Background(), "espresso-beans", -1)
	assert.Error(t, err)
}
