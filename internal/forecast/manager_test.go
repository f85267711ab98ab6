package forecast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/exogenous"
	"github.com/cafeops/replenish/internal/history"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// steadyRepo serves a fixed quantity for every day in the requested range.
type steadyRepo struct {
	qty  float64
	days int // cap on non-zero days, newest first; 0 means unlimited
}

func (s *steadyRepo) RecordsInRange(ctx context.Context, itemID string, from, to time.Time) ([]domain.ConsumptionRecord, error) {
	out := make([]domain.ConsumptionRecord, 0)
	total := int(to.Sub(from).Hours() / 24)
	i := 0
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		if s.days > 0 && i < total-s.days {
			i++
			continue
		}
		out = append(out, domain.ConsumptionRecord{
			ItemID:           itemID,
			Date:             day,
			QuantityConsumed: s.qty,
		})
		i++
	}
	return out, nil
}

func (s *steadyRepo) TotalInRange(ctx context.Context, itemID string, from, to time.Time) (float64, error) {
	return 0, nil
}

func (s *steadyRepo) AppendDaily(ctx context.Context, records []domain.ConsumptionRecord) error {
	return nil
}

func (s *steadyRepo) ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	return nil, nil
}

// captureAudit records inserted forecasts and ignores everything else.
type captureAudit struct {
	inserted []*domain.ForecastResult
}

func (c *captureAudit) InsertForecast(ctx context.Context, result *domain.ForecastResult) error {
	c.inserted = append(c.inserted, result)
	return nil
}

func (c *captureAudit) ElapsedUnreconciled(ctx context.Context, itemID string, asOf time.Time, limit int) ([]domain.AuditedForecast, error) {
	return nil, nil
}

func (c *captureAudit) MarkReconciled(ctx context.Context, auditID int64, ape float64) error {
	return nil
}

func (c *captureAudit) RecentAPEs(ctx context.Context, itemID string, n int) ([]float64, error) {
	return nil, nil
}

func (c *captureAudit) UpsertAccuracy(ctx context.Context, acc *domain.ItemAccuracy) error {
	return nil
}

func (c *captureAudit) Accuracy(ctx context.Context, itemID string) (*domain.ItemAccuracy, error) {
	return nil, nil
}

func newTestManager(repo *steadyRepo, audit *captureAudit) *Manager {
	agg := history.NewAggregator(repo, 7)
	adj := exogenous.NewAdjuster(nil)
	return NewManager(agg, adj, audit, Config{
		TrainingWindowDays: 90,
		MinHistoryDays:     7,
		Trees:              25,
		MaxDepth:           3,
	})
}

func TestSteadyDemandForecast(t *testing.T) {
	audit := &captureAudit{}
	m := newTestManager(&steadyRepo{qty: 10}, audit)

	result, err := m.GetForecast(context.Background(), "espresso-beans", 7)
	require.NoError(t, err)

	assert.InDelta(t, 70, result.PointEstimate, 14, "7-day total for steady 10/day demand")
	assert.InDelta(t, 10, result.DailyRate, 2)
	assert.LessOrEqual(t, result.LowerBound, result.PointEstimate)
	assert.LessOrEqual(t, result.PointEstimate, result.UpperBound)
	assert.False(t, result.IsFallback)
	assert.Equal(t, domain.ModelTreeEnsemble, result.ModelKind)
	assert.Greater(t, result.Confidence, 0.5, "steady history should yield high confidence")
	require.Len(t, audit.inserted, 1)
	assert.Equal(t, result.PointEstimate, audit.inserted[0].PointEstimate)
}

func TestInsufficientHistoryUsesFallback(t *testing.T) {
	m := newTestManager(&steadyRepo{qty: 6, days: 3}, &captureAudit{})

	result, err := m.GetForecast(context.Background(), "new-blend", 7)
	require.NoError(t, err, "insufficient history must degrade, not fail")

	assert.True(t, result.IsFallback)
	assert.Equal(t, domain.ModelNaiveAverage, result.ModelKind)
	assert.LessOrEqual(t, result.Confidence, 0.35, "fallback confidence is capped")
	assert.GreaterOrEqual(t, result.PointEstimate, 0.0)
}

func TestConfidenceMonotoneInHistoryLength(t *testing.T) {
	// More recorded days must never lower confidence, in particular not at
	// the eligibility boundary where the tree ensemble takes over from the
	// naive model on a still-sparse window.
	prevConf := -1.0
	prevDays := 0
	for _, days := range []int{3, 5, 7, 8, 10, 14} {
		m := newTestManager(&steadyRepo{qty: 10, days: days}, &captureAudit{})

		result, err := m.GetForecast(context.Background(), "espresso-beans", 7)
		require.NoError(t, err)
		assert.Equal(t, days >= 7, !result.IsFallback, "eligibility flips at the minimum history")

		assert.GreaterOrEqual(t, result.Confidence, prevConf,
			"confidence fell from %.4f at %d days to %.4f at %d days",
			prevConf, prevDays, result.Confidence, days)
		prevConf = result.Confidence
		prevDays = days
	}
}

func TestForecastDeterministic(t *testing.T) {
	a := newTestManager(&steadyRepo{qty: 12}, &captureAudit{})
	b := newTestManager(&steadyRepo{qty: 12}, &captureAudit{})

	ra, err := a.GetForecast(context.Background(), "espresso-beans", 10)
	require.NoError(t, err)
	rb, err := b.GetForecast(context.Background(), "espresso-beans", 10)
	require.NoError(t, err)

	assert.Equal(t, ra.PointEstimate, rb.PointEstimate)
	assert.Equal(t, ra.LowerBound, rb.LowerBound)
	assert.Equal(t, ra.UpperBound, rb.UpperBound)
	assert.Equal(t, ra.Confidence, rb.Confidence)
}

func TestModelReusedAcrossRequests(t *testing.T) {
	m := newTestManager(&steadyRepo{qty: 10}, &captureAudit{})

	r1, err := m.GetForecast(context.Background(), "espresso-beans", 7)
	require.NoError(t, err)
	r2, err := m.GetForecast(context.Background(), "espresso-beans", 14)
	require.NoError(t, err)

	assert.Equal(t, r1.ModelVersion, r2.ModelVersion, "fresh model must not retrain per request")
}

func TestMarkStaleForcesRetrain(t *testing.T) {
	m := newTestManager(&steadyRepo{qty: 10}, &captureAudit{})

	r1, err := m.GetForecast(context.Background(), "espresso-beans", 7)
	require.NoError(t, err)

	// Nudge the clock so the retrained model gets a distinct version.
	m.SetClock(func() time.Time { return time.Now().Add(time.Second) })
	m.MarkStale("espresso-beans")

	r2, err := m.GetForecast(context.Background(), "espresso-beans", 7)
	require.NoError(t, err)

	assert.NotEqual(t, r1.ModelVersion, r2.ModelVersion, "stale model must be replaced")
}

func TestLongerHorizonNeverForecastsLess(t *testing.T) {
	m := newTestManager(&steadyRepo{qty: 9}, &captureAudit{})

	short, err := m.GetForecast(context.Background(), "espresso-beans", 7)
	require.NoError(t, err)
	long, err := m.GetForecast(context.Background(), "espresso-beans", 21)
	require.NoError(t, err)

	// Daily steps are clamped non-negative, so totals are monotone in the
	// horizon.
	assert.GreaterOrEqual(t, long.PointEstimate, short.PointEstimate)
}

func TestRejectsNonPositiveHorizon(t *testing.T) {
	m := newTestManager(&steadyRepo{qty: 10}, &captureAudit{})
	_, err := m.GetForecast(context.Background(), "espresso-beans", 0)
	assert.Error(t, err)
}
