package forecast

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/exogenous"
	"github.com/cafeops/replenish/internal/history"
	"github.com/cafeops/replenish/internal/repository"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	fallbackTrailingDays  = 14
	fallbackMaxConfidence = 0.35
	minTrainingSamples    = 10
)

// Config tunes the model manager. Zero values fall back to the defaults
// the engine ships with.
type Config struct {
	TrainingWindowDays int
	MinHistoryDays     int
	MaxModelAge        time.Duration
	BoundsZ            float64
	Trees              int
	MaxDepth           int
}

func (c *Config) applyDefaults() {
	if c.TrainingWindowDays <= 0 {
		c.TrainingWindowDays = 90
	}
	if c.MinHistoryDays <= 0 {
		c.MinHistoryDays = 7
	}
	if c.MaxModelAge <= 0 {
		c.MaxModelAge = 24 * time.Hour
	}
	if c.BoundsZ <= 0 {
		c.BoundsZ = 1.65
	}
}

// activeModel pairs caller-visible metadata with the opaque predictor.
// Instances are immutable once installed in the arena except for the
// staleness bit, which the feedback loop may flip while requests run.
type activeModel struct {
	meta       domain.ForecastModel
	pred       predictor
	residStd   float64
	confidence float64
	fallback   bool
	degraded   bool
	stale      atomic.Bool
}

// Manager trains, holds and serves one forecasting model per item. Models
// live in an arena keyed by item and are swapped wholesale on retrain, so
// concurrent readers always see a fully formed model. Training for the
// same item is collapsed through singleflight.
type Manager struct {
	history *history.Aggregator
	exog    *exogenous.Adjuster
	audit   repository.ForecastAuditRepository
	cfg     Config

	mu    sync.RWMutex
	arena map[string]*activeModel
	group singleflight.Group
	nowFn func() time.Time
}

func NewManager(hist *history.Aggregator, exog *exogenous.Adjuster, audit repository.ForecastAuditRepository, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		history: hist,
		exog:    exog,
		audit:   audit,
		cfg:     cfg,
		arena:   make(map[string]*activeModel),
		nowFn:   time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) { m.nowFn = now }

// MarkStale flags the item's active model for retraining on the next
// forecast request. The in-flight model keeps serving until then.
func (m *Manager) MarkStale(itemID string) {
	m.mu.RLock()
	am := m.arena[itemID]
	m.mu.RUnlock()
	if am != nil {
		am.stale.Store(true)
		log.Info().Str("item_id", itemID).Msg("forecast: model marked stale")
	}
}

// ActiveModel returns the metadata of the item's active model, if any.
func (m *Manager) ActiveModel(itemID string) (domain.ForecastModel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if am, ok := m.arena[itemID]; ok {
		return am.meta, true
	}
	return domain.ForecastModel{}, false
}

// GetForecast returns a multi-horizon demand forecast for one item,
// lazily training or retraining the item's model as needed. Data-quality
// problems degrade the result (fallback model, reduced confidence) instead
// of failing the call.
func (m *Manager) GetForecast(ctx context.Context, itemID string, horizonDays int) (*domain.ForecastResult, error) {
	if horizonDays <= 0 {
		return nil, fmt.Errorf("horizon days must be positive, got %d", horizonDays)
	}

	series, err := m.history.BuildSeries(ctx, itemID, m.cfg.TrainingWindowDays)
	insufficient := false
	if err != nil {
		var ihe *domain.InsufficientHistoryError
		if !errors.As(err, &ihe) {
			return nil, err
		}
		insufficient = true
	}

	am, err := m.ensureModel(ctx, itemID, series, insufficient)
	if err != nil {
		return nil, err
	}

	result := m.predictHorizon(ctx, itemID, am, series, horizonDays)

	if m.audit != nil {
		if err := m.audit.InsertForecast(ctx, result); err != nil {
			log.Warn().Err(err).Str("item_id", itemID).Msg("forecast: audit insert failed")
		}
	}

	return result, nil
}

func (m *Manager) active(itemID string) *activeModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena[itemID]
}

func (m *Manager) ensureModel(ctx context.Context, itemID string, series *domain.DailySeries, insufficient bool) (*activeModel, error) {
	if am := m.active(itemID); m.usable(am, insufficient) {
		return am, nil
	}

	v, err, _ := m.group.Do(itemID, func() (interface{}, error) {
		// A concurrent flight may have finished while we queued.
		if am := m.active(itemID); m.usable(am, insufficient) {
			return am, nil
		}
		return m.train(ctx, itemID, series, insufficient)
	})
	if err != nil {
		return nil, err
	}
	return v.(*activeModel), nil
}

func (m *Manager) usable(am *activeModel, insufficient bool) bool {
	return am != nil &&
		!am.stale.Load() &&
		am.fallback == insufficient &&
		m.nowFn().Sub(am.meta.TrainedAt) < m.cfg.MaxModelAge
}

// train builds a new model and installs it atomically. A cancelled context
// discards the candidate without touching the arena, so readers never see a
// partially trained model.
func (m *Manager) train(ctx context.Context, itemID string, series *domain.DailySeries, insufficient bool) (*activeModel, error) {
	var (
		am  *activeModel
		err error
	)
	if insufficient {
		am = m.trainFallback(itemID, series)
	} else {
		am, err = m.trainEnsemble(ctx, itemID, series)
		if err != nil {
			var mte *domain.ModelTrainingError
			if !errors.As(err, &mte) {
				return nil, err
			}
			// Retain the last known good model with a degraded flag; only
			// when none exists does the naive model take over.
			if prev := m.active(itemID); prev != nil {
				log.Warn().Err(err).Str("item_id", itemID).Msg("forecast: training failed, retaining previous model")
				am = m.degradedCopy(prev)
			} else {
				log.Warn().Err(err).Str("item_id", itemID).Msg("forecast: training failed with no prior model, using naive")
				am = m.trainFallback(itemID, series)
				am.fallback = false
				am.degraded = true
			}
		}
	}

	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}

	m.mu.Lock()
	m.arena[itemID] = am
	m.mu.Unlock()

	log.Info().
		Str("item_id", itemID).
		Str("kind", string(am.meta.Kind)).
		Float64("validation_error", am.meta.ValidationError).
		Bool("fallback", am.fallback).
		Msg("forecast: model trained")

	return am, nil
}

func (m *Manager) trainFallback(itemID string, series *domain.DailySeries) *activeModel {
	hist := series.Quantities()
	pred := newNaiveAverage(hist, fallbackTrailingDays)

	// Confidence is forced into the low band, scaled by how close the item
	// is to the minimum history requirement.
	ratio := float64(series.NonZeroDays()) / float64(m.cfg.MinHistoryDays)
	conf := fallbackMaxConfidence * math.Min(1, ratio)

	return &activeModel{
		meta: domain.ForecastModel{
			ItemID:             itemID,
			Kind:               domain.ModelNaiveAverage,
			Version:            m.nowFn().UnixNano(),
			TrainedAt:          m.nowFn(),
			TrainingWindowDays: m.cfg.TrainingWindowDays,
			ValidationError:    1,
		},
		pred:       pred,
		residStd:   stddev(tail(hist, fallbackTrailingDays)),
		confidence: conf,
		fallback:   true,
	}
}

func (m *Manager) trainEnsemble(ctx context.Context, itemID string, series *domain.DailySeries) (*activeModel, error) {
	hist := series.Quantities()

	x := make([][]float64, 0, len(hist))
	y := make([]float64, 0, len(hist))
	for i := 1; i < len(hist); i++ {
		target := hist[i]
		if math.IsNaN(target) || math.IsInf(target, 0) {
			return nil, &domain.ModelTrainingError{ItemID: itemID, Reason: "non-finite consumption value"}
		}
		date := series.Start.AddDate(0, 0, i)
		adj := m.exog.Adjustment(ctx, itemID, date)
		x = append(x, featuresAt(hist, i, date.Weekday(), adj))
		y = append(y, target)
	}
	if len(y) < minTrainingSamples {
		return nil, &domain.ModelTrainingError{ItemID: itemID, Reason: fmt.Sprintf("only %d training samples", len(y))}
	}

	// Walk-forward holdout: the last 20% of the window validates a model
	// trained on the first 80%, giving residuals for the bounds.
	split := len(y) * 4 / 5
	if len(y)-split < 3 {
		split = len(y) - 3
	}
	seed := seedFor(itemID)
	holdoutModel := fitTreeEnsemble(x[:split], y[:split], m.cfg.Trees, m.cfg.MaxDepth, seed)

	residuals := make([]float64, 0, len(y)-split)
	var absErrSum, actualSum float64
	for i := split; i < len(y); i++ {
		p := holdoutModel.Predict(x[i])
		residuals = append(residuals, y[i]-p)
		absErrSum += math.Abs(y[i] - p)
		actualSum += y[i]
	}

	var validationError float64
	if actualSum > 0 {
		validationError = absErrSum / actualSum
	} else if absErrSum > 0 {
		validationError = 1
	}

	// Final model sees the whole window with the same seed.
	pred := fitTreeEnsemble(x, y, m.cfg.Trees, m.cfg.MaxDepth, seed)

	accScore := math.Max(0, 1-math.Min(1, validationError))
	histScore := math.Min(1, float64(series.NonZeroDays())/float64(4*m.cfg.MinHistoryDays))
	conf := clamp01(0.7*accScore + 0.3*histScore)

	// An item that just cleared the history bar must never score below the
	// naive band it would sit in with one day less, so growing history
	// cannot reduce confidence across the eligibility boundary.
	floor := fallbackMaxConfidence * math.Min(1, float64(series.NonZeroDays())/float64(m.cfg.MinHistoryDays))
	if conf < floor {
		conf = floor
	}

	return &activeModel{
		meta: domain.ForecastModel{
			ItemID:             itemID,
			Kind:               domain.ModelTreeEnsemble,
			Version:            m.nowFn().UnixNano(),
			TrainedAt:          m.nowFn(),
			TrainingWindowDays: m.cfg.TrainingWindowDays,
			ValidationError:    validationError,
		},
		pred:       pred,
		residStd:   stddev(residuals),
		confidence: conf,
	}, nil
}

// predictHorizon runs recursive one-step forecasting: each step's
// prediction is appended to the series and feeds the next step's lag
// features, so one model covers every horizon.
func (m *Manager) predictHorizon(ctx context.Context, itemID string, am *activeModel, series *domain.DailySeries, horizonDays int) *domain.ForecastResult {
	hist := series.Quantities()
	ext := append([]float64(nil), hist...)
	firstDay := series.Start.AddDate(0, 0, len(hist))

	var point float64
	for d := 0; d < horizonDays; d++ {
		date := firstDay.AddDate(0, 0, d)
		adj := m.exog.Adjustment(ctx, itemID, date)

		var p float64
		switch am.pred.Kind() {
		case domain.ModelNaiveAverage:
			p = am.pred.Predict(nil) * adj
		default:
			p = am.pred.Predict(featuresAt(ext, len(ext), date.Weekday(), adj))
		}
		if math.IsNaN(p) || p < 0 {
			p = 0
		}
		point += p
		ext = append(ext, p)
	}

	// Step errors compound with the square root of elapsed days.
	sigmaH := am.residStd * math.Sqrt(float64(horizonDays))
	upper := point + m.cfg.BoundsZ*sigmaH
	lower := math.Max(0, point-m.cfg.BoundsZ*sigmaH)
	if lower > point {
		lower = point
	}
	if upper < point {
		upper = point
	}

	return &domain.ForecastResult{
		ItemID:        itemID,
		HorizonDays:   horizonDays,
		GeneratedAt:   m.nowFn(),
		PointEstimate: point,
		LowerBound:    lower,
		UpperBound:    upper,
		DailyRate:     point / float64(horizonDays),
		ResidualStd:   sigmaH,
		Confidence:    am.confidence,
		IsFallback:    am.fallback,
		DegradedModel: am.degraded,
		ModelKind:     am.meta.Kind,
		ModelVersion:  am.meta.Version,
	}
}

// degradedCopy keeps the previous model's parameters in service with a
// degraded-confidence flag. TrainedAt is refreshed so a persistent training
// failure does not retrain on every request.
func (m *Manager) degradedCopy(prev *activeModel) *activeModel {
	return &activeModel{
		meta: domain.ForecastModel{
			ItemID:             prev.meta.ItemID,
			Kind:               prev.meta.Kind,
			Version:            prev.meta.Version,
			TrainedAt:          m.nowFn(),
			TrainingWindowDays: prev.meta.TrainingWindowDays,
			ValidationError:    prev.meta.ValidationError,
		},
		pred:       prev.pred,
		residStd:   prev.residStd,
		confidence: prev.confidence * 0.8,
		fallback:   prev.fallback,
		degraded:   true,
	}
}

func seedFor(itemID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(itemID))
	return int64(h.Sum64())
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
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
