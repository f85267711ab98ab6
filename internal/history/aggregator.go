package history

import (
	"context"
	"fmt"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/cafeops/replenish/internal/repository"
	"github.com/shopspring/decimal"
)

// Aggregator turns raw per-day consumption rows into a gap-filled daily
// series with uniform cadence. Pure read/transform; no side effects.
type Aggregator struct {
	repo           repository.ConsumptionRepository
	minNonZeroDays int
}

func NewAggregator(repo repository.ConsumptionRepository, minNonZeroDays int) *Aggregator {
	if minNonZeroDays <= 0 {
		minNonZeroDays = 7
	}
	return &Aggregator{repo: repo, minNonZeroDays: minNonZeroDays}
}

// BuildSeries returns the gap-filled daily series over the trailing window
// ending yesterday (the current day is still open). Days with no recorded
// sale are explicit zeros. When fewer than the configured minimum non-zero
// days exist, the partial series is still returned together with
// *domain.InsufficientHistoryError so the caller can drive a fallback model.
func (a *Aggregator) BuildSeries(ctx context.Context, itemID string, windowDays int) (*domain.DailySeries, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("window days must be positive, got %d", windowDays)
	}

	to := truncateDay(time.Now().UTC())
	from := to.AddDate(0, 0, -windowDays)

	records, err := a.repo.RecordsInRange(ctx, itemID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption for %s: %w", itemID, err)
	}

	byDay := make(map[string]domain.ConsumptionRecord, len(records))
	for _, r := range records {
		byDay[truncateDay(r.Date).Format("2006-01-02")] = r
	}

	series := &domain.DailySeries{
		ItemID:  itemID,
		Start:   from,
		Records: make([]domain.ConsumptionRecord, 0, windowDays),
	}
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		if r, ok := byDay[day.Format("2006-01-02")]; ok {
			r.Date = truncateDay(r.Date)
			series.Records = append(series.Records, r)
			continue
		}
		series.Records = append(series.Records, domain.ConsumptionRecord{
			ItemID:  itemID,
			Date:    day,
			Revenue: decimal.Zero,
		})
	}

	if nonZero := series.NonZeroDays(); nonZero < a.minNonZeroDays {
		return series, &domain.InsufficientHistoryError{
			ItemID:      itemID,
			NonZeroDays: nonZero,
			Required:    a.minNonZeroDays,
		}
	}

	return series, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
