package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/shopspring/decimal"
)

type fakeConsumptionRepo struct {
	records []domain.ConsumptionRecord
	err     error
}

func (f *fakeConsumptionRepo) RecordsInRange(ctx context.Context, itemID string, from, to time.Time) ([]domain.ConsumptionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ConsumptionRecord, 0)
	for _, r := range f.records {
		if !r.Date.Before(from) && r.Date.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeConsumptionRepo) TotalInRange(ctx context.Context, itemID string, from, to time.Time) (float64, error) {
	return 0, nil
}

func (f *fakeConsumptionRepo) AppendDaily(ctx context.Context, records []domain.ConsumptionRecord) error {
	return nil
}

func (f *fakeConsumptionRepo) ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	return nil, nil
}

func dayUTC(offset int) time.Time {
	now := time.Now().UTC()
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, offset)
}

func TestBuildSeriesGapFillsZeros(t *testing.T) {
	repo := &fakeConsumptionRepo{
		records: []domain.ConsumptionRecord{
			{ItemID: "espresso-beans", Date: dayUTC(-10), QuantityConsumed: 5, Revenue: decimal.NewFromInt(50)},
			{ItemID: "espresso-beans", Date: dayUTC(-3), QuantityConsumed: 8, Revenue: decimal.NewFromInt(80)},
		},
	}
	agg := NewAggregator(repo, 1)

	series, err := agg.BuildSeries(context.Background(), "espresso-beans", 14)
	if err != nil {
		t.Fatalf("BuildSeries returned error: %v", err)
	}

	if series.Len() != 14 {
		t.Fatalf("expected 14 days, got %d", series.Len())
	}
	if series.NonZeroDays() != 2 {
		t.Errorf("expected 2 non-zero days, got %d", series.NonZeroDays())
	}

	// The series must be contiguous daily with explicit zeros in gaps.
	for i, r := range series.Records {
		want := series.Start.AddDate(0, 0, i)
		if !r.Date.Equal(want) {
			t.Fatalf("day %d: expected date %s, got %s", i, want, r.Date)
		}
	}
}

func TestBuildSeriesExcludesToday(t *testing.T) {
	repo := &fakeConsumptionRepo{
		records: []domain.ConsumptionRecord{
			{ItemID: "oat-milk", Date: dayUTC(0), QuantityConsumed: 99},
		},
	}
	agg := NewAggregator(repo, 1)

	series, err := agg.BuildSeries(context.Background(), "oat-milk", 7)
	if series == nil {
		t.Fatal("expected a series")
	}
	// Today is still an open day; only the insufficient-history error is
	// acceptable, never today's partial row.
	if err != nil {
		var ihe *domain.InsufficientHistoryError
		if !errors.As(err, &ihe) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for _, r := range series.Records {
		if r.QuantityConsumed == 99 {
			t.Fatal("series must not include the current open day")
		}
	}
}

func TestBuildSeriesInsufficientHistoryReturnsPartialSeries(t *testing.T) {
	repo := &fakeConsumptionRepo{
		records: []domain.ConsumptionRecord{
			{ItemID: "matcha", Date: dayUTC(-2), QuantityConsumed: 3},
			{ItemID: "matcha", Date: dayUTC(-1), QuantityConsumed: 4},
		},
	}
	agg := NewAggregator(repo, 7)

	series, err := agg.BuildSeries(context.Background(), "matcha", 30)
	if err == nil {
		t.Fatal("expected insufficient history error")
	}

	var ihe *domain.InsufficientHistoryError
	if !errors.As(err, &ihe) {
		t.Fatalf("expected InsufficientHistoryError, got %T", err)
	}
	if ihe.NonZeroDays != 2 || ihe.Required != 7 {
		t.Errorf("unexpected error detail: %+v", ihe)
	}
	if series == nil || series.Len() != 30 {
		t.Fatal("partial series must still be returned for the fallback model")
	}
}

func TestBuildSeriesRepoError(t *testing.T) {
	repo := &fakeConsumptionRepo{err: errors.New("connection refused")}
	agg := NewAggregator(repo, 7)

	if _, err := agg.BuildSeries(context.Background(), "espresso-beans", 30); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildSeriesRejectsNonPositiveWindow(t *testing.T) {
	agg := NewAggregator(&fakeConsumptionRepo{}, 7)
	if _, err := agg.BuildSeries(context.Background(), "espresso-beans", 0); err == nil {
		t.Fatal("expected error for zero window")
	}
}
