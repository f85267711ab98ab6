package repository

import (
	"context"
	"time"

	"github.com/cafeops/replenish/internal/domain"
)

// ConsumptionRepository reads and appends per-item daily consumption.
// Rows are append-only per (item, day); ingest rolls transactions up before
// writing, and a second write for the same day accumulates into it.
type ConsumptionRepository interface {
	// RecordsInRange returns records for one item with date in [from, to),
	// ordered by date ascending. Days without sales are absent; the history
	// aggregator gap-fills.
	RecordsInRange(ctx context.Context, itemID string, from, to time.Time) ([]domain.ConsumptionRecord, error)

	// TotalInRange sums quantity consumed for one item over [from, to).
	TotalInRange(ctx context.Context, itemID string, from, to time.Time) (float64, error)

	// AppendDaily writes rolled-up daily records.
	AppendDaily(ctx context.Context, records []domain.ConsumptionRecord) error

	// ActiveItemIDs lists items with any consumption since the given time.
	ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error)
}
