package repository

import (
	"context"
	"time"

	"github.com/cafeops/replenish/internal/domain"
)

// ForecastAuditRepository persists forecast snapshots for later
// reconciliation against realized consumption, plus the rolling accuracy
// state the feedback loop maintains per item.
type ForecastAuditRepository interface {
	// InsertForecast stores a forecast snapshot for audit.
	InsertForecast(ctx context.Context, result *domain.ForecastResult) error

	// ElapsedUnreconciled returns audited forecasts whose horizon has fully
	// elapsed as of the given time and that have not been reconciled yet.
	ElapsedUnreconciled(ctx context.Context, itemID string, asOf time.Time, limit int) ([]domain.AuditedForecast, error)

	// MarkReconciled records the absolute percentage error for one audited
	// forecast and removes it from the unreconciled set.
	MarkReconciled(ctx context.Context, auditID int64, ape float64) error

	// RecentAPEs returns the most recent reconciled absolute percentage
	// errors for an item, newest first, up to n.
	RecentAPEs(ctx context.Context, itemID string, n int) ([]float64, error)

	// UpsertAccuracy stores the rolling accuracy state for an item.
	UpsertAccuracy(ctx context.Context, acc *domain.ItemAccuracy) error

	// Accuracy returns the rolling accuracy state, or (nil, nil) when the
	// item has never been reconciled.
	Accuracy(ctx context.Context, itemID string) (*domain.ItemAccuracy, error)
}
