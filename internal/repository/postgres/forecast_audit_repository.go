package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cafeops/replenish/internal/domain"
)

type ForecastAuditRepository struct {
	db *DB
}

func NewForecastAuditRepository(db *DB) *ForecastAuditRepository {
	return &ForecastAuditRepository{db: db}
}

func (r *ForecastAuditRepository) InsertForecast(ctx context.Context, result *domain.ForecastResult) error {
	query := `
		INSERT INTO forecast_audit
			(item_id, horizon_days, generated_at, point_estimate, lower_bound, upper_bound,
			 daily_rate, residual_std, confidence, is_fallback, degraded_model, model_kind, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if _, err := r.db.ExecContext(ctx, query,
		result.ItemID, result.HorizonDays, result.GeneratedAt,
		result.PointEstimate, result.LowerBound, result.UpperBound,
		result.DailyRate, result.ResidualStd, result.Confidence,
		result.IsFallback, result.DegradedModel, result.ModelKind, result.ModelVersion,
	); err != nil {
		return fmt.Errorf("failed to insert forecast audit row: %w", err)
	}
	return nil
}

type auditRow struct {
	ID int64 `db:"id"`
	domain.ForecastResult
}

func (r *ForecastAuditRepository) ElapsedUnreconciled(ctx context.Context, itemID string, asOf time.Time, limit int) ([]domain.AuditedForecast, error) {
	query := `
		SELECT id, item_id, horizon_days, generated_at, point_estimate, lower_bound, upper_bound,
		       daily_rate, residual_std, confidence, is_fallback, degraded_model, model_kind, model_version
		FROM forecast_audit
		WHERE item_id = $1
		  AND reconciled_at IS NULL
		  AND generated_at + (horizon_days || ' days')::interval <= $2
		ORDER BY generated_at ASC
		LIMIT $3
	`
	rows := make([]auditRow, 0)
	if err := r.db.SelectContext(ctx, &rows, query, itemID, asOf, limit); err != nil {
		return nil, fmt.Errorf("failed to query unreconciled forecasts: %w", err)
	}

	out := make([]domain.AuditedForecast, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.AuditedForecast{ID: row.ID, Result: row.ForecastResult})
	}
	return out, nil
}

func (r *ForecastAuditRepository) MarkReconciled(ctx context.Context, auditID int64, ape float64) error {
	query := `
		UPDATE forecast_audit
		SET reconciled_at = NOW(), abs_pct_error = $2
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, auditID, ape); err != nil {
		return fmt.Errorf("failed to mark forecast reconciled: %w", err)
	}
	return nil
}

func (r *ForecastAuditRepository) RecentAPEs(ctx context.Context, itemID string, n int) ([]float64, error) {
	query := `
		SELECT abs_pct_error
		FROM forecast_audit
		WHERE item_id = $1 AND reconciled_at IS NOT NULL
		ORDER BY reconciled_at DESC
		LIMIT $2
	`
	apes := make([]float64, 0)
	if err := r.db.SelectContext(ctx, &apes, query, itemID, n); err != nil {
		return nil, fmt.Errorf("failed to query recent errors: %w", err)
	}
	return apes, nil
}

func (r *ForecastAuditRepository) UpsertAccuracy(ctx context.Context, acc *domain.ItemAccuracy) error {
	query := `
		INSERT INTO item_accuracy (item_id, rolling_mape, sample_count, last_error, model_stale, reconciled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id)
		DO UPDATE SET
			rolling_mape = EXCLUDED.rolling_mape,
			sample_count = EXCLUDED.sample_count,
			last_error = EXCLUDED.last_error,
			model_stale = EXCLUDED.model_stale,
			reconciled_at = EXCLUDED.reconciled_at
	`
	if _, err := r.db.ExecContext(ctx, query,
		acc.ItemID, acc.RollingMAPE, acc.SampleCount, acc.LastError, acc.ModelStale, acc.ReconciledAt,
	); err != nil {
		return fmt.Errorf("failed to upsert item accuracy: %w", err)
	}
	return nil
}

func (r *ForecastAuditRepository) Accuracy(ctx context.Context, itemID string) (*domain.ItemAccuracy, error) {
	query := `
		SELECT item_id, rolling_mape, sample_count, last_error, model_stale, reconciled_at
		FROM item_accuracy
		WHERE item_id = $1
	`
	var acc domain.ItemAccuracy
	if err := r.db.GetContext(ctx, &acc, query, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query item accuracy: %w", err)
	}
	return &acc, nil
}
