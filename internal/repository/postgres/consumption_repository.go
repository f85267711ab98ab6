package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cafeops/replenish/internal/domain"
)

type ConsumptionRepository struct {
	db *DB
}

func NewConsumptionRepository(db *DB) *ConsumptionRepository {
	return &ConsumptionRepository{db: db}
}

func (r *ConsumptionRepository) RecordsInRange(ctx context.Context, itemID string, from, to time.Time) ([]domain.ConsumptionRecord, error) {
	query := `
		SELECT item_id, date, quantity_consumed, revenue
		FROM consumption_records
		WHERE item_id = $1 AND date >= $2 AND date < $3
		ORDER BY date ASC
	`
	records := make([]domain.ConsumptionRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, itemID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query consumption records: %w", err)
	}
	return records, nil
}

func (r *ConsumptionRepository) TotalInRange(ctx context.Context, itemID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(quantity_consumed), 0)
		FROM consumption_records
		WHERE item_id = $1 AND date >= $2 AND date < $3
	`
	var total float64
	if err := r.db.GetContext(ctx, &total, query, itemID, from, to); err != nil {
		return 0, fmt.Errorf("failed to sum consumption: %w", err)
	}
	return total, nil
}

// AppendDaily accumulates rolled-up daily rows. Re-ingesting the same day
// adds to the existing row so partial exports never overwrite closed days.
func (r *ConsumptionRepository) AppendDaily(ctx context.Context, records []domain.ConsumptionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO consumption_records (item_id, date, quantity_consumed, revenue, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (item_id, date)
			DO UPDATE SET
				quantity_consumed = consumption_records.quantity_consumed + EXCLUDED.quantity_consumed,
				revenue = consumption_records.revenue + EXCLUDED.revenue
		`
		for _, rec := range records {
			if _, err := tx.ExecContext(ctx, query, rec.ItemID, rec.Date, rec.QuantityConsumed, rec.Revenue); err != nil {
				return fmt.Errorf("failed to append consumption for %s/%s: %w",
					rec.ItemID, rec.Date.Format("2006-01-02"), err)
			}
		}
		return nil
	})
}

func (r *ConsumptionRepository) ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT item_id
		FROM consumption_records
		WHERE date >= $1
		ORDER BY item_id
	`
	ids := make([]string, 0)
	if err := r.db.SelectContext(ctx, &ids, query, since); err != nil {
		return nil, fmt.Errorf("failed to list active items: %w", err)
	}
	return ids, nil
}
