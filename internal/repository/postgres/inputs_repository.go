package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cafeops/replenish/internal/domain"
)

type SupplierRepository struct {
	db *DB
}

func NewSupplierRepository(db *DB) *SupplierRepository {
	return &SupplierRepository{db: db}
}

func (r *SupplierRepository) ConstraintForItem(ctx context.Context, itemID string) (*domain.SupplierConstraint, error) {
	query := `
		SELECT supplier_id, item_id, pack_size, min_order_qty, lead_time_days, min_order_value, unit_cost
		FROM supplier_constraints
		WHERE item_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var c domain.SupplierConstraint
	if err := r.db.GetContext(ctx, &c, query, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query supplier constraint: %w", err)
	}
	return &c, nil
}

func (r *SupplierRepository) UpsertConstraint(ctx context.Context, c *domain.SupplierConstraint) error {
	query := `
		INSERT INTO supplier_constraints (supplier_id, item_id, pack_size, min_order_qty, lead_time_days, min_order_value, unit_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (supplier_id, item_id)
		DO UPDATE SET
			pack_size = EXCLUDED.pack_size,
			min_order_qty = EXCLUDED.min_order_qty,
			lead_time_days = EXCLUDED.lead_time_days,
			min_order_value = EXCLUDED.min_order_value,
			unit_cost = EXCLUDED.unit_cost,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.SupplierID, c.ItemID, c.PackSize, c.MinOrderQty, c.LeadTimeDays, c.MinOrderValue, c.UnitCost,
	); err != nil {
		return fmt.Errorf("failed to upsert supplier constraint: %w", err)
	}
	return nil
}

type StockRepository struct {
	db *DB
}

func NewStockRepository(db *DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) Snapshot(ctx context.Context, itemID string) (*domain.StockSnapshot, error) {
	query := `
		SELECT item_id, current_quantity, as_of_timestamp
		FROM stock_snapshots
		WHERE item_id = $1
		ORDER BY as_of_timestamp DESC
		LIMIT 1
	`
	var s domain.StockSnapshot
	if err := r.db.GetContext(ctx, &s, query, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query stock snapshot: %w", err)
	}
	return &s, nil
}

type FactorRepository struct {
	db *DB
}

func NewFactorRepository(db *DB) *FactorRepository {
	return &FactorRepository{db: db}
}

func (r *FactorRepository) FactorsForDate(ctx context.Context, itemID string, date time.Time) ([]domain.ExogenousFactor, error) {
	query := `
		SELECT id, item_id, kind, start_date, end_date, multiplier, source_confidence
		FROM exogenous_factors
		WHERE (item_id = $1 OR item_id = '')
		  AND start_date <= $2 AND end_date >= $2
	`
	factors := make([]domain.ExogenousFactor, 0)
	if err := r.db.SelectContext(ctx, &factors, query, itemID, date); err != nil {
		return nil, fmt.Errorf("failed to query exogenous factors: %w", err)
	}
	return factors, nil
}
