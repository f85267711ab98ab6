package repository

import (
	"context"
	"time"

	"github.com/cafeops/replenish/internal/domain"
)

// SupplierRepository exposes supplier packaging and lead-time terms.
// The supplier service owns this data; the engine only reads it, except for
// the seed path used in development.
type SupplierRepository interface {
	// ConstraintForItem returns the constraint for an item, or (nil, nil)
	// when no supplier is on file. The optimizer falls back to pack size 1.
	ConstraintForItem(ctx context.Context, itemID string) (*domain.SupplierConstraint, error)

	UpsertConstraint(ctx context.Context, c *domain.SupplierConstraint) error
}

// StockRepository reads point-in-time stock levels from the inventory store.
type StockRepository interface {
	// Snapshot returns the latest stock snapshot for an item, or (nil, nil)
	// when the item has never been counted.
	Snapshot(ctx context.Context, itemID string) (*domain.StockSnapshot, error)
}

// FactorRepository reads exogenous demand factors. Feeds may be entirely
// absent; an empty result means neutral adjustment.
type FactorRepository interface {
	// FactorsForDate returns factors whose validity range covers the date,
	// both item-scoped and global (empty item_id) ones.
	FactorsForDate(ctx context.Context, itemID string, date time.Time) ([]domain.ExogenousFactor, error)
}
