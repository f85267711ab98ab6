// internal/domain/models.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConsumptionRecord is one item's realized consumption for a closed day.
// Rows are append-only; a day is written once after transaction rollup.
type ConsumptionRecord struct {
	ItemID           string          `json:"item_id" db:"item_id"`
	Date             time.Time       `json:"date" db:"date"`
	QuantityConsumed float64         `json:"quantity_consumed" db:"quantity_consumed"`
	Revenue          decimal.Decimal `json:"revenue" db:"revenue"`
}

// DailySeries is a gap-filled daily consumption series for one item.
// Days without a recorded sale carry an explicit zero so models see a
// uniform cadence. Derived data; ConsumptionRecord is the source of truth.
type DailySeries struct {
	ItemID  string              `json:"item_id"`
	Start   time.Time           `json:"start"`
	Records []ConsumptionRecord `json:"records"`
}

// Len returns the number of days in the series.
func (s *DailySeries) Len() int { return len(s.Records) }

// Quantities returns the daily quantities in date order.
func (s *DailySeries) Quantities() []float64 {
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.QuantityConsumed
	}
	return out
}

// NonZeroDays counts days with recorded consumption.
func (s *DailySeries) NonZeroDays() int {
	n := 0
	for _, r := range s.Records {
		if r.QuantityConsumed > 0 {
			n++
		}
	}
	return n
}

// FactorKind classifies an exogenous demand signal.
type FactorKind string

const (
	FactorSeasonal FactorKind = "seasonal"
	FactorEvent    FactorKind = "event"
	FactorWeather  FactorKind = "weather"
)

// ExogenousFactor is an external signal that multiplicatively adjusts
// baseline demand over a date range. ItemID is empty for factors that
// apply to every item (e.g. a city-wide event).
type ExogenousFactor struct {
	ID               int64      `json:"id" db:"id"`
	ItemID           string     `json:"item_id" db:"item_id"`
	Kind             FactorKind `json:"kind" db:"kind"`
	StartDate        time.Time  `json:"start_date" db:"start_date"`
	EndDate          time.Time  `json:"end_date" db:"end_date"`
	Multiplier       float64    `json:"multiplier" db:"multiplier"`
	SourceConfidence float64    `json:"source_confidence" db:"source_confidence"`
}

// ModelKind tags the forecasting model variant carried by a ForecastModel.
type ModelKind string

const (
	ModelTreeEnsemble ModelKind = "tree_ensemble"
	ModelNaiveAverage ModelKind = "naive_average"
)

// ForecastModel is the caller-visible metadata of one item's active model.
// Model parameters stay opaque inside the forecast package; superseded
// versions are retained for audit only and never answer requests.
type ForecastModel struct {
	ItemID             string    `json:"item_id" db:"item_id"`
	Kind               ModelKind `json:"kind" db:"kind"`
	Version            int64     `json:"model_version" db:"model_version"`
	TrainedAt          time.Time `json:"trained_at" db:"trained_at"`
	TrainingWindowDays int       `json:"training_window_days" db:"training_window_days"`
	ValidationError    float64   `json:"validation_error" db:"validation_error"`
}

// ForecastResult is an immutable forecast snapshot for one item/horizon.
// PointEstimate, LowerBound and UpperBound cover total demand over the
// horizon; DailyRate and ResidualStd feed the replenishment optimizer.
type ForecastResult struct {
	ItemID        string    `json:"item_id" db:"item_id"`
	HorizonDays   int       `json:"horizon_days" db:"horizon_days"`
	GeneratedAt   time.Time `json:"generated_at" db:"generated_at"`
	PointEstimate float64   `json:"point_estimate" db:"point_estimate"`
	LowerBound    float64   `json:"lower_bound" db:"lower_bound"`
	UpperBound    float64   `json:"upper_bound" db:"upper_bound"`
	DailyRate     float64   `json:"daily_rate" db:"daily_rate"`
	ResidualStd   float64   `json:"residual_std" db:"residual_std"`
	Confidence    float64   `json:"confidence" db:"confidence"`
	IsFallback    bool      `json:"is_fallback" db:"is_fallback"`
	DegradedModel bool      `json:"degraded_model" db:"degraded_model"`
	ModelKind     ModelKind `json:"model_kind" db:"model_kind"`
	ModelVersion  int64     `json:"model_version" db:"model_version"`
}

// AuditedForecast is a persisted ForecastResult awaiting reconciliation.
type AuditedForecast struct {
	ID     int64          `json:"id" db:"id"`
	Result ForecastResult `json:"result"`
}

// SupplierConstraint holds the packaging and lead-time terms for ordering
// one item from one supplier. Owned by the supplier service; read-only here.
type SupplierConstraint struct {
	SupplierID    string          `json:"supplier_id" db:"supplier_id"`
	ItemID        string          `json:"item_id" db:"item_id"`
	PackSize      float64         `json:"pack_size" db:"pack_size"`
	MinOrderQty   float64         `json:"min_order_qty" db:"min_order_qty"`
	LeadTimeDays  int             `json:"lead_time_days" db:"lead_time_days"`
	MinOrderValue decimal.Decimal `json:"min_order_value" db:"min_order_value"`
	UnitCost      decimal.Decimal `json:"unit_cost" db:"unit_cost"`
}

// StockSnapshot is a point-in-time stock level from the inventory service.
type StockSnapshot struct {
	ItemID          string    `json:"item_id" db:"item_id"`
	CurrentQuantity float64   `json:"current_quantity" db:"current_quantity"`
	AsOf            time.Time `json:"as_of_timestamp" db:"as_of_timestamp"`
}

// UrgencyTier classifies how soon an item must be reordered.
type UrgencyTier string

const (
	UrgencyCritical UrgencyTier = "critical"
	UrgencyHigh     UrgencyTier = "high"
	UrgencyMedium   UrgencyTier = "medium"
	UrgencyLow      UrgencyTier = "low"
)

// ReorderRecommendation is a bounded, pack-rounded order proposal.
// RecommendedQty is zero or a positive multiple of PackSize, always.
// Recommendations are never mutated; a newer one supersedes.
type ReorderRecommendation struct {
	ID                string          `json:"id"`
	ItemID            string          `json:"item_id" db:"item_id"`
	SupplierID        string          `json:"supplier_id" db:"supplier_id"`
	RecommendedQty    float64         `json:"recommended_qty" db:"recommended_qty"`
	PackCount         int             `json:"pack_count" db:"pack_count"`
	PackSize          float64         `json:"pack_size" db:"pack_size"`
	SafetyStockQty    float64         `json:"safety_stock_qty" db:"safety_stock_qty"`
	Urgency           UrgencyTier     `json:"urgency" db:"urgency"`
	Confidence        float64         `json:"confidence" db:"confidence"`
	EstimatedCost     decimal.Decimal `json:"estimated_cost" db:"estimated_cost"`
	ReasoningSummary  string          `json:"reasoning_summary" db:"reasoning_summary"`
	StaleStock        bool            `json:"stale_stock" db:"stale_stock"`
	ConstraintMissing bool            `json:"constraint_missing" db:"constraint_missing"`
	GeneratedAt       time.Time       `json:"generated_at" db:"generated_at"`
}

// ItemAccuracy is the rolling reconciliation state for one item's forecasts.
type ItemAccuracy struct {
	ItemID       string    `json:"item_id" db:"item_id"`
	RollingMAPE  float64   `json:"rolling_mape" db:"rolling_mape"`
	SampleCount  int       `json:"sample_count" db:"sample_count"`
	LastError    float64   `json:"last_error" db:"last_error"`
	ModelStale   bool      `json:"model_stale" db:"model_stale"`
	ReconciledAt time.Time `json:"reconciled_at" db:"reconciled_at"`
}
