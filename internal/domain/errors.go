// internal/domain/errors.go
package domain

import "fmt"

// InsufficientHistoryError signals too few non-zero consumption days in the
// lookback window. Callers recover locally by switching to the naive
// fallback model; it is never surfaced to API consumers as a failure.
type InsufficientHistoryError struct {
	ItemID      string
	NonZeroDays int
	Required    int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for item %s: %d non-zero days, need %d",
		e.ItemID, e.NonZeroDays, e.Required)
}

// ModelTrainingError signals a failed training run (degenerate or numerically
// unusable input). The previously active model stays in service.
type ModelTrainingError struct {
	ItemID string
	Reason string
}

func (e *ModelTrainingError) Error() string {
	return fmt.Sprintf("model training failed for item %s: %s", e.ItemID, e.Reason)
}

// InvariantViolationError marks a computation whose output broke a structural
// invariant (negative forecast, inverted bounds). The single computation is
// withheld rather than emitting a wrong number; other items are unaffected.
type InvariantViolationError struct {
	ItemID    string
	Invariant string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation for item %s: %s", e.ItemID, e.Invariant)
}
