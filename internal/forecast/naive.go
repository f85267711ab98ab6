package forecast

import "github.com/cafeops/replenish/internal/domain"

// naiveAverage predicts the trailing-mean daily rate regardless of features.
// It backs both the insufficient-history fallback and the last-resort path
// when ensemble training fails with no prior model to retain.
type naiveAverage struct {
	dailyMean float64
}

func (n *naiveAverage) Kind() domain.ModelKind { return domain.ModelNaiveAverage }

func (n *naiveAverage) Predict(_ []float64) float64 { return n.dailyMean }

// newNaiveAverage builds a naive model from the trailing n days of the
// series (fewer when the series is shorter).
func newNaiveAverage(history []float64, trailingDays int) *naiveAverage {
	start := len(history) - trailingDays
	if start < 0 {
		start = 0
	}
	window := history[start:]
	if len(window) == 0 {
		return &naiveAverage{}
	}

	var sum float64
	for _, v := range window {
		sum += v
	}
	m := sum / float64(len(window))
	if m < 0 {
		m = 0
	}
	return &naiveAverage{dailyMean: m}
}
