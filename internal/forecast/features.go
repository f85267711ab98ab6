package forecast

import "time"

// Feature layout for the one-step-ahead regressors. Order matters; trained
// trees address features by index.
const (
	featLag1 = iota
	featLag7
	featLag14
	featDayOfWeek
	featRollMean7
	featRollVar7
	featAdjustment
	numFeatures
)

// featuresAt builds the feature vector for predicting history[i]. Indices
// beyond the start of the series contribute zero, so early samples are
// usable during warmup.
func featuresAt(history []float64, i int, dow time.Weekday, adjustment float64) []float64 {
	f := make([]float64, numFeatures)
	f[featLag1] = lag(history, i, 1)
	f[featLag7] = lag(history, i, 7)
	f[featLag14] = lag(history, i, 14)
	f[featDayOfWeek] = float64(dow)
	mean, variance := rollingStats(history, i, 7)
	f[featRollMean7] = mean
	f[featRollVar7] = variance
	f[featAdjustment] = adjustment
	return f
}

func lag(history []float64, i, n int) float64 {
	if i-n < 0 {
		return 0
	}
	return history[i-n]
}

// rollingStats returns mean and variance of the window of up to n values
// immediately before index i.
func rollingStats(history []float64, i, n int) (float64, float64) {
	start := i - n
	if start < 0 {
		start = 0
	}
	window := history[start:i]
	if len(window) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))

	var sq float64
	for _, v := range window {
		d := v - mean
		sq += d * d
	}
	return mean, sq / float64(len(window))
}
