package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// maxNormalize scales data so its largest value is 1. All-zero (or
// non-positive) input is left as is.
func maxNormalize(data []float64) {
	if len(data) == 0 {
		return
	}
	peak := floats.Max(data)
	if peak <= 0 || math.IsInf(peak, 0) || math.IsNaN(peak) {
		return
	}
	floats.Scale(1/peak, data)
}

// standardize rescales data to zero mean and unit variance. Constant input
// becomes all zeros.
func standardize(data []float64) {
	if len(data) < 2 {
		for i := range data {
			data[i] = 0
		}
		return
	}

	mean, std := stat.PopMeanStdDev(data, nil)
	if std < 1e-10 || math.IsNaN(std) {
		for i := range data {
			data[i] = 0
		}
		return
	}
	for i, v := range data {
		data[i] = (v - mean) / std
	}
}
