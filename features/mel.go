package features

import (
	"math"

	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

// MelBands is the number of triangular filters in the mel loader
const MelBands = 512

// HzToMel converts frequency in Hz to mel scale
func HzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// MelToHz converts mel scale to frequency in Hz
func MelToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilter is one triangle, stored sparsely from its first non-zero bin
type melFilter struct {
	start   int
	weights []float64
}

type melBank struct {
	filters []melFilter
}

// newMelBank spaces numFilters triangles evenly on the mel scale between 0 Hz
// and the top of the spectrum.
func newMelBank(numFilters int) *melBank {
	lowMel := HzToMel(0)
	highMel := HzToMel(spectrum.Size)

	bins := make([]int, numFilters+2)
	step := (highMel - lowMel) / float64(numFilters+1)
	for i := range bins {
		hz := MelToHz(lowMel + float64(i)*step)
		bins[i] = min(int(math.Floor(hz)), spectrum.Size-1)
	}

	bank := &melBank{filters: make([]melFilter, numFilters)}
	for m := 1; m <= numFilters; m++ {
		left, center, right := bins[m-1], bins[m], bins[m+1]
		weights := make([]float64, right-left+1)

		// rising edge
		for k := left; k < center; k++ {
			weights[k-left] = float64(k-left) / float64(center-left)
		}
		// falling edge, peak included
		for k := center; k <= right; k++ {
			if right == center {
				weights[k-left] = 1
				continue
			}
			weights[k-left] = float64(right-k) / float64(right-center)
		}

		bank.filters[m-1] = melFilter{start: left, weights: weights}
	}
	return bank
}

func (b *melBank) width() int { return len(b.filters) }

func (b *melBank) transform(s spectrum.Spectrum) []float64 {
	out := make([]float64, len(b.filters))
	for i, f := range b.filters {
		sum := 0.0
		for j, w := range f.weights {
			sum += s[f.start+j] * w
		}
		out[i] = sum
	}
	return out
}
