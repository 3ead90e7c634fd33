// Package spectrum produces fixed-size magnitude spectra (1 Hz per bin) from
// PCM audio.
package spectrum

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// Size is the number of 1 Hz bins in a Spectrum
const Size = 8192

// Spectrum holds non-negative magnitudes, bin i covering frequency i Hz
type Spectrum []float64

// Check verifies length and that every magnitude is finite and non-negative
func (s Spectrum) Check() error {
	if len(s) != Size {
		return fmt.Errorf("spectrum has %d bins, want %d", len(s), Size)
	}
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("spectrum bin %d holds invalid magnitude %v", i, v)
		}
	}
	return nil
}

// Analyzer turns PCM into a Spectrum with a whole-segment FFT
type Analyzer struct{}

// NewAnalyzer creates a new spectrum analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// FromPCM pads pcm to a whole number of seconds, takes the magnitude FFT and
// averages each second's worth of bins into one 1 Hz bin. Bins at or above
// the Nyquist frequency stay zero.
func (a *Analyzer) FromPCM(pcm []float64, sampleRate int) (Spectrum, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	seconds := (len(pcm) + sampleRate - 1) / sampleRate
	padded := make([]float64, seconds*sampleRate)
	copy(padded, pcm)

	mags := a.Magnitudes(padded)

	// a window of n seconds resolves 1/n Hz, so average n bins into one
	out := make(Spectrum, Size)
	nyquist := min(sampleRate/2, Size)
	for hz := range nyquist {
		out[hz] = floats.Sum(mags[hz*seconds:(hz+1)*seconds]) / float64(seconds)
	}

	return out, nil
}

// Magnitudes returns |X_k| for a raw FFT of x. go-dsp handles non
// power-of-two lengths.
func (a *Analyzer) Magnitudes(x []float64) []float64 {
	if len(x) == 0 {
		return []float64{}
	}
	coeffs := fft.FFTReal(x)
	mags := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = cmplx.Abs(c)
	}
	return mags
}
