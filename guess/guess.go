// Package guess is the deterministic pitch detector whose output can be
// prepended to model features. It uses no learned state.
package guess

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

// Peak is a local maximum in a spectrum
type Peak struct {
	Frequency float64
	Magnitude float64
	Bin       int
}

// Detector finds spectral peaks and folds harmonics back onto their
// fundamentals.
type Detector struct {
	minFrequency    float64
	maxFrequency    float64
	relativeHeight  float64 // peaks below this fraction of the strongest are dropped
	minPeakDistance int     // bins
	maxPeaks        int
	maxHarmonic     int
	tolerance       float64 // relative frequency error accepted for a harmonic
}

// NewDetector creates a detector with the thresholds used for guessing
func NewDetector() *Detector {
	return &Detector{
		minFrequency:    50,
		maxFrequency:    8000,
		relativeHeight:  0.1,
		minPeakDistance: 3,
		maxPeaks:        24,
		maxHarmonic:     8,
		tolerance:       0.03,
	}
}

// DetectPeaks returns local maxima sorted by descending magnitude
func (d *Detector) DetectPeaks(s spectrum.Spectrum) []Peak {
	lo := max(int(d.minFrequency), 1)
	hi := min(int(d.maxFrequency), len(s)-1)
	if hi <= lo {
		return []Peak{}
	}

	strongest := floats.Max(s[lo:hi])
	if strongest <= 0 {
		return []Peak{}
	}
	floor := strongest * d.relativeHeight

	var peaks []Peak
	for i := lo; i < hi; i++ {
		if s[i] <= s[i-1] || s[i] < s[i+1] || s[i] < floor {
			continue
		}

		valid := true
		for j := range peaks {
			if abs(i-peaks[j].Bin) < d.minPeakDistance {
				// keep the higher of two close peaks
				if s[i] > peaks[j].Magnitude {
					peaks[j] = Peak{Frequency: float64(i), Magnitude: s[i], Bin: i}
				}
				valid = false
				break
			}
		}
		if valid {
			peaks = append(peaks, Peak{Frequency: float64(i), Magnitude: s[i], Bin: i})
		}
	}

	sort.SliceStable(peaks, func(i, j int) bool {
		if peaks[i].Magnitude != peaks[j].Magnitude {
			return peaks[i].Magnitude > peaks[j].Magnitude
		}
		return peaks[i].Bin < peaks[j].Bin
	})
	if len(peaks) > d.maxPeaks {
		peaks = peaks[:d.maxPeaks]
	}
	return peaks
}

// Detect returns the set of pitches the spectrum most likely contains
func (d *Detector) Detect(s spectrum.Spectrum) pitch.Set {
	peaks := d.DetectPeaks(s)

	// strongest magnitude seen per pitch
	energy := make(map[int]float64)
	for _, p := range peaks {
		n := pitch.Nearest(p.Frequency)
		if n < 0 {
			continue
		}
		energy[n] = math.Max(energy[n], p.Magnitude)
	}

	notes := make([]int, 0, len(energy))
	for n := range energy {
		notes = append(notes, n)
	}
	sort.Ints(notes)

	var out pitch.Set
	for i, n := range notes {
		if d.isHarmonic(n, notes[:i], energy) {
			continue
		}
		out = out.Add(n)
	}
	return out
}

// Guess returns the detection as a 0/1 vector indexed by pitch
func (d *Detector) Guess(s spectrum.Spectrum) []float64 {
	out := make([]float64, pitch.Count)
	for _, p := range d.Detect(s).Pitches() {
		out[p] = 1
	}
	return out
}

// isHarmonic reports whether n sits on an overtone of a lower, stronger note
func (d *Detector) isHarmonic(n int, lower []int, energy map[int]float64) bool {
	f := pitch.Frequency(n)
	for _, base := range lower {
		if energy[base] < energy[n] {
			continue
		}
		fb := pitch.Frequency(base)
		for h := 2; h <= d.maxHarmonic; h++ {
			if math.Abs(f-fb*float64(h))/f <= d.tolerance {
				return true
			}
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
