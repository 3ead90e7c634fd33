package features

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

// PoolFactor is the averaging window of the pooled loader
const PoolFactor = 4

// Band edges around each semitone, slightly narrower below than above
const (
	lowerBandDivisor = 17.462 * 8
	upperBandDivisor = 16.8196 * 8
)

// Binned pitches run from G0 through C8
const (
	firstBinnedPitch = 19
	binnedPitches    = 90
)

// noteBinned sums the energy in a narrow band around every semitone. Slot i
// holds pitch i+C0, matching the sample label bit order.
type noteBinned struct{}

func (noteBinned) width() int { return pitch.Count }

func (noteBinned) transform(s spectrum.Spectrum) []float64 {
	out := make([]float64, pitch.Count)
	for p := firstBinnedPitch; p < firstBinnedPitch+binnedPitches; p++ {
		f := pitch.Frequency(p)
		lo := int(math.Round(f * (1 - 1/lowerBandDivisor)))
		hi := int(math.Round(f * (1 + 1/upperBandDivisor)))
		if hi >= len(s) {
			continue
		}
		// bins [lo, hi); a band that rounds to nothing stays zero
		out[p-pitch.C0] = floats.Sum(s[lo:hi])
	}
	return out
}

type rawFrequency struct{}

func (rawFrequency) width() int { return spectrum.Size }

func (rawFrequency) transform(s spectrum.Spectrum) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// pooled averages non-overlapping windows of factor bins
type pooled struct {
	factor int
}

func (p pooled) width() int { return spectrum.Size / p.factor }

func (p pooled) transform(s spectrum.Spectrum) []float64 {
	out := make([]float64, p.width())
	for i := range out {
		sum := 0.0
		for _, v := range s[i*p.factor : (i+1)*p.factor] {
			sum += v
		}
		out[i] = sum / float64(p.factor)
	}
	return out
}
