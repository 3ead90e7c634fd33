package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

const (
	harmonics     = 13
	peakMagnitude = 4000.0
	wobbleDivisor = 35.0
	noiseLevel    = 120.0

	lowestRoot  = 36 // C2
	rootCount   = 60
	chordShapes = 5
)

// interval pools, in semitones above the root
var (
	seconds = []int{1, 2, 3, 4, 5}
	fifths  = []int{6, 7, 8, 9}
	upper   = []int{10, 11, 13, 14, 15, 16, 17, 18, 20, 21, 22}
)

// NoiseKind is the background a simulated spectrum is rendered on
type NoiseKind int

const (
	NoNoise NoiseKind = iota
	PinkNoise
	WhiteNoise
	BrownNoise
)

func (k NoiseKind) String() string {
	switch k {
	case PinkNoise:
		return "pink"
	case WhiteNoise:
		return "white"
	case BrownNoise:
		return "brown"
	default:
		return "none"
	}
}

// Simulator renders synthetic spectra from a harmonic series on top of a
// noise basis. It is deterministic for a given seed and call sequence and is
// not safe for concurrent use.
type Simulator struct {
	peakRadius    float64
	harmonicDecay float64
	wobble        float64
	rng           *rand.Rand
}

// NewSimulator creates a simulator with the physics from cfg
func NewSimulator(cfg config.DataConfig, seed int64) *Simulator {
	return &Simulator{
		peakRadius:    cfg.PeakRadius,
		harmonicDecay: cfg.HarmonicDecay,
		wobble:        cfg.FrequencyWobble,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) between(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *Simulator) pick(items []int) int {
	return items[s.rng.Intn(len(items))]
}

// Noise renders a noise-only spectrum of the given kind
func (s *Simulator) Noise(kind NoiseKind) spectrum.Spectrum {
	out := make(spectrum.Spectrum, spectrum.Size)
	if kind == NoNoise {
		return out
	}
	for i := 1; i < len(out); i++ {
		v := noiseLevel * s.between(0.5, 1)
		switch kind {
		case PinkNoise:
			v *= math.Sqrt(100 / float64(i))
		case BrownNoise:
			v *= math.Min(100/float64(i), 10)
		}
		out[i] = v
	}
	return out
}

// Render draws a random noise basis and adds a wobbled, decaying harmonic
// series for every pitch in set.
func (s *Simulator) Render(set pitch.Set) spectrum.Spectrum {
	// "none" is drawn twice as often as each coloured noise
	var kind NoiseKind
	switch int(math.Round(s.between(0, 4))) {
	case 1:
		kind = PinkNoise
	case 2:
		kind = WhiteNoise
	case 3:
		kind = BrownNoise
	}
	out := s.Noise(kind)

	for _, p := range set.Pitches() {
		strength := 1.0
		f0 := pitch.Frequency(p) * (1 + s.between(-s.wobble, s.wobble)/wobbleDivisor)

		for k := 1; k <= harmonics; k++ {
			f := float64(k) * f0 * (1 + s.between(-s.wobble, s.wobble)/wobbleDivisor)
			if f-s.peakRadius < 0 || f+s.peakRadius > spectrum.Size {
				continue
			}

			peak := peakMagnitude * strength * s.between(0.8, 1)
			lo := int(math.Round(f - s.peakRadius))
			hi := int(math.Round(f + s.peakRadius))
			for i := lo; i < hi && i < spectrum.Size; i++ {
				out[i] += peak * (1 - math.Tanh((2/s.peakRadius)*math.Abs(float64(i)-f)))
			}
			strength *= 1 - s.harmonicDecay
		}
	}
	return out
}

// chord builds shape k (0..4) on root: single notes (twice), dyads, triads
// and four-note chords with random intervals.
func (s *Simulator) chord(root, k int) pitch.Set {
	notes := []int{root}
	if k >= 2 {
		notes = append(notes, root+s.pick(seconds))
	}
	if k >= 3 {
		notes = append(notes, root+s.pick(fifths))
	}
	if k >= 4 {
		notes = append(notes, root+s.pick(upper))
	}
	sort.Ints(notes)
	return pitch.NewSet(notes...)
}

// Chords renders passes × 60 roots × 5 shapes simulated records
func (s *Simulator) Chords(passes int) []Record {
	out := make([]Record, 0, passes*rootCount*chordShapes)
	for pass := range passes {
		for root := lowestRoot; root < lowestRoot+rootCount; root++ {
			for k := range chordShapes {
				set := s.chord(root, k)
				out = append(out, Record{
					Spectrum:   s.Render(set),
					Label:      set,
					Provenance: Simulated,
					Source:     fmt.Sprintf("simulated/%d/%s", pass, set),
				})
			}
		}
	}
	return out
}

// NoiseRecords renders n unlabelled noise spectra, cycling through the
// coloured noise kinds.
func (s *Simulator) NoiseRecords(n int) []Record {
	kinds := []NoiseKind{PinkNoise, WhiteNoise, BrownNoise}
	out := make([]Record, n)
	for i := range out {
		kind := kinds[i%len(kinds)]
		out[i] = Record{
			Spectrum:   s.Noise(kind),
			Provenance: SynthesizedNoise,
			Source:     fmt.Sprintf("noise/%s/%d", kind, i),
		}
	}
	return out
}
