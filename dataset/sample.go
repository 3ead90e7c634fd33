// Package dataset loads, simulates and encodes the samples training runs
// on, and partitions them into splits.
package dataset

import (
	"errors"

	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

var (
	// ErrEmpty means a required split ended up with no samples
	ErrEmpty = errors.New("empty dataset")
	// ErrMalformed means a sample file or spectrum could not be used
	ErrMalformed = errors.New("malformed sample")
)

// Provenance records where a sample came from
type Provenance string

const (
	Captured         Provenance = "captured"
	Simulated        Provenance = "simulated"
	SynthesizedNoise Provenance = "synthesized-noise"
)

// Record is a raw labelled spectrum before encoding
type Record struct {
	Spectrum   spectrum.Spectrum
	Label      pitch.Set
	Provenance Provenance
	Source     string // file path or generator description
}

// Sample is an encoded record. Samples are shared between splits and must
// not be modified.
type Sample struct {
	Features   []float64
	Target     []float64
	Label      pitch.Set
	Provenance Provenance
}
