package threshold

import (
	"fmt"

	"github.com/RyanBlaney/sonido-pitch/target"
)

// Prediction is a decoded output vector
type Prediction struct {
	Active        []bool    `json:"active"`
	Probabilities []float64 `json:"probabilities"`
	// Pitches holds the active sigmoid slots as absolute pitches (full) or
	// pitch classes (folded encodings)
	Pitches []int `json:"pitches"`
	// Bass is the arg-max pitch class of the categorical slot, -1 when the
	// encoding has none
	Bass int `json:"bass"`
}

// Probabilities maps logits to per-slot probabilities: softmax inside
// categorical segments, sigmoid elsewhere.
func Probabilities(scheme target.Scheme, logits []float64) []float64 {
	out := make([]float64, len(logits))
	for _, seg := range scheme.Segments() {
		z := logits[seg.Offset : seg.Offset+seg.Width]
		if seg.Categorical {
			copy(out[seg.Offset:], target.Softmax(z))
			continue
		}
		for j, v := range z {
			out[seg.Offset+j] = target.Sigmoid(v)
		}
	}
	return out
}

// Decoder turns logits into decisions with a calibrated table
type Decoder struct {
	scheme target.Scheme
	table  Table
}

// NewDecoder checks table against scheme
func NewDecoder(scheme target.Scheme, table Table) (*Decoder, error) {
	if err := table.Check(scheme); err != nil {
		return nil, err
	}
	return &Decoder{scheme: scheme, table: table}, nil
}

// Decode applies the table to sigmoid slots and arg-max to categorical ones,
// which always yields exactly one active slot.
func (d *Decoder) Decode(logits []float64) (Prediction, error) {
	if len(logits) != d.scheme.Width() {
		return Prediction{}, fmt.Errorf("got %d logits, want %d", len(logits), d.scheme.Width())
	}

	probs := Probabilities(d.scheme, logits)
	pred := Prediction{
		Active:        make([]bool, len(logits)),
		Probabilities: probs,
		Pitches:       []int{},
		Bass:          -1,
	}
	for _, seg := range d.scheme.Segments() {
		if seg.Categorical {
			best := 0
			for j := 1; j < seg.Width; j++ {
				if logits[seg.Offset+j] > logits[seg.Offset+best] {
					best = j
				}
			}
			pred.Active[seg.Offset+best] = true
			pred.Bass = best
			continue
		}
		for j := range seg.Width {
			slot := seg.Offset + j
			if probs[slot] >= d.table[slot] {
				pred.Active[slot] = true
				pred.Pitches = append(pred.Pitches, j)
			}
		}
	}
	return pred, nil
}
