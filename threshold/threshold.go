// Package threshold calibrates per-class decision thresholds on a held-out
// split and decodes logits into detected pitches.
package threshold

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/target"
)

const (
	// Default is used for classes with no positive examples and for
	// categorical slots, which never consult the table
	Default = 0.5
	Min     = 0.05
	Max     = 0.95
)

// Table holds one threshold per output slot
type Table []float64

// Uniform returns a table with every slot at v
func Uniform(width int, v float64) Table {
	t := make(Table, width)
	for i := range t {
		t[i] = v
	}
	return t
}

// Candidates are the thresholds searched, 0.05 to 0.95 in steps of 0.01
func Candidates() []float64 {
	out := make([]float64, 0, 91)
	for k := 5; k <= 95; k++ {
		out = append(out, float64(k)/100)
	}
	return out
}

// Clamp limits v to [Min, Max]
func Clamp(v float64) float64 {
	return math.Min(math.Max(v, Min), Max)
}

// Check reports whether the table fits scheme and every value is in range
func (t Table) Check(scheme target.Scheme) error {
	if len(t) != scheme.Width() {
		return fmt.Errorf("threshold table has %d entries, want %d", len(t), scheme.Width())
	}
	for i, v := range t {
		if !(v >= Min && v <= Max) {
			return fmt.Errorf("threshold %d is %v, outside [%v, %v]", i, v, Min, Max)
		}
	}
	return nil
}

// f1 from counts; zero when nothing was predicted or expected
func f1(tp, fp, fn int) float64 {
	d := 2*tp + fp + fn
	if d == 0 {
		return 0
	}
	return float64(2*tp) / float64(d)
}

// Tune picks, for every sigmoid slot independently, the candidate with the
// best F1 on the given split. Ties go to the candidate nearest Default.
// Slots without a positive example and categorical slots get Default.
func Tune(scheme target.Scheme, logits, truth [][]float64) (Table, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "threshold",
		"function":  "Tune",
	})
	if len(logits) != len(truth) {
		return nil, fmt.Errorf("%d predictions for %d ground truth vectors", len(logits), len(truth))
	}

	width := scheme.Width()
	probs := make([][]float64, len(logits))
	for i := range logits {
		if len(logits[i]) != width || len(truth[i]) != width {
			return nil, fmt.Errorf("sample %d has width %d/%d, want %d", i, len(logits[i]), len(truth[i]), width)
		}
		probs[i] = Probabilities(scheme, logits[i])
	}

	table := Uniform(width, Default)
	candidates := Candidates()
	fallbacks := 0
	for class := range width {
		if scheme.Categorical(class) {
			continue
		}

		positives := 0
		for i := range truth {
			if truth[i][class] >= 0.5 {
				positives++
			}
		}
		if positives == 0 {
			fallbacks++
			continue
		}

		best, bestF1 := Default, -1.0
		for _, c := range candidates {
			tp, fp, fn := 0, 0, 0
			for i := range probs {
				pred, want := probs[i][class] >= c, truth[i][class] >= 0.5
				switch {
				case pred && want:
					tp++
				case pred:
					fp++
				case want:
					fn++
				}
			}
			score := f1(tp, fp, fn)
			if score > bestF1 || (score == bestF1 && math.Abs(c-Default) < math.Abs(best-Default)) {
				best, bestF1 = c, score
			}
		}
		table[class] = Clamp(best)
	}

	logger.Info("Tuned thresholds", logging.Fields{
		"samples":   len(truth),
		"classes":   width,
		"fallbacks": fallbacks,
	})
	return table, nil
}
