package metrics

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/target"
	"github.com/RyanBlaney/sonido-pitch/threshold"
)

func randomSplit(scheme target.Scheme, n int, seed int64) (logits, truth [][]float64) {
	rng := rand.New(rand.NewSource(seed))
	for range n {
		z := make([]float64, scheme.Width())
		y := make([]float64, scheme.Width())
		for j := range z {
			z[j] = rng.NormFloat64() * 3
			if rng.Float64() < 0.25 {
				y[j] = 1
			}
		}
		logits, truth = append(logits, z), append(truth, y)
	}
	return logits, truth
}

// oneHot builds a folded vector with the given classes set to v
func folded(v float64, classes ...int) []float64 {
	out := make([]float64, 12)
	for _, c := range classes {
		out[c] = v
	}
	return out
}

func TestOrderInvarianceAndIdempotence(t *testing.T) {
	for _, kind := range []config.TargetKind{config.TargetFull, config.TargetFolded, config.TargetFoldedBass} {
		t.Run(string(kind), func(t *testing.T) {
			scheme := target.MustNew(kind)
			logits, truth := randomSplit(scheme, 60, 7)
			table, err := threshold.Tune(scheme, logits, truth)
			require.NoError(t, err)
			engine := NewEngine(scheme, 5)

			first, err := engine.Evaluate(logits, truth, table)
			require.NoError(t, err)
			again, err := engine.Evaluate(logits, truth, table)
			require.NoError(t, err)
			assert.Equal(t, first, again)

			perm := rand.New(rand.NewSource(9)).Perm(len(logits))
			pl := make([][]float64, len(logits))
			pt := make([][]float64, len(truth))
			for i, j := range perm {
				pl[i], pt[i] = logits[j], truth[j]
			}
			shuffled, err := engine.Evaluate(pl, pt, table)
			require.NoError(t, err)
			assert.Equal(t, first, shuffled)
		})
	}
}

func TestZeroSupportClassesCountAsZero(t *testing.T) {
	scheme := target.MustNew(config.TargetFolded)
	logits := [][]float64{folded(-6, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11), folded(-6, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)}
	logits[0][0], logits[1][0] = 6, 6
	truth := [][]float64{folded(1, 0), folded(1, 0)}

	r, err := NewEngine(scheme, 5).Evaluate(logits, truth, threshold.Uniform(12, 0.5))
	require.NoError(t, err)

	assert.Equal(t, 1.0, r.Classes[0].F1)
	assert.InDelta(t, 1.0/12, r.F1, 1e-15)
	assert.InDelta(t, 1.0/12, r.Precision, 1e-15)
	assert.InDelta(t, 1.0/12, r.Recall, 1e-15)
	assert.Equal(t, 1.0, r.Accuracy)
	assert.Equal(t, 1.0, r.Hamming)
	assert.Equal(t, 1.0, r.SampleF1)
	assert.Len(t, r.ZeroSupport, 11)
	assert.Equal(t, "C#", r.ZeroSupport[0])
	require.Len(t, r.LowestPrecision, 1)
	assert.Equal(t, "C", r.LowestPrecision[0].Name)
}

func TestSampleF1(t *testing.T) {
	scheme := target.MustNew(config.TargetFolded)
	neg := folded(-6, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)

	both := append([]float64{}, neg...)
	both[0], both[4] = 6, 6
	logits := [][]float64{neg, both}
	truth := [][]float64{folded(0), folded(1, 0, 7)}

	r, err := NewEngine(scheme, 3).Evaluate(logits, truth, threshold.Uniform(12, 0.5))
	require.NoError(t, err)
	// sample 0: empty vs empty = 1; sample 1: 2*1/(2+2) = 0.5
	assert.InDelta(t, 0.75, r.SampleF1, 1e-15)
	assert.InDelta(t, 22.0/24, r.Hamming, 1e-15)
	assert.Equal(t, 0.5, r.ExactMatch)
}

func TestExactMatch(t *testing.T) {
	scheme := target.MustNew(config.TargetFoldedBass)
	engine := NewEngine(scheme, 3)
	table := threshold.Uniform(24, 0.5)

	// C major over C: bass C, classes C E G
	truth := make([]float64, 24)
	truth[0], truth[12], truth[16], truth[19] = 1, 1, 1, 1
	logits := make([]float64, 24)
	for i, v := range truth {
		logits[i] = 12*v - 6
	}

	r, err := engine.Evaluate([][]float64{logits}, [][]float64{truth}, table)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.ExactMatch)

	wrong := append([]float64{}, logits...)
	wrong[14] = 6 // D decoded as sounding
	r, err = engine.Evaluate([][]float64{wrong}, [][]float64{truth}, table)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.ExactMatch)

	wrongBass := append([]float64{}, logits...)
	wrongBass[7] = 9 // arg-max moves the bass to G
	r, err = engine.Evaluate([][]float64{wrongBass}, [][]float64{truth}, table)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.ExactMatch)
}

func TestEvaluateDecisions(t *testing.T) {
	scheme := target.MustNew(config.TargetFolded)
	engine := NewEngine(scheme, 3)
	truth := [][]float64{folded(1, 0, 4, 7), folded(1, 9)}

	r, err := engine.EvaluateDecisions([][]float64{folded(1, 0, 4, 7), folded(1, 9)}, truth)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.ExactMatch)
	assert.Equal(t, 1.0, r.Hamming)
	assert.Equal(t, 1.0, r.SampleF1)

	r, err = engine.EvaluateDecisions([][]float64{folded(1, 0, 4, 7), folded(1, 9, 11)}, truth)
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.ExactMatch)
	assert.InDelta(t, 23.0/24, r.Hamming, 1e-15)
	assert.Equal(t, 1, r.Classes[11].Predicted)
	assert.Zero(t, r.Classes[11].Precision)

	_, err = engine.EvaluateDecisions([][]float64{folded(1)}, nil)
	assert.Error(t, err)
}

func TestAveragePrecision(t *testing.T) {
	truth := [][]float64{{1}, {0}, {1}, {0}}
	assert.Equal(t, 1.0, averagePrecision([]float64{0.9, 0.1, 0.8, 0.2}, truth, 0))
	// all tied: one step to recall 1 at precision 1/2
	assert.Equal(t, 0.5, averagePrecision([]float64{0.5, 0.5, 0.5, 0.5}, truth, 0))
	// ranking pos, neg, pos: 0.5*1 + 0.5*(2/3)
	assert.InDelta(t, 0.5+1.0/3, averagePrecision([]float64{0.9, 0.8, 0.7, 0.1}, truth, 0), 1e-15)
	assert.Equal(t, 0.0, averagePrecision([]float64{0.9, 0.8}, [][]float64{{0}, {0}}, 0))
}

func TestLowestListsRankSupportedClasses(t *testing.T) {
	scheme := target.MustNew(config.TargetFolded)
	logits, truth := randomSplit(scheme, 30, 3)
	r, err := NewEngine(scheme, 4).Evaluate(logits, truth, threshold.Uniform(12, 0.5))
	require.NoError(t, err)

	require.Len(t, r.LowestRecall, 4)
	for i := 1; i < len(r.LowestRecall); i++ {
		a, b := r.LowestRecall[i-1], r.LowestRecall[i]
		assert.True(t, a.Recall < b.Recall || (a.Recall == b.Recall && a.Class < b.Class))
	}
	for _, s := range r.LowestPrecision {
		assert.Positive(t, s.Support)
	}
}

func TestFoldedBassSlotNames(t *testing.T) {
	scheme := target.MustNew(config.TargetFoldedBass)
	assert.Equal(t, "bass:C", SlotName(scheme, 0))
	assert.Equal(t, "G", SlotName(scheme, 19))
	assert.Equal(t, "A4", SlotName(target.MustNew(config.TargetFull), 69))
}

func TestEvaluateErrors(t *testing.T) {
	scheme := target.MustNew(config.TargetFolded)
	engine := NewEngine(scheme, 5)
	table := threshold.Uniform(12, 0.5)

	_, err := engine.Evaluate(nil, nil, table)
	assert.Error(t, err)
	_, err = engine.Evaluate([][]float64{folded(0)}, nil, table)
	assert.Error(t, err)
	_, err = engine.Evaluate([][]float64{make([]float64, 5)}, [][]float64{make([]float64, 5)}, table)
	assert.Error(t, err)
}

func TestWriteReport(t *testing.T) {
	scheme := target.MustNew(config.TargetFolded)
	logits, truth := randomSplit(scheme, 10, 4)
	r, err := NewEngine(scheme, 2).Evaluate(logits, truth, threshold.Uniform(12, 0.5))
	require.NoError(t, err)
	r.Split = "validation"

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))
	assert.Contains(t, buf.String(), "validation metrics (10 samples)")
	assert.Contains(t, buf.String(), "macro f1")
	assert.Contains(t, buf.String(), "exact match")
	assert.Contains(t, buf.String(), "lowest recall")
}
