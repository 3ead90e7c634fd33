package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-pitch/artifact"
	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/dataset"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
	"github.com/RyanBlaney/sonido-pitch/target"
)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Model.Dim = 8
	cfg.Model.Heads = 2
	cfg.Model.FFHidden = 16
	cfg.Train.Epochs = 1
	cfg.Train.BatchSize = 50
	cfg.Train.Workers = 2
	cfg.Train.CheckpointDir = filepath.Join(dir, "checkpoints")
	cfg.Data.SimulationSize = 1
	cfg.Data.NoiseSamples = 10
	cfg.Store.ArtifactPath = filepath.Join(dir, "model"+artifact.Ext)
	return cfg
}

func TestRunProducesArtifactAndReports(t *testing.T) {
	cfg := smallConfig(t)
	p, err := New(cfg, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, res.Training)
	assert.Equal(t, 1, res.Training.Epochs)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Thresholds, target.MustNew(cfg.Target.Kind).Width())

	require.NotNil(t, res.Validation)
	assert.Equal(t, "validation", res.Validation.Split)
	assert.Equal(t, 30, res.Validation.Samples)
	assert.Nil(t, res.Captured, "no captured data was configured")
	assert.Nil(t, res.Baseline)
	for _, v := range []float64{res.Validation.Hamming, res.Validation.F1, res.Validation.SampleF1} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	art, err := artifact.Load(res.ArtifactPath)
	require.NoError(t, err)
	require.NoError(t, art.Check(cfg))
	assert.True(t, art.Final)
	assert.Equal(t, res.RunID, art.RunID)
	assert.Equal(t, []float64(res.Thresholds), []float64(art.Thresholds))

	entries, err := os.ReadDir(cfg.Train.CheckpointDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one checkpoint per epoch")

	t.Run("detect", func(t *testing.T) {
		d, err := NewDetector(cfg, art)
		require.NoError(t, err)

		sim := dataset.NewSimulator(cfg.Data, 3)
		det, err := d.Detect(sim.Render(pitch.NewSet(48, 64, 67)))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, det.Bass, 0)
		assert.Less(t, det.Bass, pitch.ClassCount)
		assert.Equal(t, pitch.ClassName(det.Bass), det.BassName)
		assert.Len(t, det.Names, len(det.Pitches))
		assert.Len(t, det.Probabilities, 24)
	})

	t.Run("detect pcm", func(t *testing.T) {
		d, err := NewDetector(cfg, art)
		require.NoError(t, err)

		pcm := make([]float64, 8000)
		for i := range pcm {
			pcm[i] = 0.3 * math.Sin(2*math.Pi*220*float64(i)/8000)
		}
		det, err := d.DetectPCM(pcm, 8000)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, det.Bass, 0)
	})

	t.Run("mismatched configuration", func(t *testing.T) {
		other := smallConfig(t)
		other.Target.Kind = config.TargetFull
		_, err := NewDetector(other, art)
		assert.ErrorIs(t, err, artifact.ErrIncompatible)

		other = smallConfig(t)
		other.Model.Dim = 16
		_, err = NewDetector(other, art)
		assert.ErrorIs(t, err, artifact.ErrIncompatible)
	})

	t.Run("evaluate", func(t *testing.T) {
		recs := dataset.NewSimulator(cfg.Data, 11).Chords(1)[:40]
		report, err := p.Evaluate(context.Background(), art, recs)
		require.NoError(t, err)
		assert.Equal(t, 40, report.Samples)

		_, err = p.Evaluate(context.Background(), art, nil)
		assert.ErrorIs(t, err, dataset.ErrEmpty)
	})
}

func TestRunEvaluatesCapturedSplit(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Train.OversampleFactor = 2
	cfg.Train.CheckpointDir = ""
	p, err := New(cfg, nil)
	require.NoError(t, err)

	sim := dataset.NewSimulator(cfg.Data, 5)
	recs := sim.Chords(1)
	captured := make([]dataset.Record, 0, 8)
	for _, r := range recs[:8] {
		r.Provenance = dataset.Captured
		captured = append(captured, r)
	}
	src := dataset.Sources{
		Captured:   captured,
		Simulated:  recs[8:100],
		Validation: recs[100:120],
	}

	res, err := p.RunSources(context.Background(), src)
	require.NoError(t, err)
	require.NotNil(t, res.Captured)
	assert.Equal(t, "captured", res.Captured.Split)
	assert.Equal(t, 8, res.Captured.Samples)
	assert.Equal(t, 20, res.Validation.Samples)

	require.NotNil(t, res.Baseline)
	assert.Equal(t, 8, res.Baseline.Samples)
	assert.GreaterOrEqual(t, res.Baseline.ExactMatch, 0.0)
	assert.LessOrEqual(t, res.Baseline.ExactMatch, 1.0)
	assert.GreaterOrEqual(t, res.Captured.ExactMatch, 0.0)
	assert.LessOrEqual(t, res.Captured.ExactMatch, 1.0)
}

func TestBaselineExactMatch(t *testing.T) {
	p, err := New(smallConfig(t), nil)
	require.NoError(t, err)

	// a silent spectrum yields no guessed pitches
	silent := make(spectrum.Spectrum, spectrum.Size)
	agree := dataset.Record{Spectrum: silent, Provenance: dataset.Captured}
	disagree := dataset.Record{Spectrum: silent, Label: pitch.NewSet(60), Provenance: dataset.Captured}

	r, err := p.Baseline([]dataset.Record{agree})
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.ExactMatch)
	assert.Equal(t, "deterministic baseline", r.Split)

	r, err = p.Baseline([]dataset.Record{disagree})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.ExactMatch)

	r, err = p.Baseline([]dataset.Record{agree, disagree})
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.ExactMatch)

	_, err = p.Baseline(nil)
	assert.ErrorIs(t, err, dataset.ErrEmpty)

	_, err = p.Baseline([]dataset.Record{{Spectrum: make(spectrum.Spectrum, 10)}})
	assert.ErrorIs(t, err, dataset.ErrMalformed)
}

func TestRunHonoursCancellation(t *testing.T) {
	cfg := smallConfig(t)
	p, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, cfg.Store.ArtifactPath)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Model.Heads = 3
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
