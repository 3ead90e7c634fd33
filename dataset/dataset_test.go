package dataset

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/features"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
	"github.com/RyanBlaney/sonido-pitch/target"
)

func TestRecordRoundTrip(t *testing.T) {
	s := make(spectrum.Spectrum, spectrum.Size)
	s[0], s[440], s[8191] = 1.5, 300, 2
	label := pitch.NewSet(21, 69, 100)

	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, s, label))
	assert.Equal(t, spectrum.Size*4+16, buf.Len())

	gotS, gotLabel, err := ReadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, s, gotS)
	assert.Equal(t, label, gotLabel)
}

func TestLabelIsBigEndian128(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, make(spectrum.Spectrum, spectrum.Size), pitch.NewSet(pitch.C0, 60, 127)))
	tail := buf.Bytes()[spectrum.Size*4:]
	assert.Equal(t, byte(0x00), tail[0])
	assert.Equal(t, byte(0x08), tail[1])  // G9 (127) is bit 115
	assert.Equal(t, byte(0x01), tail[9])  // C4 (60) is bit 48
	assert.Equal(t, byte(0x01), tail[15]) // C0 (12) is bit 0

	_, label, err := ReadRecord(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, pitch.NewSet(pitch.C0, 60, 127), label)
}

func TestLabelBitZeroIsC0(t *testing.T) {
	buf := make([]byte, spectrum.Size*4+16)
	buf[len(buf)-1] = 0x01
	_, label, err := ReadRecord(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, pitch.NewSet(12), label)
	assert.Equal(t, "C0", label.String())

	// bits above 115 name pitches past G9
	buf[len(buf)-1] = 0
	buf[len(buf)-16] = 0x80
	_, label, err = ReadRecord(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.True(t, label.Empty())
}

func TestWriteRecordRejectsPitchBelowC0(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRecord(&buf, make(spectrum.Spectrum, spectrum.Size), pitch.NewSet(11, 60))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Zero(t, buf.Len())

	require.NoError(t, WriteRecord(&buf, make(spectrum.Spectrum, spectrum.Size), pitch.Set{}))
}

func TestReadRecordTruncated(t *testing.T) {
	_, _, err := ReadRecord(bytes.NewReader(make([]byte, 100)))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSaveAndLoadDir(t *testing.T) {
	dir := t.TempDir()
	sim := NewSimulator(config.Default().Data, 1)

	var saved []string
	for _, set := range []pitch.Set{pitch.NewSet(60, 64, 67), pitch.NewSet(45)} {
		path, err := SaveRecord(dir, "song_", Record{Spectrum: sim.Render(set), Label: set})
		require.NoError(t, err)
		saved = append(saved, path)
	}
	assert.Contains(t, filepath.Base(saved[0]), "song_C4E4G4_")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	recs, err := LoadDir(dir, Captured)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// lexical order: A2 sorts before C4
	assert.Equal(t, pitch.NewSet(45), recs[0].Label)
	assert.Equal(t, Captured, recs[0].Provenance)
}

func TestLoadDirRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.bin"), []byte{1, 2, 3}, 0o644))
	_, err := LoadDir(dir, Captured)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSimulatorIsSeeded(t *testing.T) {
	a := NewSimulator(config.Default().Data, 5).Chords(1)
	b := NewSimulator(config.Default().Data, 5).Chords(1)
	require.Len(t, a, 300)
	for i := range a {
		assert.Equal(t, a[i].Label, b[i].Label)
		assert.Equal(t, a[i].Spectrum, b[i].Spectrum)
	}
}

func TestSimulatedChordShapes(t *testing.T) {
	recs := NewSimulator(config.Default().Data, 2).Chords(1)
	for i, r := range recs {
		shape := i % chordShapes
		want := map[int]int{0: 1, 1: 1, 2: 2, 3: 3, 4: 4}[shape]
		assert.Equal(t, want, r.Label.Len(), "record %d", i)
		assert.Equal(t, Simulated, r.Provenance)
		assert.NoError(t, r.Spectrum.Check())
	}
}

func TestRenderPeaksAtFundamental(t *testing.T) {
	cfg := config.Default().Data
	cfg.FrequencyWobble = 0
	s := NewSimulator(cfg, 3).Render(pitch.NewSet(69))
	assert.Greater(t, s[440], s[430])
	assert.Greater(t, s[880], s[870])
}

func TestNoiseRecords(t *testing.T) {
	recs := NewSimulator(config.Default().Data, 4).NoiseRecords(6)
	require.Len(t, recs, 6)
	for _, r := range recs {
		assert.True(t, r.Label.Empty())
		assert.Equal(t, SynthesizedNoise, r.Provenance)
		assert.NoError(t, r.Spectrum.Check())
	}
}

func newBuilder(t *testing.T, cfg *config.Config) *Builder {
	t.Helper()
	enc, err := features.NewEncoder(cfg.Features, nil)
	require.NoError(t, err)
	return NewBuilder(cfg, enc, target.MustNew(cfg.Target.Kind))
}

func TestBuildSplits(t *testing.T) {
	cfg := config.Default()
	cfg.Train.OversampleFactor = 4
	cfg.Data.ValidationFraction = 0.2
	sim := NewSimulator(cfg.Data, 8)

	src := Sources{
		Captured:  []Record{{Spectrum: sim.Render(pitch.NewSet(60)), Label: pitch.NewSet(60), Provenance: Captured}},
		Simulated: sim.Chords(1)[:50],
		Noise:     sim.NoiseRecords(5),
	}
	splits, err := newBuilder(t, cfg).Build(context.Background(), src)
	require.NoError(t, err)

	assert.Len(t, splits.Validation, 10)
	assert.Len(t, splits.Captured, 1)
	assert.Len(t, splits.Train, 40+5+4)

	capturedInTrain := 0
	for _, s := range splits.Train {
		assert.Len(t, s.Features, 128)
		assert.Len(t, s.Target, 24)
		if s.Provenance == Captured {
			capturedInTrain++
		}
	}
	assert.Equal(t, 4, capturedInTrain)
}

func TestBuildPrefersValidationSources(t *testing.T) {
	cfg := config.Default()
	sim := NewSimulator(cfg.Data, 9)
	src := Sources{
		Simulated:  sim.Chords(1)[:20],
		Validation: sim.Chords(1)[:3],
	}
	splits, err := newBuilder(t, cfg).Build(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, splits.Validation, 3)
	assert.Len(t, splits.Train, 20)
}

func TestBuildEmpty(t *testing.T) {
	cfg := config.Default()
	_, err := newBuilder(t, cfg).Build(context.Background(), Sources{})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestBuildRejectsBadSpectrum(t *testing.T) {
	cfg := config.Default()
	src := Sources{Simulated: []Record{{Spectrum: make(spectrum.Spectrum, 3), Source: "short"}}}
	_, err := newBuilder(t, cfg).Build(context.Background(), src)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBatchesAndShuffle(t *testing.T) {
	samples := make([]Sample, 7)
	for i := range samples {
		samples[i] = Sample{Label: pitch.NewSet(i)}
	}
	batches := Batches(samples, 3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[2], 1)

	a, b := Shuffle(samples, 1), Shuffle(samples, 1)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, samples, a)
	assert.Equal(t, pitch.NewSet(0), samples[0].Label)
}
