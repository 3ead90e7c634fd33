package features

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

func randomSpectrum(seed int64) spectrum.Spectrum {
	rng := rand.New(rand.NewSource(seed))
	s := make(spectrum.Spectrum, spectrum.Size)
	for i := range s {
		s[i] = rng.Float64() * 10
	}
	return s
}

func allFinite(t *testing.T, v []float64) {
	t.Helper()
	for i, x := range v {
		require.False(t, math.IsNaN(x) || math.IsInf(x, 0), "element %d is %v", i, x)
	}
}

func TestWidths(t *testing.T) {
	tests := []struct {
		loader config.LoaderKind
		guess  bool
		want   int
	}{
		{config.LoaderNoteBinned, false, 128},
		{config.LoaderNoteBinned, true, 256},
		{config.LoaderMel, false, 512},
		{config.LoaderMel, true, 640},
		{config.LoaderFrequency, false, 8192},
		{config.LoaderFrequency, true, 8320},
		{config.LoaderFrequencyPooled, false, 2048},
		{config.LoaderFrequencyPooled, true, 2176},
	}
	for _, tt := range tests {
		name := string(tt.loader)
		if tt.guess {
			name += "+guess"
		}
		t.Run(name, func(t *testing.T) {
			e, err := NewEncoder(config.FeatureConfig{Loader: tt.loader, DeterministicGuess: tt.guess}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Width())

			w, err := Width(tt.loader, tt.guess)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w)

			v, err := e.Encode(randomSpectrum(1))
			require.NoError(t, err)
			assert.Len(t, v, tt.want)
			allFinite(t, v)
		})
	}
}

func TestUnknownLoader(t *testing.T) {
	_, err := NewEncoder(config.FeatureConfig{Loader: "cqt"}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
	_, err = BaseWidth("")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestAllZeroSpectrumIsFinite(t *testing.T) {
	e, err := NewEncoder(config.FeatureConfig{Loader: config.LoaderNoteBinned}, nil)
	require.NoError(t, err)

	v, err := e.Encode(make(spectrum.Spectrum, spectrum.Size))
	require.NoError(t, err)
	require.Len(t, v, 128)
	allFinite(t, v)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	for _, loader := range []config.LoaderKind{
		config.LoaderNoteBinned, config.LoaderMel, config.LoaderFrequency, config.LoaderFrequencyPooled,
	} {
		e, err := NewEncoder(config.FeatureConfig{Loader: loader, DeterministicGuess: true}, nil)
		require.NoError(t, err)
		s := randomSpectrum(7)
		a, err := e.Encode(s)
		require.NoError(t, err)
		b, err := e.Encode(s)
		require.NoError(t, err)
		assert.Equal(t, a, b, string(loader))
	}
}

func TestEncodeStandardizes(t *testing.T) {
	e, err := NewEncoder(config.FeatureConfig{Loader: config.LoaderFrequencyPooled}, nil)
	require.NoError(t, err)
	v, err := e.Encode(randomSpectrum(3))
	require.NoError(t, err)

	mean, sq := 0.0, 0.0
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	for _, x := range v {
		sq += (x - mean) * (x - mean)
	}
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, sq/float64(len(v)), 1e-9)
}

func TestNoteBinnedFindsTone(t *testing.T) {
	s := make(spectrum.Spectrum, spectrum.Size)
	s[int(math.Round(pitch.Frequency(69)))] = 5

	v := noteBinned{}.transform(s)
	require.Len(t, v, pitch.Count)
	for i, x := range v {
		if i == 69-pitch.C0 {
			assert.Equal(t, 5.0, x)
		} else {
			assert.Zero(t, x, "slot %d", i)
		}
	}
}

func TestNoteBinnedBands(t *testing.T) {
	s := make(spectrum.Spectrum, spectrum.Size)
	for i := range s {
		s[i] = 1
	}
	v := noteBinned{}.transform(s)

	// A4 covers bins 437 to 442
	assert.Equal(t, 6.0, v[69-pitch.C0])
	// G0 at 24.5 Hz covers bin 24 alone
	assert.Equal(t, 1.0, v[19-pitch.C0])

	// outside G0 to C8 nothing is binned
	for i := range 19 - pitch.C0 {
		assert.Zero(t, v[i], "slot %d", i)
	}
	for i := 109 - pitch.C0; i < pitch.Count; i++ {
		assert.Zero(t, v[i], "slot %d", i)
	}
	assert.NotZero(t, v[108-pitch.C0])
}

func TestPooledAverages(t *testing.T) {
	s := make(spectrum.Spectrum, spectrum.Size)
	s[0], s[1], s[2], s[3] = 1, 2, 3, 6
	v := pooled{factor: PoolFactor}.transform(s)
	assert.Equal(t, 3.0, v[0])
	assert.Zero(t, v[1])
}

func TestMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 100, 440, 4000, 8192} {
		assert.InDelta(t, hz, MelToHz(HzToMel(hz)), 1e-6)
	}
}

func TestMelBankCoversSpectrum(t *testing.T) {
	bank := newMelBank(MelBands)
	require.Equal(t, MelBands, bank.width())

	s := make(spectrum.Spectrum, spectrum.Size)
	for i := range s {
		s[i] = 1
	}
	v := bank.transform(s)
	for i, x := range v {
		assert.Greater(t, x, 0.0, "filter %d", i)
	}
}

type fixedGuess struct{ v []float64 }

func (f fixedGuess) Guess(spectrum.Spectrum) []float64 { return f.v }

func TestGuessPrefixComesFirst(t *testing.T) {
	g := make([]float64, GuessWidth)
	g[0] = 1
	e, err := NewEncoder(config.FeatureConfig{Loader: config.LoaderNoteBinned, DeterministicGuess: true}, fixedGuess{g})
	require.NoError(t, err)
	assert.True(t, e.Guessing())

	v, err := e.Encode(make(spectrum.Spectrum, spectrum.Size))
	require.NoError(t, err)
	// the single guess hit is the only non-constant element
	assert.Greater(t, v[0], 0.0)
	for _, x := range v[1:] {
		assert.Less(t, x, 0.0)
	}
}

func TestWrongSpectrumLength(t *testing.T) {
	e, err := NewEncoder(config.FeatureConfig{Loader: config.LoaderMel}, nil)
	require.NoError(t, err)
	_, err = e.Encode(make(spectrum.Spectrum, 10))
	assert.Error(t, err)
}
