package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-pitch/config"
)

func tinyConfig() Config {
	return Config{
		InputWidth:   5,
		OutputWidth:  3,
		Dim:          4,
		Heads:        2,
		FFHidden:     6,
		LogTransform: true,
		Epsilon:      1e-3,
	}
}

// jitter moves every parameter off its initial value so biases and gains
// take part in the gradient check
func jitter(p *Params, rng *rand.Rand) {
	for _, tensor := range p.Tensors() {
		r, _ := tensor.M.Dims()
		for i := range r {
			row := tensor.M.RawRowView(i)
			for j := range row {
				row[j] += 0.3 * (2*rng.Float64() - 1)
			}
		}
	}
}

func weightedLoss(logits, w []float64) float64 {
	sum := 0.0
	for i := range logits {
		sum += logits[i] * w[i]
	}
	return sum
}

func checkGradients(t *testing.T, c Config, seed int64) {
	rng := rand.New(rand.NewSource(1))
	p := Init(c, rng)
	jitter(p, rng)

	x := []float64{0.5, -1.2, 2.0, 0.0, 0.7}
	w := []float64{1.0, -0.5, 0.25}

	newRNG := func() *rand.Rand {
		if c.Dropout == 0 {
			return nil
		}
		return rand.New(rand.NewSource(seed))
	}

	pass, err := Forward(c, p, x, newRNG())
	require.NoError(t, err)
	grads, err := pass.Backward(p, w)
	require.NoError(t, err)

	const h = 1e-6
	params, analytic := p.Tensors(), grads.Tensors()
	for k, tensor := range params {
		r, cols := tensor.M.Dims()
		for i := range r {
			for j := range cols {
				orig := tensor.M.At(i, j)

				tensor.M.Set(i, j, orig+h)
				plus, err := Forward(c, p, x, newRNG())
				require.NoError(t, err)
				tensor.M.Set(i, j, orig-h)
				minus, err := Forward(c, p, x, newRNG())
				require.NoError(t, err)
				tensor.M.Set(i, j, orig)

				numeric := (weightedLoss(plus.Logits, w) - weightedLoss(minus.Logits, w)) / (2 * h)
				got := analytic[k].M.At(i, j)
				assert.InDelta(t, numeric, got, 1e-6+1e-4*math.Abs(numeric),
					"%s[%d,%d]", tensor.Name, i, j)
			}
		}
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	checkGradients(t, tinyConfig(), 0)
}

func TestGradientsWithDropout(t *testing.T) {
	c := tinyConfig()
	c.Dropout = 0.3
	checkGradients(t, c, 42)
}

func TestGradientsWithoutLogTransform(t *testing.T) {
	c := tinyConfig()
	c.LogTransform = false
	checkGradients(t, c, 0)
}

func TestOutputWidthAndFiniteOnZeros(t *testing.T) {
	c := Config{InputWidth: 128, OutputWidth: 24, Dim: 8, Heads: 2, FFHidden: 16, LogTransform: true, Epsilon: 1e-6}
	require.NoError(t, c.Validate())
	p := Init(c, rand.New(rand.NewSource(3)))

	logits, err := Predict(c, p, make([]float64, 128))
	require.NoError(t, err)
	require.Len(t, logits, 24)
	for _, v := range logits {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestPredictIsDeterministic(t *testing.T) {
	c := tinyConfig()
	c.Dropout = 0.5
	p := Init(c, rand.New(rand.NewSource(9)))
	x := []float64{1, 2, 3, 4, 5}

	a, err := Predict(c, p, x)
	require.NoError(t, err)
	b, err := Predict(c, p, x)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestInputWidthMismatch(t *testing.T) {
	c := tinyConfig()
	p := Init(c, rand.New(rand.NewSource(1)))
	_, err := Predict(c, p, []float64{1, 2})
	assert.Error(t, err)

	pass, err := Forward(c, p, make([]float64, 5), nil)
	require.NoError(t, err)
	_, err = pass.Backward(p, []float64{1})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := tinyConfig()
	c.Heads = 3
	assert.ErrorIs(t, c.Validate(), config.ErrInvalid)

	c = tinyConfig()
	c.InputWidth = 0
	assert.ErrorIs(t, c.Validate(), config.ErrInvalid)

	c = tinyConfig()
	c.Epsilon = 0
	assert.ErrorIs(t, c.Validate(), config.ErrInvalid)
}

func TestFromRun(t *testing.T) {
	run := config.Default()
	c := FromRun(run, 256, 24)
	assert.Equal(t, 256, c.InputWidth)
	assert.Equal(t, 24, c.OutputWidth)
	assert.Equal(t, run.Model.Dim, c.Dim)
	assert.Equal(t, run.Features.LogTransform, c.LogTransform)
	assert.NoError(t, c.Validate())
}

func TestParamsHelpers(t *testing.T) {
	c := tinyConfig()
	p := Init(c, rand.New(rand.NewSource(5)))
	clone := p.Clone()
	require.True(t, p.Equal(clone))

	clone.Scale(2)
	assert.False(t, p.Equal(clone))

	sum := Zeros(c)
	sum.Add(p)
	sum.Add(p)
	assert.True(t, sum.Equal(clone))

	assert.True(t, p.Finite())
	p.Head.Set(0, 0, math.NaN())
	assert.False(t, p.Finite())

	d := c.Dim
	want := 2*d + 2*d + 4*(d*d+d) + 2*d + d*c.FFHidden + c.FFHidden + c.FFHidden*d + d + d*c.OutputWidth + c.OutputWidth
	assert.Equal(t, want, Zeros(c).Count())

	assert.True(t, p.Set("head_bias", Zeros(c).HeadBias))
	assert.False(t, p.Set("nope", nil))
}
