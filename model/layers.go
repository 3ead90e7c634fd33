package model

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

const normEpsilon = 1e-5

// addRow adds the 1×n row vector b to every row of m
func addRow(m, b *mat.Dense) {
	bias := b.RawRowView(0)
	r, _ := m.Dims()
	for i := range r {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
}

// colSums writes the column sums of m into the 1×n dst
func colSums(dst, m *mat.Dense) {
	out := dst.RawRowView(0)
	for j := range out {
		out[j] = 0
	}
	r, _ := m.Dims()
	for i := range r {
		for j, v := range m.RawRowView(i) {
			out[j] += v
		}
	}
}

// matmul returns a·b as a new matrix
func matmul(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

// normCache keeps what layer-norm backward needs
type normCache struct {
	xhat   *mat.Dense
	invStd []float64
}

// layerNorm normalizes every row of x and applies gain and bias
func layerNorm(x, gain, bias *mat.Dense) (*mat.Dense, normCache) {
	r, c := x.Dims()
	xhat := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	invStd := make([]float64, r)
	g, b := gain.RawRowView(0), bias.RawRowView(0)

	for i := range r {
		row := x.RawRowView(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(c)
		variance := 0.0
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(c)
		invStd[i] = 1 / math.Sqrt(variance+normEpsilon)

		xh, o := xhat.RawRowView(i), out.RawRowView(i)
		for j, v := range row {
			xh[j] = (v - mean) * invStd[i]
			o[j] = xh[j]*g[j] + b[j]
		}
	}
	return out, normCache{xhat: xhat, invStd: invStd}
}

// layerNormBackward returns dL/dx and writes gain and bias gradients
func layerNormBackward(dy *mat.Dense, cache normCache, gain, dGain, dBias *mat.Dense) *mat.Dense {
	r, c := dy.Dims()
	dx := mat.NewDense(r, c, nil)
	g := gain.RawRowView(0)
	dg, db := dGain.RawRowView(0), dBias.RawRowView(0)
	for j := range dg {
		dg[j], db[j] = 0, 0
	}

	n := float64(c)
	dxhat := make([]float64, c)
	for i := range r {
		dyRow, xh := dy.RawRowView(i), cache.xhat.RawRowView(i)
		meanD, meanDX := 0.0, 0.0
		for j := range dyRow {
			dg[j] += dyRow[j] * xh[j]
			db[j] += dyRow[j]
			dxhat[j] = dyRow[j] * g[j]
			meanD += dxhat[j]
			meanDX += dxhat[j] * xh[j]
		}
		meanD /= n
		meanDX /= n

		out := dx.RawRowView(i)
		for j := range out {
			out[j] = cache.invStd[i] * (dxhat[j] - meanD - xh[j]*meanDX)
		}
	}
	return dx
}

// gelu is the exact (erf) form
func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

func geluGrad(x float64) float64 {
	cdf := 0.5 * (1 + math.Erf(x/math.Sqrt2))
	pdf := math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
	return cdf + x*pdf
}

// softmaxRows applies a numerically stable softmax to each row in place
func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := range r {
		row := m.RawRowView(i)
		peak := math.Inf(-1)
		for _, v := range row {
			peak = math.Max(peak, v)
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - peak)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

type posKey struct{ t, d int }

var (
	posMu    sync.Mutex
	posCache = map[posKey]*mat.Dense{}
)

// positional returns the shared T×D sinusoidal position table; callers must
// not modify it.
func positional(t, d int) *mat.Dense {
	posMu.Lock()
	defer posMu.Unlock()
	key := posKey{t, d}
	if pe, ok := posCache[key]; ok {
		return pe
	}

	pe := mat.NewDense(t, d, nil)
	for pos := range t {
		row := pe.RawRowView(pos)
		for i := 0; i < d; i += 2 {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(d))
			row[i] = math.Sin(angle)
			if i+1 < d {
				row[i+1] = math.Cos(angle)
			}
		}
	}
	posCache[key] = pe
	return pe
}
