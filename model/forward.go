package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Pass is one sample's forward evaluation plus the activations backward
// needs.
type Pass struct {
	cfg    Config
	tokens []float64

	norm1   normCache
	n1      *mat.Dense
	q, k, v *mat.Dense
	attn    []*mat.Dense // per head, T×T
	concat  *mat.Dense
	mask    *mat.Dense // dropout keep-mask already scaled by 1/(1-p); nil in eval

	norm2  normCache
	n2     *mat.Dense
	ffPre  *mat.Dense
	ffAct  *mat.Dense
	pooled *mat.Dense

	// Logits is the raw network output
	Logits []float64
}

// Forward evaluates the network on one feature vector. Dropout is applied
// only when rng is non-nil.
func Forward(c Config, p *Params, x []float64, rng *rand.Rand) (*Pass, error) {
	t, d := c.InputWidth, c.Dim
	if len(x) != t {
		return nil, fmt.Errorf("input has %d features, model expects %d", len(x), t)
	}

	ps := &Pass{cfg: c, tokens: make([]float64, t)}
	for i, v := range x {
		if c.LogTransform {
			ps.tokens[i] = math.Log(math.Abs(v) + c.Epsilon)
		} else {
			ps.tokens[i] = v
		}
	}

	// token embedding plus position signal
	h0 := mat.NewDense(t, d, nil)
	pe := positional(t, d)
	we, be := p.Embed.RawRowView(0), p.EmbedBias.RawRowView(0)
	for i, u := range ps.tokens {
		row, pos := h0.RawRowView(i), pe.RawRowView(i)
		for j := range row {
			row[j] = u*we[j] + be[j] + pos[j]
		}
	}

	// self-attention block
	ps.n1, ps.norm1 = layerNorm(h0, p.Norm1Gain, p.Norm1Bias)
	ps.q = matmul(ps.n1, p.Query)
	addRow(ps.q, p.QueryBias)
	ps.k = matmul(ps.n1, p.Key)
	addRow(ps.k, p.KeyBias)
	ps.v = matmul(ps.n1, p.Value)
	addRow(ps.v, p.ValueBias)

	dh := c.HeadDim()
	scale := 1 / math.Sqrt(float64(dh))
	ps.concat = mat.NewDense(t, d, nil)
	ps.attn = make([]*mat.Dense, c.Heads)
	for h := range c.Heads {
		lo, hi := h*dh, (h+1)*dh
		qh := ps.q.Slice(0, t, lo, hi)
		kh := ps.k.Slice(0, t, lo, hi)
		vh := ps.v.Slice(0, t, lo, hi)

		scores := matmul(qh, kh.T())
		scores.Scale(scale, scores)
		softmaxRows(scores)
		ps.attn[h] = scores

		ps.concat.Slice(0, t, lo, hi).(*mat.Dense).Copy(matmul(scores, vh))
	}

	z := matmul(ps.concat, p.Out)
	addRow(z, p.OutBias)
	if rng != nil && c.Dropout > 0 {
		ps.mask = dropoutMask(t, d, c.Dropout, rng)
		z.MulElem(z, ps.mask)
	}

	h1 := mat.NewDense(t, d, nil)
	h1.Add(h0, z)

	// feed-forward block
	ps.n2, ps.norm2 = layerNorm(h1, p.Norm2Gain, p.Norm2Bias)
	ps.ffPre = matmul(ps.n2, p.FF1)
	addRow(ps.ffPre, p.FF1Bias)
	ps.ffAct = mat.NewDense(t, c.FFHidden, nil)
	ps.ffAct.Apply(func(_, _ int, v float64) float64 { return gelu(v) }, ps.ffPre)
	f2 := matmul(ps.ffAct, p.FF2)
	addRow(f2, p.FF2Bias)

	h2 := mat.NewDense(t, d, nil)
	h2.Add(h1, f2)

	// mean pool over tokens, then the linear head
	ps.pooled = mat.NewDense(1, d, nil)
	colSums(ps.pooled, h2)
	ps.pooled.Scale(1/float64(t), ps.pooled)

	logits := matmul(ps.pooled, p.Head)
	addRow(logits, p.HeadBias)
	ps.Logits = mat.Row(nil, 0, logits)

	return ps, nil
}

// Predict returns logits without dropout
func Predict(c Config, p *Params, x []float64) ([]float64, error) {
	ps, err := Forward(c, p, x, nil)
	if err != nil {
		return nil, err
	}
	return ps.Logits, nil
}

func dropoutMask(r, c int, rate float64, rng *rand.Rand) *mat.Dense {
	keep := 1 / (1 - rate)
	m := mat.NewDense(r, c, nil)
	for i := range r {
		row := m.RawRowView(i)
		for j := range row {
			if rng.Float64() >= rate {
				row[j] = keep
			}
		}
	}
	return m
}
