package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Backward propagates dL/dlogits through the pass and returns the parameter
// gradients.
func (ps *Pass) Backward(p *Params, dLogits []float64) (*Params, error) {
	c := ps.cfg
	t, d := c.InputWidth, c.Dim
	if len(dLogits) != c.OutputWidth {
		return nil, fmt.Errorf("gradient has %d entries, model outputs %d", len(dLogits), c.OutputWidth)
	}
	g := Zeros(c)

	// head
	dl := mat.NewDense(1, c.OutputWidth, append([]float64(nil), dLogits...))
	g.Head.Mul(ps.pooled.T(), dl)
	g.HeadBias.Copy(dl)
	dPooled := matmul(dl, p.Head.T())

	// mean pool spreads evenly over tokens
	dH2 := mat.NewDense(t, d, nil)
	share := dPooled.RawRowView(0)
	for i := range t {
		row := dH2.RawRowView(i)
		for j := range row {
			row[j] = share[j] / float64(t)
		}
	}

	// feed-forward block
	g.FF2.Mul(ps.ffAct.T(), dH2)
	colSums(g.FF2Bias, dH2)
	dPre := matmul(dH2, p.FF2.T())
	dPre.Apply(func(i, j int, v float64) float64 {
		return v * geluGrad(ps.ffPre.At(i, j))
	}, dPre)
	g.FF1.Mul(ps.n2.T(), dPre)
	colSums(g.FF1Bias, dPre)
	dN2 := matmul(dPre, p.FF1.T())

	dH1 := layerNormBackward(dN2, ps.norm2, p.Norm2Gain, g.Norm2Gain, g.Norm2Bias)
	dH1.Add(dH1, dH2)

	// attention output projection, through the dropout mask
	dZ := mat.DenseCopyOf(dH1)
	if ps.mask != nil {
		dZ.MulElem(dZ, ps.mask)
	}
	g.Out.Mul(ps.concat.T(), dZ)
	colSums(g.OutBias, dZ)
	dConcat := matmul(dZ, p.Out.T())

	dh := c.HeadDim()
	scale := 1 / math.Sqrt(float64(dh))
	dQ := mat.NewDense(t, d, nil)
	dK := mat.NewDense(t, d, nil)
	dV := mat.NewDense(t, d, nil)
	for h := range c.Heads {
		lo, hi := h*dh, (h+1)*dh
		a := ps.attn[h]
		dOh := dConcat.Slice(0, t, lo, hi)
		qh := ps.q.Slice(0, t, lo, hi)
		kh := ps.k.Slice(0, t, lo, hi)
		vh := ps.v.Slice(0, t, lo, hi)

		dV.Slice(0, t, lo, hi).(*mat.Dense).Copy(matmul(a.T(), dOh))

		// softmax backward, row by row, folded with the score scale
		dS := matmul(dOh, vh.T())
		for i := range t {
			ar, sr := a.RawRowView(i), dS.RawRowView(i)
			dot := 0.0
			for j := range sr {
				dot += sr[j] * ar[j]
			}
			for j := range sr {
				sr[j] = ar[j] * (sr[j] - dot) * scale
			}
		}

		dQ.Slice(0, t, lo, hi).(*mat.Dense).Copy(matmul(dS, kh))
		dK.Slice(0, t, lo, hi).(*mat.Dense).Copy(matmul(dS.T(), qh))
	}

	g.Query.Mul(ps.n1.T(), dQ)
	colSums(g.QueryBias, dQ)
	g.Key.Mul(ps.n1.T(), dK)
	colSums(g.KeyBias, dK)
	g.Value.Mul(ps.n1.T(), dV)
	colSums(g.ValueBias, dV)

	dN1 := matmul(dQ, p.Query.T())
	dN1.Add(dN1, matmul(dK, p.Key.T()))
	dN1.Add(dN1, matmul(dV, p.Value.T()))

	dH0 := layerNormBackward(dN1, ps.norm1, p.Norm1Gain, g.Norm1Gain, g.Norm1Bias)
	dH0.Add(dH0, dH1)

	// embedding
	ge := g.Embed.RawRowView(0)
	for i, u := range ps.tokens {
		for j, v := range dH0.RawRowView(i) {
			ge[j] += u * v
		}
	}
	colSums(g.EmbedBias, dH0)

	return g, nil
}
