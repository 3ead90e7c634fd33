package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Params holds every learnable tensor. The same type carries gradients.
type Params struct {
	Embed     *mat.Dense // 1×D
	EmbedBias *mat.Dense // 1×D

	Norm1Gain *mat.Dense // 1×D
	Norm1Bias *mat.Dense // 1×D

	Query     *mat.Dense // D×D
	QueryBias *mat.Dense // 1×D
	Key       *mat.Dense // D×D
	KeyBias   *mat.Dense // 1×D
	Value     *mat.Dense // D×D
	ValueBias *mat.Dense // 1×D
	Out       *mat.Dense // D×D
	OutBias   *mat.Dense // 1×D

	Norm2Gain *mat.Dense // 1×D
	Norm2Bias *mat.Dense // 1×D

	FF1     *mat.Dense // D×FF
	FF1Bias *mat.Dense // 1×FF
	FF2     *mat.Dense // FF×D
	FF2Bias *mat.Dense // 1×D

	Head     *mat.Dense // D×C
	HeadBias *mat.Dense // 1×C
}

// Tensor is a named parameter
type Tensor struct {
	Name string
	M    *mat.Dense
}

// Tensors lists the parameters in a fixed order
func (p *Params) Tensors() []Tensor {
	return []Tensor{
		{"embed", p.Embed},
		{"embed_bias", p.EmbedBias},
		{"norm1_gain", p.Norm1Gain},
		{"norm1_bias", p.Norm1Bias},
		{"query", p.Query},
		{"query_bias", p.QueryBias},
		{"key", p.Key},
		{"key_bias", p.KeyBias},
		{"value", p.Value},
		{"value_bias", p.ValueBias},
		{"out", p.Out},
		{"out_bias", p.OutBias},
		{"norm2_gain", p.Norm2Gain},
		{"norm2_bias", p.Norm2Bias},
		{"ff1", p.FF1},
		{"ff1_bias", p.FF1Bias},
		{"ff2", p.FF2},
		{"ff2_bias", p.FF2Bias},
		{"head", p.Head},
		{"head_bias", p.HeadBias},
	}
}

// Zeros returns parameters of the right shapes filled with zeros
func Zeros(c Config) *Params {
	d, ff, out := c.Dim, c.FFHidden, c.OutputWidth
	return &Params{
		Embed:     mat.NewDense(1, d, nil),
		EmbedBias: mat.NewDense(1, d, nil),
		Norm1Gain: mat.NewDense(1, d, nil),
		Norm1Bias: mat.NewDense(1, d, nil),
		Query:     mat.NewDense(d, d, nil),
		QueryBias: mat.NewDense(1, d, nil),
		Key:       mat.NewDense(d, d, nil),
		KeyBias:   mat.NewDense(1, d, nil),
		Value:     mat.NewDense(d, d, nil),
		ValueBias: mat.NewDense(1, d, nil),
		Out:       mat.NewDense(d, d, nil),
		OutBias:   mat.NewDense(1, d, nil),
		Norm2Gain: mat.NewDense(1, d, nil),
		Norm2Bias: mat.NewDense(1, d, nil),
		FF1:       mat.NewDense(d, ff, nil),
		FF1Bias:   mat.NewDense(1, ff, nil),
		FF2:       mat.NewDense(ff, d, nil),
		FF2Bias:   mat.NewDense(1, d, nil),
		Head:      mat.NewDense(d, out, nil),
		HeadBias:  mat.NewDense(1, out, nil),
	}
}

// Init returns freshly initialized parameters: Glorot-uniform weights,
// zero biases and unit norm gains.
func Init(c Config, rng *rand.Rand) *Params {
	p := Zeros(c)
	for _, t := range []*mat.Dense{p.Embed, p.Query, p.Key, p.Value, p.Out, p.FF1, p.FF2, p.Head} {
		glorot(t, rng)
	}
	fill(p.Norm1Gain, 1)
	fill(p.Norm2Gain, 1)
	return p
}

func glorot(m *mat.Dense, rng *rand.Rand) {
	r, c := m.Dims()
	limit := math.Sqrt(6 / float64(r+c))
	for i := range r {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = (2*rng.Float64() - 1) * limit
		}
	}
}

func fill(m *mat.Dense, v float64) {
	r, _ := m.Dims()
	for i := range r {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = v
		}
	}
}

// Clone deep-copies p
func (p *Params) Clone() *Params {
	out := &Params{}
	src, dst := p.Tensors(), out.pointers()
	for i, t := range src {
		*dst[i] = mat.DenseCopyOf(t.M)
	}
	return out
}

// pointers mirrors Tensors with addressable fields
func (p *Params) pointers() []**mat.Dense {
	return []**mat.Dense{
		&p.Embed, &p.EmbedBias, &p.Norm1Gain, &p.Norm1Bias,
		&p.Query, &p.QueryBias, &p.Key, &p.KeyBias, &p.Value, &p.ValueBias, &p.Out, &p.OutBias,
		&p.Norm2Gain, &p.Norm2Bias, &p.FF1, &p.FF1Bias, &p.FF2, &p.FF2Bias,
		&p.Head, &p.HeadBias,
	}
}

// Set replaces the tensor called name; it reports false for unknown names
func (p *Params) Set(name string, m *mat.Dense) bool {
	ptrs := p.pointers()
	for i, t := range p.Tensors() {
		if t.Name == name {
			*ptrs[i] = m
			return true
		}
	}
	return false
}

// Add accumulates o into p element-wise
func (p *Params) Add(o *Params) {
	a, b := p.Tensors(), o.Tensors()
	for i := range a {
		a[i].M.Add(a[i].M, b[i].M)
	}
}

// Scale multiplies every element by f
func (p *Params) Scale(f float64) {
	for _, t := range p.Tensors() {
		t.M.Scale(f, t.M)
	}
}

// Finite reports whether no element is NaN or infinite
func (p *Params) Finite() bool {
	for _, t := range p.Tensors() {
		r, _ := t.M.Dims()
		for i := range r {
			for _, v := range t.M.RawRowView(i) {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
		}
	}
	return true
}

// Equal reports exact element-wise equality
func (p *Params) Equal(o *Params) bool {
	a, b := p.Tensors(), o.Tensors()
	for i := range a {
		if !mat.Equal(a[i].M, b[i].M) {
			return false
		}
	}
	return true
}

// Count is the total number of scalars
func (p *Params) Count() int {
	n := 0
	for _, t := range p.Tensors() {
		r, c := t.M.Dims()
		n += r * c
	}
	return n
}
