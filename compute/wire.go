package compute

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/model"
)

// GradientsPath is the remote backend's gradient endpoint
const GradientsPath = "/v1/gradients"

type wireTensor struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

type wireRequest struct {
	Model     model.Config
	Target    config.TargetKind
	Precision config.Precision
	LossScale float64
	Seed      int64
	Params    []wireTensor
	Inputs    [][]float64
	Targets   [][]float64
}

type wireResult struct {
	Loss  float64
	Grads []wireTensor
}

func toWire(p *model.Params) []wireTensor {
	tensors := p.Tensors()
	out := make([]wireTensor, len(tensors))
	for i, t := range tensors {
		r, c := t.M.Dims()
		data := make([]float64, 0, r*c)
		for row := range r {
			data = append(data, t.M.RawRowView(row)...)
		}
		out[i] = wireTensor{Name: t.Name, Rows: r, Cols: c, Data: data}
	}
	return out
}

// fromWire rebuilds parameters and checks every shape against c
func fromWire(c model.Config, tensors []wireTensor) (*model.Params, error) {
	p := model.Zeros(c)
	shapes := make(map[string][2]int)
	for _, t := range p.Tensors() {
		r, cols := t.M.Dims()
		shapes[t.Name] = [2]int{r, cols}
	}
	if len(tensors) != len(shapes) {
		return nil, fmt.Errorf("got %d tensors, want %d", len(tensors), len(shapes))
	}

	for _, t := range tensors {
		want, ok := shapes[t.Name]
		if !ok {
			return nil, fmt.Errorf("unknown tensor %q", t.Name)
		}
		if want != [2]int{t.Rows, t.Cols} || len(t.Data) != t.Rows*t.Cols {
			return nil, fmt.Errorf("tensor %q has shape %dx%d, want %dx%d", t.Name, t.Rows, t.Cols, want[0], want[1])
		}
		p.Set(t.Name, mat.NewDense(t.Rows, t.Cols, t.Data))
	}
	return p, nil
}

func (r *Request) toWire() wireRequest {
	return wireRequest{
		Model:     r.Model,
		Target:    r.Target,
		Precision: r.Precision,
		LossScale: r.LossScale,
		Seed:      r.Seed,
		Params:    toWire(r.Params),
		Inputs:    r.Inputs,
		Targets:   r.Targets,
	}
}

func (w wireRequest) request() (*Request, error) {
	params, err := fromWire(w.Model, w.Params)
	if err != nil {
		return nil, err
	}
	return &Request{
		Model:     w.Model,
		Target:    w.Target,
		Precision: w.Precision,
		LossScale: w.LossScale,
		Seed:      w.Seed,
		Params:    params,
		Inputs:    w.Inputs,
		Targets:   w.Targets,
	}, nil
}
