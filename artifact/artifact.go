// Package artifact persists trained parameters together with the threshold
// table and the configuration they are only valid for.
package artifact

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/features"
	"github.com/RyanBlaney/sonido-pitch/model"
	"github.com/RyanBlaney/sonido-pitch/precision"
	"github.com/RyanBlaney/sonido-pitch/target"
	"github.com/RyanBlaney/sonido-pitch/threshold"
)

// Version is bumped whenever the encoded layout changes
const Version = 1

// Ext is the conventional artifact file extension
const Ext = ".spm"

// ErrIncompatible means an artifact was trained under a different
// configuration than the one it is loaded with
var ErrIncompatible = errors.New("incompatible model artifact")

// Fingerprint is every setting that changes what the parameters mean
type Fingerprint struct {
	Loader             config.LoaderKind `json:"loader"`
	DeterministicGuess bool              `json:"deterministic_guess"`
	LogTransform       bool              `json:"log_transform"`
	Epsilon            float64           `json:"epsilon"`
	Target             config.TargetKind `json:"target"`
	InputWidth         int               `json:"input_width"`
	OutputWidth        int               `json:"output_width"`
	Dim                int               `json:"dim"`
	Heads              int               `json:"heads"`
	FFHidden           int               `json:"ff_hidden"`
}

// FingerprintOf derives the fingerprint cfg implies
func FingerprintOf(cfg *config.Config) (Fingerprint, error) {
	in, err := features.Width(cfg.Features.Loader, cfg.Features.DeterministicGuess)
	if err != nil {
		return Fingerprint{}, err
	}
	scheme, err := target.New(cfg.Target.Kind)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Loader:             cfg.Features.Loader,
		DeterministicGuess: cfg.Features.DeterministicGuess,
		LogTransform:       cfg.Features.LogTransform,
		Epsilon:            cfg.Features.Epsilon,
		Target:             cfg.Target.Kind,
		InputWidth:         in,
		OutputWidth:        scheme.Width(),
		Dim:                cfg.Model.Dim,
		Heads:              cfg.Model.Heads,
		FFHidden:           cfg.Model.FFHidden,
	}, nil
}

// Compare names the first field where f and o differ
func (f Fingerprint) Compare(o Fingerprint) error {
	checks := []struct {
		name      string
		got, want any
	}{
		{"loader", f.Loader, o.Loader},
		{"deterministic_guess", f.DeterministicGuess, o.DeterministicGuess},
		{"log_transform", f.LogTransform, o.LogTransform},
		{"epsilon", f.Epsilon, o.Epsilon},
		{"target", f.Target, o.Target},
		{"input_width", f.InputWidth, o.InputWidth},
		{"output_width", f.OutputWidth, o.OutputWidth},
		{"dim", f.Dim, o.Dim},
		{"heads", f.Heads, o.Heads},
		{"ff_hidden", f.FFHidden, o.FFHidden},
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Errorf("%w: %s is %v in the artifact but %v in the configuration",
				ErrIncompatible, c.name, c.got, c.want)
		}
	}
	return nil
}

// Tensor is one stored parameter matrix. Exactly one of F32 and F16 is set,
// according to the artifact's store precision.
type Tensor struct {
	Name       string
	Rows, Cols int
	F32        []float32
	F16        []uint16
}

// Artifact is a trained model ready for inference
type Artifact struct {
	Version        int
	RunID          string
	CreatedAt      time.Time
	Epoch          int // last completed epoch
	Final          bool
	Fingerprint    Fingerprint
	StorePrecision config.StorePrecision
	Tensors        []Tensor
	Thresholds     threshold.Table
}

// New packs params and table. Parameters are narrowed to store.
func New(fp Fingerprint, store config.StorePrecision, params *model.Params, table threshold.Table) *Artifact {
	a := &Artifact{
		Version:        Version,
		CreatedAt:      time.Now().UTC(),
		Fingerprint:    fp,
		StorePrecision: store,
		Thresholds:     append(threshold.Table(nil), table...),
	}
	for _, t := range params.Tensors() {
		rows, cols := t.M.Dims()
		data := mat.DenseCopyOf(t.M).RawMatrix().Data
		st := Tensor{Name: t.Name, Rows: rows, Cols: cols}
		if store == config.StoreHalf {
			st.F16 = make([]uint16, len(data))
			for i, v := range data {
				st.F16[i] = precision.HalfBits(v)
			}
		} else {
			st.F32 = make([]float32, len(data))
			for i, v := range data {
				st.F32[i] = float32(v)
			}
		}
		a.Tensors = append(a.Tensors, st)
	}
	return a
}

// Params rebuilds the model parameters. Stored values must fit the shapes
// of c and be finite.
func (a *Artifact) Params(c model.Config) (*model.Params, error) {
	p := model.Zeros(c)
	want := map[string][2]int{}
	for _, t := range p.Tensors() {
		r, cols := t.M.Dims()
		want[t.Name] = [2]int{r, cols}
	}
	if len(a.Tensors) != len(want) {
		return nil, fmt.Errorf("%w: artifact holds %d tensors, model needs %d", ErrIncompatible, len(a.Tensors), len(want))
	}

	for _, st := range a.Tensors {
		shape, ok := want[st.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown tensor %q", ErrIncompatible, st.Name)
		}
		if shape != [2]int{st.Rows, st.Cols} {
			return nil, fmt.Errorf("%w: tensor %q is %dx%d, model needs %dx%d",
				ErrIncompatible, st.Name, st.Rows, st.Cols, shape[0], shape[1])
		}

		data := make([]float64, st.Rows*st.Cols)
		switch {
		case len(st.F16) == len(data):
			for i, b := range st.F16 {
				data[i] = precision.FromHalfBits(b)
			}
		case len(st.F32) == len(data):
			for i, v := range st.F32 {
				data[i] = float64(v)
			}
		default:
			return nil, fmt.Errorf("%w: tensor %q has no data of the right size", ErrIncompatible, st.Name)
		}
		for _, v := range data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: tensor %q holds non-finite values", ErrIncompatible, st.Name)
			}
		}
		p.Set(st.Name, mat.NewDense(st.Rows, st.Cols, data))
	}
	return p, nil
}

// Check rejects an artifact that does not match cfg
func (a *Artifact) Check(cfg *config.Config) error {
	if a.Version != Version {
		return fmt.Errorf("%w: artifact version %d, this build reads %d", ErrIncompatible, a.Version, Version)
	}
	fp, err := FingerprintOf(cfg)
	if err != nil {
		return err
	}
	if err := a.Fingerprint.Compare(fp); err != nil {
		return err
	}
	if err := a.Thresholds.Check(target.MustNew(cfg.Target.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	return nil
}

// Save writes the artifact to path atomically through a temporary file in
// the same directory.
func (a *Artifact) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(a); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// Load reads an artifact written by Save
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	var a Artifact
	if err := gob.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIncompatible, path, err)
	}
	return &a, nil
}
