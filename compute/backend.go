// Package compute runs forward and backward passes for a batch. The trainer
// treats a Backend call as one atomic, blocking unit of work.
package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/model"
)

// ErrBackend marks failures of an off-process backend. They are fatal to a
// training run.
var ErrBackend = errors.New("compute backend failure")

// Request is one batch worth of gradient work
type Request struct {
	Model     model.Config
	Target    config.TargetKind
	Precision config.Precision
	LossScale float64
	// Seed drives dropout; sample i draws from Seed+i
	Seed    int64
	Params  *model.Params
	Inputs  [][]float64
	Targets [][]float64
}

// Result holds the mean batch loss (unscaled) and the gradients of the
// scaled mean loss, rounded to the working precision.
type Result struct {
	Loss  float64
	Grads *model.Params
}

// Backend computes gradients for a batch
type Backend interface {
	Gradients(ctx context.Context, req *Request) (*Result, error)
}

func (r *Request) validate() error {
	if r.Params == nil {
		return fmt.Errorf("request has no parameters")
	}
	if len(r.Inputs) == 0 {
		return fmt.Errorf("request has an empty batch")
	}
	if len(r.Inputs) != len(r.Targets) {
		return fmt.Errorf("batch has %d inputs but %d targets", len(r.Inputs), len(r.Targets))
	}
	if r.LossScale <= 0 {
		return fmt.Errorf("loss scale must be positive, got %v", r.LossScale)
	}
	return r.Model.Validate()
}

// New returns the backend selected by cfg
func New(cfg *config.Config) (Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendLocal:
		return NewLocal(cfg.Train.Workers), nil
	case config.BackendRemote:
		return NewRemote(cfg.Backend.Endpoint, cfg.Backend.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend.Kind)
	}
}
