package compute

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/model"
	"github.com/RyanBlaney/sonido-pitch/precision"
	"github.com/RyanBlaney/sonido-pitch/target"
)

// memoryBudget bounds the attention matrices held by concurrent samples
const memoryBudget = 4 << 30

// Local computes per-sample gradients on a bounded set of goroutines and
// sums them in sample order, so results do not depend on scheduling.
type Local struct {
	workers int
	logger  logging.Logger
	warn    sync.Once
}

// SampleMemory estimates the bytes one sample's forward and backward pass
// keep alive: the H×T×T attention weights plus their two gradients.
func SampleMemory(c model.Config) int64 {
	t := int64(c.InputWidth)
	return 3 * int64(c.Heads) * t * t * 8
}

// WorkersFor caps workers so the concurrent samples fit in memoryBudget,
// never dropping below one
func WorkersFor(c model.Config, workers int) int {
	perSample := max(SampleMemory(c), 1)
	return int(max(min(int64(workers), memoryBudget/perSample), 1))
}

// NewLocal creates an in-process backend
func NewLocal(workers int) *Local {
	return &Local{
		workers: max(workers, 1),
		logger: logging.WithFields(logging.Fields{
			"component": "local_backend",
		}),
	}
}

type sampleResult struct {
	loss  float64
	grads *model.Params
}

func (l *Local) Gradients(ctx context.Context, req *Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	scheme, err := target.New(req.Target)
	if err != nil {
		return nil, err
	}
	if scheme.Width() != req.Model.OutputWidth {
		return nil, fmt.Errorf("target width %d does not match model output %d", scheme.Width(), req.Model.OutputWidth)
	}

	// the forward pass sees parameters as the working precision stores them
	working := req.Params.Clone()
	for _, t := range working.Tensors() {
		precision.RoundMatrix(t.M, req.Precision)
	}

	batch := len(req.Inputs)
	gradScale := req.LossScale / float64(batch)
	results := make([]sampleResult, batch)

	workers := WorkersFor(req.Model, l.workers)
	if workers < l.workers {
		l.warn.Do(func() {
			l.logger.Warn("Capping workers for long token sequences", logging.Fields{
				"input_width":      req.Model.InputWidth,
				"sample_memory_mb": SampleMemory(req.Model) >> 20,
				"workers":          workers,
				"configured":       l.workers,
			})
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			var rng *rand.Rand
			if req.Model.Dropout > 0 {
				rng = rand.New(rand.NewSource(req.Seed + int64(i)))
			}
			pass, err := model.Forward(req.Model, working, req.Inputs[i], rng)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			loss, dLogits, err := scheme.Loss(pass.Logits, req.Targets[i])
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			for j := range dLogits {
				dLogits[j] *= gradScale
			}
			grads, err := pass.Backward(working, dLogits)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			for _, t := range grads.Tensors() {
				precision.RoundMatrix(t.M, req.Precision)
			}
			results[i] = sampleResult{loss: loss, grads: grads}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := model.Zeros(req.Model)
	loss := 0.0
	for _, r := range results {
		sum.Add(r.grads)
		loss += r.loss
	}
	for _, t := range sum.Tensors() {
		precision.RoundMatrix(t.M, req.Precision)
	}

	l.logger.Debug("Computed batch gradients", logging.Fields{
		"batch":      batch,
		"loss_scale": req.LossScale,
		"precision":  string(req.Precision),
	})

	return &Result{Loss: loss / float64(batch), Grads: sum}, nil
}
