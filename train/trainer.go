// Package train drives the model through epochs of optimizer steps with
// dynamic loss scaling, skip-and-backoff on overflow and epoch-boundary
// checkpoints.
package train

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-pitch/compute"
	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/dataset"
	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/model"
)

// Phase is where the trainer is in its run
type Phase int

const (
	Idle Phase = iota
	InEpoch
	InStep
	EpochComplete
	Finished
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InEpoch:
		return "epoch"
	case InStep:
		return "step"
	case EpochComplete:
		return "epoch_complete"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Position is the current phase with its epoch and step counters
type Position struct {
	Phase Phase
	Epoch int
	Step  int // step within the epoch
}

// Outcome is what a step did to the parameters
type Outcome int

const (
	Applied Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "applied"
}

// StepResult reports one step
type StepResult struct {
	Outcome      Outcome
	Loss         float64
	LearningRate float64
	LossScale    float64 // scale the step ran with
}

// Checkpointer persists parameters at epoch boundaries
type Checkpointer interface {
	Checkpoint(ctx context.Context, epoch int, params *model.Params) error
}

// Summary describes a finished run
type Summary struct {
	RunID     string         `json:"run_id"`
	Epochs    int            `json:"epochs"`
	Steps     int            `json:"steps"`
	Skipped   int            `json:"skipped"`
	LossScale LossScaleState `json:"loss_scale"`
	EpochLoss []float64      `json:"epoch_loss"` // mean loss over applied steps
}

// Trainer owns the parameters for the lifetime of a run
type Trainer struct {
	model     model.Config
	target    config.TargetKind
	precision config.Precision
	epochs    int
	batchSize int
	seed      int64

	params    *model.Params
	backend   compute.Backend
	optimizer *Adam
	schedule  Cosine
	scaler    Scaler
	checkpts  Checkpointer

	runID    string
	step     int // global step count, drives the schedule
	position Position
	logger   logging.Logger
}

// NewTrainer creates a trainer that updates params in place. stepsPerEpoch
// sizes the cosine schedule.
func NewTrainer(cfg *config.Config, mc model.Config, params *model.Params, backend compute.Backend, stepsPerEpoch int) *Trainer {
	runID := uuid.NewString()
	return &Trainer{
		model:     mc,
		target:    cfg.Target.Kind,
		precision: cfg.Train.Precision,
		epochs:    cfg.Train.Epochs,
		batchSize: cfg.Train.BatchSize,
		seed:      cfg.Train.Seed,
		params:    params,
		backend:   backend,
		optimizer: NewAdam(cfg.Train, mc),
		schedule: Cosine{
			Initial: cfg.Train.LearningRate,
			Total:   cfg.Train.Epochs * stepsPerEpoch,
		},
		scaler: NewScaler(cfg.Train),
		runID:  runID,
		logger: logging.WithFields(logging.Fields{
			"component": "trainer",
			"run_id":    runID,
		}),
	}
}

// SetCheckpointer installs c to be called after every epoch
func (t *Trainer) SetCheckpointer(c Checkpointer) { t.checkpts = c }

func (t *Trainer) RunID() string         { return t.runID }
func (t *Trainer) Params() *model.Params { return t.params }
func (t *Trainer) Position() Position    { return t.position }

// InitialScale is the loss scale state a fresh run starts from
func (t *Trainer) InitialScale() LossScaleState {
	return t.scaler.Initial()
}

// Step runs one batch. A non-finite gradient skips the update and backs off
// the loss scale; backend failures are returned and end the run.
func (t *Trainer) Step(ctx context.Context, st LossScaleState, batch []dataset.Sample) (StepResult, LossScaleState, error) {
	logger := t.logger.WithFields(logging.Fields{
		"function": "Step",
		"step":     t.step,
	})
	t.position.Phase = InStep

	inputs := make([][]float64, len(batch))
	targets := make([][]float64, len(batch))
	for i, s := range batch {
		inputs[i] = s.Features
		targets[i] = s.Target
	}

	lr := t.schedule.Rate(t.step)
	res, err := t.backend.Gradients(ctx, &compute.Request{
		Model:     t.model,
		Target:    t.target,
		Precision: t.precision,
		LossScale: st.Scale,
		Seed:      t.seed + int64(t.step)*int64(max(t.batchSize, len(batch))),
		Params:    t.params,
		Inputs:    inputs,
		Targets:   targets,
	})
	if err != nil {
		return StepResult{}, st, fmt.Errorf("step %d: %w", t.step, err)
	}
	t.step++
	t.position.Step++

	result := StepResult{Loss: res.Loss, LearningRate: lr, LossScale: st.Scale}
	overflowed := !res.Grads.Finite()
	next := t.scaler.Next(st, overflowed)

	if overflowed {
		result.Outcome = Skipped
		logger.Warn("Skipped step on non-finite gradients", logging.Fields{
			"loss_scale":      st.Scale,
			"next_loss_scale": next.Scale,
			"precision":       string(t.precision),
		})
		return result, next, nil
	}

	res.Grads.Scale(1 / st.Scale)
	t.optimizer.Update(t.params, res.Grads, lr)
	result.Outcome = Applied

	if next.Scale > st.Scale {
		logger.Debug("Grew loss scale", logging.Fields{
			"loss_scale": next.Scale,
		})
	}
	return result, next, nil
}

// Run trains for the configured number of epochs, reshuffling samples each
// epoch with a seed derived from the epoch number. Cancellation is honoured
// between steps.
func (t *Trainer) Run(ctx context.Context, samples []dataset.Sample) (*Summary, error) {
	logger := t.logger.WithFields(logging.Fields{
		"function": "Run",
	})
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no training samples", dataset.ErrEmpty)
	}

	summary := &Summary{RunID: t.runID}
	st := t.scaler.Initial()

	logger.Info("Starting training", logging.Fields{
		"samples":    len(samples),
		"epochs":     t.epochs,
		"batch_size": t.batchSize,
		"precision":  string(t.precision),
		"loss_scale": st.Scale,
	})

	for epoch := range t.epochs {
		t.position = Position{Phase: InEpoch, Epoch: epoch}
		batches := dataset.Batches(dataset.Shuffle(samples, t.seed+int64(epoch)), t.batchSize)

		lossSum, applied := 0.0, 0
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("training interrupted in epoch %d: %w", epoch, err)
			}

			var res StepResult
			var err error
			res, st, err = t.Step(ctx, st, batch)
			if err != nil {
				logger.Error(err, "Step failed", logging.Fields{"epoch": epoch})
				return nil, err
			}
			summary.Steps++
			if res.Outcome == Skipped {
				summary.Skipped++
				continue
			}
			lossSum += res.Loss
			applied++
		}

		t.position.Phase = EpochComplete
		meanLoss := 0.0
		if applied > 0 {
			meanLoss = lossSum / float64(applied)
		}
		summary.EpochLoss = append(summary.EpochLoss, meanLoss)
		summary.Epochs++

		if t.checkpts != nil {
			if err := t.checkpts.Checkpoint(ctx, epoch, t.params); err != nil {
				return nil, fmt.Errorf("checkpoint after epoch %d: %w", epoch, err)
			}
		}

		logger.Info("Epoch complete", logging.Fields{
			"epoch":      epoch,
			"loss":       meanLoss,
			"applied":    applied,
			"steps":      len(batches),
			"loss_scale": st.Scale,
		})
	}

	t.position = Position{Phase: Finished, Epoch: t.epochs}
	summary.LossScale = st
	logger.Info("Training finished", logging.Fields{
		"steps":   summary.Steps,
		"skipped": summary.Skipped,
	})
	return summary, nil
}
