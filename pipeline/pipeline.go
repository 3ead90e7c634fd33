// Package pipeline wires encoding, training, calibration and evaluation
// into complete runs and builds detectors from saved artifacts.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-pitch/artifact"
	"github.com/RyanBlaney/sonido-pitch/compute"
	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/dataset"
	"github.com/RyanBlaney/sonido-pitch/features"
	"github.com/RyanBlaney/sonido-pitch/guess"
	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/metrics"
	"github.com/RyanBlaney/sonido-pitch/model"
	"github.com/RyanBlaney/sonido-pitch/target"
	"github.com/RyanBlaney/sonido-pitch/threshold"
	"github.com/RyanBlaney/sonido-pitch/train"
)

// Result is everything a finished training run produces
type Result struct {
	RunID        string          `json:"run_id"`
	ArtifactPath string          `json:"artifact_path"`
	Duration     time.Duration   `json:"duration"`
	Training     *train.Summary  `json:"training"`
	Thresholds   threshold.Table `json:"thresholds"`
	Validation   *metrics.Report `json:"validation"`
	Captured     *metrics.Report `json:"captured,omitempty"`
	Baseline     *metrics.Report `json:"baseline,omitempty"` // deterministic guess on the captured split
}

// Pipeline holds the components every run of one configuration shares
type Pipeline struct {
	cfg     *config.Config
	fp      artifact.Fingerprint
	model   model.Config
	encoder *features.Encoder
	guesser *guess.Detector
	scheme  target.Scheme
	backend compute.Backend
	engine  *metrics.Engine
	logger  logging.Logger
}

// New validates cfg once and builds the shared components. A nil backend
// selects the one cfg names.
func New(cfg *config.Config, backend compute.Backend) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fp, err := artifact.FingerprintOf(cfg)
	if err != nil {
		return nil, err
	}
	encoder, err := features.NewEncoder(cfg.Features, nil)
	if err != nil {
		return nil, err
	}
	scheme, err := target.New(cfg.Target.Kind)
	if err != nil {
		return nil, err
	}
	mc := model.FromRun(cfg, encoder.Width(), scheme.Width())
	if err := mc.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		if backend, err = compute.New(cfg); err != nil {
			return nil, err
		}
	}

	return &Pipeline{
		cfg:     cfg,
		fp:      fp,
		model:   mc,
		encoder: encoder,
		guesser: guess.NewDetector(),
		scheme:  scheme,
		backend: backend,
		engine:  metrics.NewEngine(scheme, cfg.Metrics.TopN),
		logger: logging.WithFields(logging.Fields{
			"component": "pipeline",
			"loader":    string(cfg.Features.Loader),
			"target":    string(cfg.Target.Kind),
		}),
	}, nil
}

// Run collects the configured data and trains on it
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	src, err := dataset.Collect(p.cfg)
	if err != nil {
		return nil, err
	}
	return p.RunSources(ctx, src)
}

// RunSources trains on src, tunes thresholds on the validation split,
// evaluates and saves the artifact.
func (p *Pipeline) RunSources(ctx context.Context, src dataset.Sources) (*Result, error) {
	start := time.Now()
	logger := p.logger.WithFields(logging.Fields{
		"function": "RunSources",
	})

	splits, err := dataset.NewBuilder(p.cfg, p.encoder, p.scheme).Build(ctx, src)
	if err != nil {
		logger.Error(err, "Failed to build dataset")
		return nil, err
	}

	params := model.Init(p.model, rand.New(rand.NewSource(p.cfg.Train.Seed)))
	stepsPerEpoch := (len(splits.Train) + p.cfg.Train.BatchSize - 1) / p.cfg.Train.BatchSize
	trainer := train.NewTrainer(p.cfg, p.model, params, p.backend, stepsPerEpoch)
	if p.cfg.Train.CheckpointDir != "" {
		ckpt, err := artifact.NewCheckpoints(p.cfg, trainer.RunID())
		if err != nil {
			return nil, err
		}
		trainer.SetCheckpointer(ckpt)
	}

	summary, err := trainer.Run(ctx, splits.Train)
	if err != nil {
		return nil, err
	}

	// calibrate and evaluate with the parameters as they will be stored
	art := artifact.New(p.fp, p.cfg.Store.Precision, trainer.Params(), nil)
	art.RunID = trainer.RunID()
	art.Epoch = summary.Epochs - 1
	art.Final = true
	stored, err := art.Params(p.model)
	if err != nil {
		return nil, err
	}

	valLogits, err := p.predict(ctx, stored, splits.Validation)
	if err != nil {
		return nil, err
	}
	table, err := threshold.Tune(p.scheme, valLogits, targets(splits.Validation))
	if err != nil {
		return nil, err
	}
	art.Thresholds = table

	result := &Result{
		RunID:        trainer.RunID(),
		ArtifactPath: p.cfg.Store.ArtifactPath,
		Training:     summary,
		Thresholds:   table,
	}
	if result.Validation, err = p.engine.Evaluate(valLogits, targets(splits.Validation), table); err != nil {
		return nil, err
	}
	result.Validation.Split = "validation"

	if len(splits.Captured) > 0 {
		capLogits, err := p.predict(ctx, stored, splits.Captured)
		if err != nil {
			return nil, err
		}
		if result.Captured, err = p.engine.Evaluate(capLogits, targets(splits.Captured), table); err != nil {
			return nil, err
		}
		result.Captured.Split = "captured"

		if result.Baseline, err = p.Baseline(src.Captured); err != nil {
			return nil, err
		}
		logger.Info("Captured exact match", logging.Fields{
			"model":         result.Captured.ExactMatch,
			"deterministic": result.Baseline.ExactMatch,
		})
	}

	if err := art.Save(p.cfg.Store.ArtifactPath); err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	logger.Info("Run complete", logging.Fields{
		"run_id":     result.RunID,
		"artifact":   result.ArtifactPath,
		"macro_f1":   result.Validation.F1,
		"sample_f1":  result.Validation.SampleF1,
		"duration_s": result.Duration.Seconds(),
	})
	return result, nil
}

// Evaluate scores a saved artifact on records
func (p *Pipeline) Evaluate(ctx context.Context, art *artifact.Artifact, records []dataset.Record) (*metrics.Report, error) {
	if err := art.Check(p.cfg); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", dataset.ErrEmpty)
	}
	params, err := art.Params(p.model)
	if err != nil {
		return nil, err
	}
	samples, err := dataset.NewBuilder(p.cfg, p.encoder, p.scheme).Encode(ctx, records)
	if err != nil {
		return nil, err
	}
	logits, err := p.predict(ctx, params, samples)
	if err != nil {
		return nil, err
	}
	return p.engine.Evaluate(logits, targets(samples), art.Thresholds)
}

// Baseline scores the deterministic guess detector on records, with its
// pitches encoded in the active target scheme like any ground truth
func (p *Pipeline) Baseline(records []dataset.Record) (*metrics.Report, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", dataset.ErrEmpty)
	}
	predicted := make([][]float64, len(records))
	truth := make([][]float64, len(records))
	for i, rec := range records {
		if err := rec.Spectrum.Check(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", dataset.ErrMalformed, rec.Source, err)
		}
		predicted[i] = p.scheme.Encode(p.guesser.Detect(rec.Spectrum))
		truth[i] = p.scheme.Encode(rec.Label)
	}
	report, err := p.engine.EvaluateDecisions(predicted, truth)
	if err != nil {
		return nil, err
	}
	report.Split = "deterministic baseline"
	return report, nil
}

// predict runs inference over samples on the configured number of workers
func (p *Pipeline) predict(ctx context.Context, params *model.Params, samples []dataset.Sample) ([][]float64, error) {
	out := make([][]float64, len(samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compute.WorkersFor(p.model, p.cfg.Train.Workers))
	for i := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			logits, err := model.Predict(p.model, params, samples[i].Features)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			out[i] = logits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func targets(samples []dataset.Sample) [][]float64 {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Target
	}
	return out
}
