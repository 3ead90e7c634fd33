package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/features"
	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/target"
)

// Sources are the raw records a run draws from
type Sources struct {
	Captured   []Record
	Simulated  []Record
	Noise      []Record
	Validation []Record
}

// Collect loads the configured sample directories and renders the
// simulated and noise records.
func Collect(cfg *config.Config) (Sources, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "dataset",
		"function":  "Collect",
	})

	var src Sources
	for _, dir := range cfg.Data.CapturedDirs {
		recs, err := LoadDir(dir, Captured)
		if err != nil {
			return Sources{}, err
		}
		src.Captured = append(src.Captured, recs...)
	}
	for _, dir := range cfg.Data.ValidationDirs {
		recs, err := LoadDir(dir, Captured)
		if err != nil {
			return Sources{}, err
		}
		src.Validation = append(src.Validation, recs...)
	}

	sim := NewSimulator(cfg.Data, cfg.Train.Seed)
	src.Simulated = sim.Chords(cfg.Data.SimulationSize)
	src.Noise = sim.NoiseRecords(cfg.Data.NoiseSamples)

	logger.Info("Collected sources", logging.Fields{
		"captured":   len(src.Captured),
		"simulated":  len(src.Simulated),
		"noise":      len(src.Noise),
		"validation": len(src.Validation),
	})
	return src, nil
}

// Splits are the encoded partitions of a run. Captured is a diagnostic split
// evaluated on its own; its samples also appear, oversampled, in Train.
type Splits struct {
	Train      []Sample
	Validation []Sample
	Captured   []Sample
}

// Builder encodes records into samples
type Builder struct {
	encoder        *features.Encoder
	scheme         target.Scheme
	oversample     int
	validationFrac float64
	seed           int64
	workers        int
	logger         logging.Logger
}

// NewBuilder creates a builder for the active encodings
func NewBuilder(cfg *config.Config, encoder *features.Encoder, scheme target.Scheme) *Builder {
	return &Builder{
		encoder:        encoder,
		scheme:         scheme,
		oversample:     cfg.Train.OversampleFactor,
		validationFrac: cfg.Data.ValidationFraction,
		seed:           cfg.Train.Seed,
		workers:        cfg.Train.Workers,
		logger: logging.WithFields(logging.Fields{
			"component": "dataset_builder",
		}),
	}
}

// Encode converts records in parallel; the output order matches the input
func (b *Builder) Encode(ctx context.Context, records []Record) ([]Sample, error) {
	out := make([]Sample, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.workers, 1))
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := records[i]
			if err := rec.Spectrum.Check(); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformed, rec.Source, err)
			}
			feats, err := b.encoder.Encode(rec.Spectrum)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformed, rec.Source, err)
			}
			out[i] = Sample{
				Features:   feats,
				Target:     b.scheme.Encode(rec.Label),
				Label:      rec.Label,
				Provenance: rec.Provenance,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Build partitions and encodes src. Validation comes from src.Validation
// when present, otherwise from a seeded fraction of the simulated records.
// Captured records are oversampled into Train and kept once in Captured.
func (b *Builder) Build(ctx context.Context, src Sources) (*Splits, error) {
	simulated := src.Simulated
	validation := src.Validation
	if len(validation) == 0 && len(simulated) > 0 {
		held := int(math.Round(b.validationFrac * float64(len(simulated))))
		perm := rand.New(rand.NewSource(b.seed)).Perm(len(simulated))
		validation = make([]Record, 0, held)
		rest := make([]Record, 0, len(simulated)-held)
		for n, idx := range perm {
			if n < held {
				validation = append(validation, simulated[idx])
			} else {
				rest = append(rest, simulated[idx])
			}
		}
		simulated = rest
	}

	captured, err := b.Encode(ctx, src.Captured)
	if err != nil {
		return nil, err
	}
	base, err := b.Encode(ctx, append(append([]Record{}, simulated...), src.Noise...))
	if err != nil {
		return nil, err
	}
	val, err := b.Encode(ctx, validation)
	if err != nil {
		return nil, err
	}

	train := make([]Sample, 0, len(base)+len(captured)*b.oversample)
	train = append(train, base...)
	for range b.oversample {
		train = append(train, captured...)
	}
	train = Shuffle(train, b.seed)

	if len(train) == 0 {
		return nil, fmt.Errorf("%w: no training samples", ErrEmpty)
	}
	if len(val) == 0 {
		return nil, fmt.Errorf("%w: no validation samples", ErrEmpty)
	}

	b.logger.Info("Built dataset splits", logging.Fields{
		"train":      len(train),
		"validation": len(val),
		"captured":   len(captured),
		"oversample": b.oversample,
	})
	return &Splits{Train: train, Validation: val, Captured: captured}, nil
}

// Shuffle returns a seeded permutation of samples; the input is untouched
func Shuffle(samples []Sample, seed int64) []Sample {
	out := make([]Sample, len(samples))
	for i, j := range rand.New(rand.NewSource(seed)).Perm(len(samples)) {
		out[i] = samples[j]
	}
	return out
}

// Batches cuts samples into consecutive batches of at most size
func Batches(samples []Sample, size int) [][]Sample {
	if size <= 0 {
		return nil
	}
	out := make([][]Sample, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		out = append(out, samples[start:min(start+size, len(samples))])
	}
	return out
}
