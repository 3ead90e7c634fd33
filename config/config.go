// Package config holds the run configuration shared by every component.
// A Config is built once, validated, and passed explicitly into constructors.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid marks configuration errors. They are fatal and surface before
// any computation starts.
var ErrInvalid = errors.New("invalid configuration")

// LoaderKind selects the feature encoding strategy
type LoaderKind string

const (
	LoaderNoteBinned      LoaderKind = "note_binned"
	LoaderMel             LoaderKind = "mel"
	LoaderFrequency       LoaderKind = "frequency"
	LoaderFrequencyPooled LoaderKind = "frequency_pooled"
)

func (k LoaderKind) Valid() bool {
	switch k {
	case LoaderNoteBinned, LoaderMel, LoaderFrequency, LoaderFrequencyPooled:
		return true
	}
	return false
}

// TargetKind selects the target encoding and its loss
type TargetKind string

const (
	TargetFull       TargetKind = "full"
	TargetFolded     TargetKind = "folded"
	TargetFoldedBass TargetKind = "folded_bass"
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetFull, TargetFolded, TargetFoldedBass:
		return true
	}
	return false
}

// Precision is the numeric precision training runs at
type Precision string

const (
	PrecisionFull     Precision = "full"
	PrecisionHalf     Precision = "half"
	PrecisionBFloat16 Precision = "bfloat16"
)

func (p Precision) Valid() bool {
	switch p {
	case PrecisionFull, PrecisionHalf, PrecisionBFloat16:
		return true
	}
	return false
}

// Reduced reports whether loss scaling applies
func (p Precision) Reduced() bool {
	return p == PrecisionHalf || p == PrecisionBFloat16
}

// StorePrecision is the precision parameters are persisted at
type StorePrecision string

const (
	StoreFull StorePrecision = "full"
	StoreHalf StorePrecision = "half"
)

func (p StorePrecision) Valid() bool {
	return p == StoreFull || p == StoreHalf
}

// BackendKind selects where gradients are computed
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

func (k BackendKind) Valid() bool {
	return k == BackendLocal || k == BackendRemote
}

type FeatureConfig struct {
	Loader             LoaderKind `json:"loader" mapstructure:"loader"`
	DeterministicGuess bool       `json:"deterministic_guess" mapstructure:"deterministic_guess"`
	LogTransform       bool       `json:"log_transform" mapstructure:"log_transform"`
	Epsilon            float64    `json:"epsilon" mapstructure:"epsilon"`
}

type TargetConfig struct {
	Kind TargetKind `json:"kind" mapstructure:"kind"`
}

type ModelConfig struct {
	Dim      int     `json:"dim" mapstructure:"dim"`
	Heads    int     `json:"heads" mapstructure:"heads"`
	FFHidden int     `json:"ff_hidden" mapstructure:"ff_hidden"`
	Dropout  float64 `json:"dropout" mapstructure:"dropout"`
}

type TrainConfig struct {
	Epochs           int       `json:"epochs" mapstructure:"epochs"`
	BatchSize        int       `json:"batch_size" mapstructure:"batch_size"`
	LearningRate     float64   `json:"learning_rate" mapstructure:"learning_rate"`
	WeightDecay      float64   `json:"weight_decay" mapstructure:"weight_decay"`
	Beta1            float64   `json:"beta1" mapstructure:"beta1"`
	Beta2            float64   `json:"beta2" mapstructure:"beta2"`
	AdamEpsilon      float64   `json:"adam_epsilon" mapstructure:"adam_epsilon"`
	Precision        Precision `json:"precision" mapstructure:"precision"`
	InitialLossScale float64   `json:"initial_loss_scale" mapstructure:"initial_loss_scale"`
	GrowthInterval   int       `json:"growth_interval" mapstructure:"growth_interval"`
	OversampleFactor int       `json:"oversample_factor" mapstructure:"oversample_factor"`
	Seed             int64     `json:"seed" mapstructure:"seed"`
	Workers          int       `json:"workers" mapstructure:"workers"`
	CheckpointDir    string    `json:"checkpoint_dir" mapstructure:"checkpoint_dir"`
}

type DataConfig struct {
	CapturedDirs       []string `json:"captured_dirs" mapstructure:"captured_dirs"`
	ValidationDirs     []string `json:"validation_dirs" mapstructure:"validation_dirs"`
	SimulationSize     int      `json:"simulation_size" mapstructure:"simulation_size"`
	NoiseSamples       int      `json:"noise_samples" mapstructure:"noise_samples"`
	ValidationFraction float64  `json:"validation_fraction" mapstructure:"validation_fraction"`
	PeakRadius         float64  `json:"peak_radius" mapstructure:"peak_radius"`
	HarmonicDecay      float64  `json:"harmonic_decay" mapstructure:"harmonic_decay"`
	FrequencyWobble    float64  `json:"frequency_wobble" mapstructure:"frequency_wobble"`
}

type StoreConfig struct {
	Precision    StorePrecision `json:"precision" mapstructure:"precision"`
	ArtifactPath string         `json:"artifact_path" mapstructure:"artifact_path"`
}

type BackendConfig struct {
	Kind     BackendKind   `json:"kind" mapstructure:"kind"`
	Endpoint string        `json:"endpoint" mapstructure:"endpoint"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

type MetricsConfig struct {
	TopN int `json:"top_n" mapstructure:"top_n"`
}

type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
}

// Config is the complete run configuration
type Config struct {
	Features FeatureConfig `json:"features" mapstructure:"features"`
	Target   TargetConfig  `json:"target" mapstructure:"target"`
	Model    ModelConfig   `json:"model" mapstructure:"model"`
	Train    TrainConfig   `json:"train" mapstructure:"train"`
	Data     DataConfig    `json:"data" mapstructure:"data"`
	Store    StoreConfig   `json:"store" mapstructure:"store"`
	Backend  BackendConfig `json:"backend" mapstructure:"backend"`
	Metrics  MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Log      LogConfig     `json:"log" mapstructure:"log"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Features: FeatureConfig{
			Loader:       LoaderNoteBinned,
			LogTransform: true,
			Epsilon:      1e-6,
		},
		Target: TargetConfig{Kind: TargetFoldedBass},
		Model: ModelConfig{
			Dim:      32,
			Heads:    4,
			FFHidden: 128,
			Dropout:  0.2,
		},
		Train: TrainConfig{
			Epochs:           16,
			BatchSize:        100,
			LearningRate:     1e-3,
			WeightDecay:      1e-4,
			Beta1:            0.9,
			Beta2:            0.999,
			AdamEpsilon:      1e-8,
			Precision:        PrecisionFull,
			InitialLossScale: 65536,
			GrowthInterval:   2000,
			OversampleFactor: 16,
			Seed:             76980,
			Workers:          8,
			CheckpointDir:    "checkpoints",
		},
		Data: DataConfig{
			SimulationSize:     8,
			NoiseSamples:       200,
			ValidationFraction: 0.1,
			PeakRadius:         2.0,
			HarmonicDecay:      0.1,
			FrequencyWobble:    0.2,
		},
		Store: StoreConfig{
			Precision:    StoreFull,
			ArtifactPath: "model.spm",
		},
		Backend: BackendConfig{
			Kind:    BackendLocal,
			Timeout: 2 * time.Minute,
		},
		Metrics: MetricsConfig{TopN: 5},
		Log:     LogConfig{Level: "info"},
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks every field and returns the first problem found
func (c *Config) Validate() error {
	if !c.Features.Loader.Valid() {
		return invalid("unknown loader %q", c.Features.Loader)
	}
	if c.Features.Epsilon <= 0 {
		return invalid("features.epsilon must be positive")
	}
	if !c.Target.Kind.Valid() {
		return invalid("unknown target encoding %q", c.Target.Kind)
	}

	m := c.Model
	if m.Dim <= 0 || m.Heads <= 0 || m.FFHidden <= 0 {
		return invalid("model dim, heads and ff_hidden must be positive")
	}
	if m.Dim%m.Heads != 0 {
		return invalid("model dim %d is not divisible by %d heads", m.Dim, m.Heads)
	}
	if m.Dropout < 0 || m.Dropout >= 1 {
		return invalid("model dropout %v outside [0, 1)", m.Dropout)
	}

	t := c.Train
	if t.Epochs <= 0 || t.BatchSize <= 0 {
		return invalid("train epochs and batch_size must be positive")
	}
	if t.LearningRate <= 0 {
		return invalid("train learning_rate must be positive")
	}
	if t.WeightDecay < 0 {
		return invalid("train weight_decay must not be negative")
	}
	if t.Beta1 < 0 || t.Beta1 >= 1 || t.Beta2 < 0 || t.Beta2 >= 1 || t.AdamEpsilon <= 0 {
		return invalid("adam betas must lie in [0, 1) and epsilon must be positive")
	}
	if !t.Precision.Valid() {
		return invalid("unknown training precision %q", t.Precision)
	}
	if t.InitialLossScale < 1 || t.GrowthInterval <= 0 {
		return invalid("loss scale must be >= 1 and growth_interval positive")
	}
	if t.OversampleFactor < 1 {
		return invalid("train oversample_factor must be at least 1")
	}
	if t.Workers <= 0 {
		return invalid("train workers must be positive")
	}

	d := c.Data
	if d.SimulationSize < 0 || d.NoiseSamples < 0 {
		return invalid("data simulation_size and noise_samples must not be negative")
	}
	if d.ValidationFraction < 0 || d.ValidationFraction >= 1 {
		return invalid("data validation_fraction %v outside [0, 1)", d.ValidationFraction)
	}
	if d.PeakRadius <= 0 {
		return invalid("data peak_radius must be positive")
	}

	if !c.Store.Precision.Valid() {
		return invalid("unknown storage precision %q", c.Store.Precision)
	}
	if !c.Backend.Kind.Valid() {
		return invalid("unknown backend %q", c.Backend.Kind)
	}
	if c.Backend.Kind == BackendRemote && c.Backend.Endpoint == "" {
		return invalid("remote backend requires an endpoint")
	}
	if c.Metrics.TopN < 0 {
		return invalid("metrics top_n must not be negative")
	}

	return nil
}
