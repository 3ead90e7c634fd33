// Package features turns a Spectrum into the fixed-width vector the model
// consumes. Exactly one loader strategy is active per Encoder.
package features

import (
	"fmt"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/guess"
	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
)

// GuessWidth is the width added by the deterministic guess prefix
const GuessWidth = pitch.Count

// Guesser supplies the deterministic pitch-presence prefix
type Guesser interface {
	Guess(s spectrum.Spectrum) []float64
}

// strategy is implemented only by the loaders in this package
type strategy interface {
	width() int
	transform(s spectrum.Spectrum) []float64
}

func newStrategy(kind config.LoaderKind) (strategy, error) {
	switch kind {
	case config.LoaderNoteBinned:
		return noteBinned{}, nil
	case config.LoaderMel:
		return newMelBank(MelBands), nil
	case config.LoaderFrequency:
		return rawFrequency{}, nil
	case config.LoaderFrequencyPooled:
		return pooled{factor: PoolFactor}, nil
	default:
		return nil, fmt.Errorf("%w: unknown loader %q", config.ErrInvalid, kind)
	}
}

// BaseWidth returns the width a loader produces before any guess prefix
func BaseWidth(kind config.LoaderKind) (int, error) {
	switch kind {
	case config.LoaderNoteBinned:
		return pitch.Count, nil
	case config.LoaderMel:
		return MelBands, nil
	case config.LoaderFrequency:
		return spectrum.Size, nil
	case config.LoaderFrequencyPooled:
		return spectrum.Size / PoolFactor, nil
	default:
		return 0, fmt.Errorf("%w: unknown loader %q", config.ErrInvalid, kind)
	}
}

// Width returns the full feature width for a loader and guess toggle
func Width(kind config.LoaderKind, withGuess bool) (int, error) {
	w, err := BaseWidth(kind)
	if err != nil {
		return 0, err
	}
	if withGuess {
		w += GuessWidth
	}
	return w, nil
}

// Encoder maps spectra to feature vectors. It holds no mutable state and is
// safe for concurrent use.
type Encoder struct {
	kind    config.LoaderKind
	base    strategy
	guesser Guesser
	logger  logging.Logger
}

// NewEncoder builds the encoder selected by cfg. When the guess prefix is
// enabled and g is nil, the deterministic guess.Detector is used.
func NewEncoder(cfg config.FeatureConfig, g Guesser) (*Encoder, error) {
	base, err := newStrategy(cfg.Loader)
	if err != nil {
		return nil, err
	}

	e := &Encoder{
		kind: cfg.Loader,
		base: base,
		logger: logging.WithFields(logging.Fields{
			"component": "feature_encoder",
			"loader":    string(cfg.Loader),
		}),
	}
	if cfg.DeterministicGuess {
		if g == nil {
			g = guess.NewDetector()
		}
		e.guesser = g
	}

	e.logger.Debug("Feature encoder ready", logging.Fields{
		"width": e.Width(),
		"guess": e.guesser != nil,
	})
	return e, nil
}

// Kind returns the active loader
func (e *Encoder) Kind() config.LoaderKind {
	return e.kind
}

// Guessing reports whether the guess prefix is enabled
func (e *Encoder) Guessing() bool {
	return e.guesser != nil
}

// Width returns the length of every vector Encode produces
func (e *Encoder) Width() int {
	w := e.base.width()
	if e.guesser != nil {
		w += GuessWidth
	}
	return w
}

// Encode max-normalizes the loader output, prepends the guess when enabled
// and standardizes the result to zero mean and unit variance.
func (e *Encoder) Encode(s spectrum.Spectrum) ([]float64, error) {
	if len(s) != spectrum.Size {
		return nil, fmt.Errorf("spectrum has %d bins, want %d", len(s), spectrum.Size)
	}

	base := e.base.transform(s)
	maxNormalize(base)

	out := base
	if e.guesser != nil {
		g := e.guesser.Guess(s)
		if len(g) != GuessWidth {
			return nil, fmt.Errorf("guess vector has %d entries, want %d", len(g), GuessWidth)
		}
		out = make([]float64, 0, GuessWidth+len(base))
		out = append(out, g...)
		out = append(out, base...)
	}

	standardize(out)
	return out, nil
}
