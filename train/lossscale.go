package train

import "github.com/RyanBlaney/sonido-pitch/config"

// LossScaleState is the dynamic loss scale carried from one step into the
// next. Steps return a new value instead of mutating a shared one.
type LossScaleState struct {
	Scale     float64 `json:"scale"`
	Successes int     `json:"successes"` // consecutive applied steps since the last change
}

// Scaler is the growth and backoff policy for LossScaleState
type Scaler struct {
	dynamic        bool
	initial        float64
	growthInterval int
}

// minLossScale is the floor backoff never goes below
const minLossScale = 1.0

// NewScaler builds the policy for cfg. Full precision training keeps the
// scale pinned at 1.
func NewScaler(cfg config.TrainConfig) Scaler {
	return Scaler{
		dynamic:        cfg.Precision.Reduced(),
		initial:        cfg.InitialLossScale,
		growthInterval: cfg.GrowthInterval,
	}
}

// Dynamic reports whether the scale ever changes
func (s Scaler) Dynamic() bool { return s.dynamic }

// Initial is the state of a fresh run
func (s Scaler) Initial() LossScaleState {
	if !s.dynamic {
		return LossScaleState{Scale: 1}
	}
	return LossScaleState{Scale: s.initial}
}

// Next returns the state after a step. An overflow halves the scale and
// resets the counter; growthInterval consecutive successes double it.
func (s Scaler) Next(st LossScaleState, overflowed bool) LossScaleState {
	if overflowed {
		if !s.dynamic {
			return LossScaleState{Scale: st.Scale}
		}
		return LossScaleState{Scale: max(st.Scale/2, minLossScale)}
	}

	st.Successes++
	if s.dynamic && s.growthInterval > 0 && st.Successes >= s.growthInterval {
		return LossScaleState{Scale: st.Scale * 2}
	}
	return st
}
