// Package model is the single-block attention network: scalar tokens are
// embedded, position-encoded, passed through pre-norm self-attention and a
// GELU feed-forward block, mean-pooled and projected to logits.
package model

import (
	"fmt"

	"github.com/RyanBlaney/sonido-pitch/config"
)

// Config fixes every shape in the network
type Config struct {
	InputWidth   int     `json:"input_width"`  // tokens per sample (T)
	OutputWidth  int     `json:"output_width"` // logits per sample
	Dim          int     `json:"dim"`          // D
	Heads        int     `json:"heads"`        // H, D/H per head
	FFHidden     int     `json:"ff_hidden"`
	Dropout      float64 `json:"dropout"`
	LogTransform bool    `json:"log_transform"`
	Epsilon      float64 `json:"epsilon"`
}

// FromRun derives the model shape from the run configuration and the widths
// of the active feature and target encodings.
func FromRun(cfg *config.Config, inputWidth, outputWidth int) Config {
	return Config{
		InputWidth:   inputWidth,
		OutputWidth:  outputWidth,
		Dim:          cfg.Model.Dim,
		Heads:        cfg.Model.Heads,
		FFHidden:     cfg.Model.FFHidden,
		Dropout:      cfg.Model.Dropout,
		LogTransform: cfg.Features.LogTransform,
		Epsilon:      cfg.Features.Epsilon,
	}
}

func (c Config) Validate() error {
	if c.InputWidth <= 0 || c.OutputWidth <= 0 {
		return fmt.Errorf("%w: model widths must be positive (input %d, output %d)",
			config.ErrInvalid, c.InputWidth, c.OutputWidth)
	}
	if c.Dim <= 0 || c.Heads <= 0 || c.Dim%c.Heads != 0 {
		return fmt.Errorf("%w: model dim %d must be a positive multiple of %d heads",
			config.ErrInvalid, c.Dim, c.Heads)
	}
	if c.FFHidden <= 0 {
		return fmt.Errorf("%w: ff_hidden must be positive", config.ErrInvalid)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: dropout %v outside [0, 1)", config.ErrInvalid, c.Dropout)
	}
	if c.LogTransform && c.Epsilon <= 0 {
		return fmt.Errorf("%w: log transform needs a positive epsilon", config.ErrInvalid)
	}
	return nil
}

// HeadDim is the width of one attention head
func (c Config) HeadDim() int {
	return c.Dim / c.Heads
}
