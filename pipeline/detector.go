package pipeline

import (
	"fmt"

	"github.com/RyanBlaney/sonido-pitch/artifact"
	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/features"
	"github.com/RyanBlaney/sonido-pitch/model"
	"github.com/RyanBlaney/sonido-pitch/pitch"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
	"github.com/RyanBlaney/sonido-pitch/target"
	"github.com/RyanBlaney/sonido-pitch/threshold"
)

// Detection is a decoded prediction with readable names
type Detection struct {
	threshold.Prediction
	Names    []string `json:"names"`
	BassName string   `json:"bass_name,omitempty"`
}

// Detector maps spectra to detected pitches with a trained artifact. It is
// safe for concurrent use.
type Detector struct {
	kind     config.TargetKind
	model    model.Config
	params   *model.Params
	encoder  *features.Encoder
	decoder  *threshold.Decoder
	analyzer *spectrum.Analyzer
}

// NewDetector checks art against cfg; a mismatch is artifact.ErrIncompatible
func NewDetector(cfg *config.Config, art *artifact.Artifact) (*Detector, error) {
	if err := art.Check(cfg); err != nil {
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
	params, err := art.Params(mc)
	if err != nil {
		return nil, err
	}
	decoder, err := threshold.NewDecoder(scheme, art.Thresholds)
	if err != nil {
		return nil, err
	}
	return &Detector{
		kind:     cfg.Target.Kind,
		model:    mc,
		params:   params,
		encoder:  encoder,
		decoder:  decoder,
		analyzer: spectrum.NewAnalyzer(),
	}, nil
}

// Detect encodes s, runs the model and decodes the logits
func (d *Detector) Detect(s spectrum.Spectrum) (Detection, error) {
	if err := s.Check(); err != nil {
		return Detection{}, err
	}
	x, err := d.encoder.Encode(s)
	if err != nil {
		return Detection{}, err
	}
	logits, err := model.Predict(d.model, d.params, x)
	if err != nil {
		return Detection{}, err
	}
	pred, err := d.decoder.Decode(logits)
	if err != nil {
		return Detection{}, err
	}

	det := Detection{Prediction: pred, Names: make([]string, 0, len(pred.Pitches))}
	for _, p := range pred.Pitches {
		if d.kind == config.TargetFull {
			det.Names = append(det.Names, pitch.Name(p))
		} else {
			det.Names = append(det.Names, pitch.ClassName(p))
		}
	}
	if pred.Bass >= 0 {
		det.BassName = pitch.ClassName(pred.Bass)
	}
	return det, nil
}

// DetectPCM analyses a mono PCM buffer as one segment
func (d *Detector) DetectPCM(pcm []float64, sampleRate int) (Detection, error) {
	s, err := d.analyzer.FromPCM(pcm, sampleRate)
	if err != nil {
		return Detection{}, fmt.Errorf("failed to analyse audio: %w", err)
	}
	return d.Detect(s)
}
