// Package capture turns a paired MIDI score and audio recording into
// labelled per-measure spectra.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/RyanBlaney/sonido-pitch/dataset"
	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/spectrum"
	"github.com/RyanBlaney/sonido-pitch/transcode"
)

// ErrNoMeasures means a song produced no usable measures
var ErrNoMeasures = errors.New("no qualifying measures")

// Options control how measures become labels
type Options struct {
	MinNoteFraction float64 `json:"min_note_fraction"`
	MinNotes        int     `json:"min_notes"`
	MaxNotes        int     `json:"max_notes"`
	MinDuration     float64 `json:"min_duration"` // seconds
	MaxSamples      int     `json:"max_samples"`  // 0 means unlimited
}

// DefaultOptions returns the standard measure filter
func DefaultOptions() Options {
	return Options{
		MinNoteFraction: 0.35,
		MinNotes:        1,
		MaxNotes:        6,
	}
}

// Segment is one captured measure
type Segment struct {
	Measure int
	Seconds int // audio length after padding to whole seconds
	Record  dataset.Record
}

// Prefix is the sample file prefix for a segment of song
func (s Segment) Prefix(song string) string {
	return fmt.Sprintf("%s_measure_%04d_%ds_", song, s.Measure, s.Seconds)
}

// Processor cuts songs into segments
type Processor struct {
	opts     Options
	decoder  *transcode.Decoder
	analyzer *spectrum.Analyzer
	logger   logging.Logger
}

// NewProcessor creates a processor; a nil decoder uses the default one
func NewProcessor(opts Options, decoder *transcode.Decoder) *Processor {
	if decoder == nil {
		decoder = transcode.NewDecoder(nil)
	}
	return &Processor{
		opts:     opts,
		decoder:  decoder,
		analyzer: spectrum.NewAnalyzer(),
		logger: logging.WithFields(logging.Fields{
			"component": "capture",
		}),
	}
}

// ProcessFiles reads a MIDI file and its recording and processes them
func (p *Processor) ProcessFiles(ctx context.Context, midiPath, audioPath string) ([]Segment, error) {
	song, err := ReadMIDI(midiPath)
	if err != nil {
		return nil, err
	}
	audio, err := p.decoder.DecodeFile(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(midiPath), filepath.Ext(midiPath))
	return p.Process(ctx, name, song, audio)
}

// Process labels every measure of song and cuts the matching audio. Measures
// that run past the end of the recording are dropped.
func (p *Processor) Process(ctx context.Context, name string, song *smf.SMF, audio *transcode.AudioData) ([]Segment, error) {
	logger := p.logger.WithFields(logging.Fields{
		"function": "Process",
		"song":     name,
	})

	measures, err := Measures(song)
	if err != nil {
		return nil, err
	}
	rate := float64(audio.SampleRate)
	total := float64(len(audio.PCM)) / rate

	var out []Segment
	for _, m := range measures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.opts.MaxSamples > 0 && len(out) >= p.opts.MaxSamples {
			break
		}

		start := float64(song.TimeAt(m.StartTick)) / 1e6
		end := float64(song.TimeAt(m.EndTick)) / 1e6
		if end <= start || end > total || end-start < p.opts.MinDuration {
			continue
		}

		seconds := int(math.Min(math.Max(math.Ceil(end-start), 1), 255))
		from := int(math.Floor(start * rate))
		to := min(int(math.Ceil(end*rate)), len(audio.PCM))
		if from >= to {
			continue
		}
		buf := make([]float64, seconds*audio.SampleRate)
		copy(buf, audio.PCM[from:to])

		spec, err := p.analyzer.FromPCM(buf, audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("measure %d: %w", m.Index, err)
		}
		out = append(out, Segment{
			Measure: m.Index,
			Seconds: seconds,
			Record: dataset.Record{
				Spectrum:   spec,
				Label:      m.Label(p.opts),
				Provenance: dataset.Captured,
				Source:     fmt.Sprintf("%s#%d", name, m.Index),
			},
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoMeasures, name)
	}
	logger.Info("Captured measures", logging.Fields{
		"measures": len(measures),
		"kept":     len(out),
	})
	return out, nil
}

// Save writes segments as sample files into dir
func Save(dir, song string, segments []Segment) ([]string, error) {
	paths := make([]string, 0, len(segments))
	for _, s := range segments {
		path, err := dataset.SaveRecord(dir, s.Prefix(song), s.Record)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
