package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/RyanBlaney/sonido-pitch/pitch"
)

const percussionChannel = 9

// Measure is one bar of a song with how long each pitch sounded in it
type Measure struct {
	Index     int
	StartTick int64
	EndTick   int64
	// noteTicks is the number of ticks each pitch sounded inside the bar
	noteTicks map[uint8]int64
}

// Ticks reports how long pitch p sounded in the measure
func (m Measure) Ticks(p uint8) int64 { return m.noteTicks[p] }

// Label picks the pitches sounding for at least opts.MinNoteFraction of the
// measure, topped up to MinNotes and capped at MaxNotes by prominence. Notes
// below C0 have no sample encoding and are ignored.
func (m Measure) Label(opts Options) pitch.Set {
	type held struct {
		note     uint8
		fraction float64
	}
	total := float64(max(m.EndTick-m.StartTick, 1))
	notes := make([]held, 0, len(m.noteTicks))
	for n, ticks := range m.noteTicks {
		if int(n) < pitch.C0 {
			continue
		}
		notes = append(notes, held{note: n, fraction: float64(ticks) / total})
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].fraction != notes[j].fraction {
			return notes[i].fraction > notes[j].fraction
		}
		return notes[i].note < notes[j].note
	})

	count := 0
	for _, h := range notes {
		if h.fraction >= opts.MinNoteFraction {
			count++
		}
	}
	count = max(count, min(opts.MinNotes, len(notes)))
	count = min(count, opts.MaxNotes)

	var set pitch.Set
	for _, h := range notes[:count] {
		set = set.Add(int(h.note))
	}
	return set
}

// ReadMIDI parses a Standard MIDI File
func ReadMIDI(path string) (*smf.SMF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read midi file: %w", err)
	}
	return ParseMIDI(bytes.NewReader(data))
}

// ParseMIDI parses a Standard MIDI File from r. The parser panics on some
// malformed input; that is reported as an error.
func ParseMIDI(r io.Reader) (s *smf.SMF, err error) {
	defer func() {
		if p := recover(); p != nil {
			s, err = nil, fmt.Errorf("failed to parse midi file: %v", p)
		}
	}()

	s, err = smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse midi file: %w", err)
	}
	return s, nil
}

type noteSpan struct {
	note       uint8
	start, end int64
}

// Measures splits the song into bars using the first meter event (4/4 when
// there is none) and accumulates sounding time per pitch, ignoring the
// percussion channel. Only bars with at least one note are returned, in
// order.
func Measures(s *smf.SMF) ([]Measure, error) {
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, errors.New("only metric MIDI time formats are supported")
	}
	ppq := int64(ticks.Ticks4th())

	var (
		num, denom uint8 = 4, 4
		meterSeen  bool
		spans      []noteSpan
		lastTick   int64
	)
	for _, track := range s.Tracks {
		var abs int64
		open := map[uint8][]int64{}
		for _, ev := range track {
			abs += int64(ev.Delta)
			lastTick = max(lastTick, abs)

			var n, d uint8
			if !meterSeen && ev.Message.GetMetaMeter(&n, &d) {
				num, denom, meterSeen = n, d, true
				continue
			}

			var ch, key, vel uint8
			switch {
			case ev.Message.GetNoteOn(&ch, &key, &vel):
				if ch == percussionChannel {
					continue
				}
				if vel > 0 {
					open[key] = append(open[key], abs)
					continue
				}
				spans = closeNote(spans, open, key, abs)
			case ev.Message.GetNoteOff(&ch, &key, &vel):
				if ch == percussionChannel {
					continue
				}
				spans = closeNote(spans, open, key, abs)
			}
		}
		// notes never released ring until the end of the song
		for key, starts := range open {
			for _, start := range starts {
				spans = append(spans, noteSpan{note: key, start: start, end: lastTick})
			}
		}
	}

	if num == 0 {
		num = 4
	}
	if denom == 0 {
		denom = 4
	}
	barTicks := ppq * int64(num) * 4 / int64(denom)
	if barTicks <= 0 {
		return nil, fmt.Errorf("invalid meter %d/%d", num, denom)
	}

	bars := map[int64]*Measure{}
	for _, sp := range spans {
		for cur := sp.start; cur < sp.end; {
			idx := cur / barTicks
			barEnd := (idx + 1) * barTicks
			segEnd := min(sp.end, barEnd)

			m, ok := bars[idx]
			if !ok {
				m = &Measure{Index: int(idx), StartTick: idx * barTicks, EndTick: barEnd, noteTicks: map[uint8]int64{}}
				bars[idx] = m
			}
			m.noteTicks[sp.note] += segEnd - cur
			cur = segEnd
		}
	}

	out := make([]Measure, 0, len(bars))
	for _, m := range bars {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func closeNote(spans []noteSpan, open map[uint8][]int64, key uint8, at int64) []noteSpan {
	starts := open[key]
	if len(starts) == 0 {
		return spans
	}
	start := starts[len(starts)-1]
	open[key] = starts[:len(starts)-1]
	if at > start {
		spans = append(spans, noteSpan{note: key, start: start, end: at})
	}
	return spans
}
