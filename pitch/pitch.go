// Package pitch models absolute pitches (MIDI numbering, 0-127) and sets of
// simultaneously sounding pitches.
package pitch

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

const (
	// Count is the number of absolute pitches
	Count = 128
	// ClassCount is the number of pitch classes
	ClassCount = 12
	// C0 is the lowest pitch with a named octave
	C0 = 12
)

var classNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Frequency returns the equal-tempered frequency of p with A4 (69) at 440 Hz
func Frequency(p int) float64 {
	return 440.0 * math.Pow(2, float64(p-69)/12.0)
}

// Nearest returns the pitch whose frequency is closest to hz, or -1 when hz
// falls outside the pitch range.
func Nearest(hz float64) int {
	if hz <= 0 {
		return -1
	}
	p := int(math.Round(69 + 12*math.Log2(hz/440.0)))
	if p < 0 || p >= Count {
		return -1
	}
	return p
}

// Class folds p to its pitch class
func Class(p int) int {
	return ((p % ClassCount) + ClassCount) % ClassCount
}

// ClassName returns the name of pitch class c ("C", "C#", ...)
func ClassName(c int) string {
	return classNames[Class(c)]
}

// Name returns the scientific pitch name of p, e.g. 60 -> "C4"
func Name(p int) string {
	return fmt.Sprintf("%s%d", ClassName(p), p/ClassCount-1)
}

// Set is a set of absolute pitches. The zero value is empty.
type Set struct {
	lo, hi uint64
}

// NewSet builds a set from pitches; out-of-range values are ignored
func NewSet(pitches ...int) Set {
	var s Set
	for _, p := range pitches {
		s = s.Add(p)
	}
	return s
}

// FromWords builds a set from its 128-bit mask (bit p set means p sounds)
func FromWords(hi, lo uint64) Set {
	return Set{lo: lo, hi: hi}
}

// Words returns the 128-bit mask as high and low words
func (s Set) Words() (hi, lo uint64) {
	return s.hi, s.lo
}

func (s Set) Add(p int) Set {
	switch {
	case p < 0 || p >= Count:
	case p < 64:
		s.lo |= 1 << uint(p)
	default:
		s.hi |= 1 << uint(p-64)
	}
	return s
}

// Shift transposes every pitch by d semitones, dropping those that leave
// the 0-127 range
func (s Set) Shift(d int) Set {
	var out Set
	for _, p := range s.Pitches() {
		out = out.Add(p + d)
	}
	return out
}

func (s Set) Has(p int) bool {
	switch {
	case p < 0 || p >= Count:
		return false
	case p < 64:
		return s.lo&(1<<uint(p)) != 0
	default:
		return s.hi&(1<<uint(p-64)) != 0
	}
}

func (s Set) Len() int {
	return bits.OnesCount64(s.lo) + bits.OnesCount64(s.hi)
}

func (s Set) Empty() bool {
	return s.lo == 0 && s.hi == 0
}

// Pitches lists the members in ascending order
func (s Set) Pitches() []int {
	out := make([]int, 0, s.Len())
	for p := range Count {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Bass returns the lowest member, or -1 for an empty set
func (s Set) Bass() int {
	if s.lo != 0 {
		return bits.TrailingZeros64(s.lo)
	}
	if s.hi != 0 {
		return 64 + bits.TrailingZeros64(s.hi)
	}
	return -1
}

// Classes returns the folded pitch-class membership
func (s Set) Classes() [ClassCount]bool {
	var out [ClassCount]bool
	for _, p := range s.Pitches() {
		out[Class(p)] = true
	}
	return out
}

// String joins member names, e.g. "C4E4G4"
func (s Set) String() string {
	var b strings.Builder
	for _, p := range s.Pitches() {
		b.WriteString(Name(p))
	}
	return b.String()
}
