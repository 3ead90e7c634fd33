// Package precision emulates reduced floating point formats on float64 data.
package precision

import (
	"math"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-pitch/config"
)

// Round returns v as it would be stored in format p
func Round(v float64, p config.Precision) float64 {
	switch p {
	case config.PrecisionHalf:
		return ToHalf(v)
	case config.PrecisionBFloat16:
		return ToBFloat16(v)
	default:
		return v
	}
}

// ToHalf rounds through IEEE 754 binary16; magnitudes above 65504 become Inf
func ToHalf(v float64) float64 {
	return float64(float16.Fromfloat32(float32(v)).Float32())
}

// HalfBits returns the binary16 encoding of v
func HalfBits(v float64) uint16 {
	return float16.Fromfloat32(float32(v)).Bits()
}

// FromHalfBits decodes a binary16 value
func FromHalfBits(b uint16) float64 {
	return float64(float16.Frombits(b).Float32())
}

// ToBFloat16 keeps the upper 16 bits of the float32 encoding, rounding to
// nearest even.
func ToBFloat16(v float64) float64 {
	f := float32(v)
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return float64(f)
	}
	b := math.Float32bits(f)
	rounding := uint32(0x7FFF) + (b>>16)&1
	b = (b + rounding) &^ 0xFFFF
	return float64(math.Float32frombits(b))
}

// RoundMatrix rounds every element of m in place
func RoundMatrix(m *mat.Dense, p config.Precision) {
	if p == config.PrecisionFull || m == nil {
		return
	}
	m.Apply(func(_, _ int, v float64) float64 {
		return Round(v, p)
	}, m)
}

// Finite reports whether every element of m is finite
func Finite(m *mat.Dense) bool {
	r, c := m.Dims()
	for i := range r {
		for j := range c {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
