package train

import "math"

// Cosine anneals the learning rate from Initial towards zero over Total steps
type Cosine struct {
	Initial float64
	Total   int
}

// Rate is the learning rate for step (0-based); steps past Total stay at zero
func (c Cosine) Rate(step int) float64 {
	if c.Total <= 0 {
		return c.Initial
	}
	progress := min(float64(step)/float64(c.Total), 1)
	return c.Initial * 0.5 * (1 + math.Cos(math.Pi*progress))
}
