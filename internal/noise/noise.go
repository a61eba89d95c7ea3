// Package noise draws the per-sensor perturbation applied to the ground truth.
package noise

import (
	"math"
	"math/rand"
)

// Bound is the half-width of the noise interval: draws fall in [-Bound, +Bound].
const Bound = 1.0

// Generator produces independent uniform noise draws.
type Generator struct {
	uniform func() float64
}

// NewGenerator returns a Generator backed by the process-wide math/rand source.
func NewGenerator() *Generator {
	return &Generator{uniform: rand.Float64}
}

// NewGeneratorWithSource returns a Generator drawing from uniform, which must
// return values in [0, 1). Used to make tests deterministic.
func NewGeneratorWithSource(uniform func() float64) *Generator {
	return &Generator{uniform: uniform}
}

// Generate returns δ in [-Bound, +Bound].
func (g *Generator) Generate() float64 {
	return (2*g.uniform() - 1) * Bound
}

// Apply returns t plus a fresh draw, rounded to two decimals. The result stays
// inside [t-Bound, t+Bound] even when t itself has more than two decimals.
func (g *Generator) Apply(t float64) float64 {
	v := Round2(t + g.Generate())
	if lo := t - Bound; v < lo {
		v = math.Ceil(lo*100) / 100
	}
	if hi := t + Bound; v > hi {
		v = math.Floor(hi*100) / 100
	}
	return v
}

// Round2 rounds x to two decimal places, halves away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
