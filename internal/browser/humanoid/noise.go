// File: internal/browser/humanoid/noise.go
package humanoid

import (
	"math"
	"math/rand"
)

// PinkNoiseGenerator produces 1/f noise with the stochastic Voss-McCartney
// scheme: n white sources, each updated with geometrically falling
// probability, summed. Not safe for concurrent use.
type PinkNoiseGenerator struct {
	rng     *rand.Rand
	sources []float64
	cdf     []float64 // cumulative update probability per source
	sum     float64
	scale   float64
}

// NewPinkNoiseGenerator creates a generator with n sources. n <= 0 means 12.
func NewPinkNoiseGenerator(rng *rand.Rand, n int) *PinkNoiseGenerator {
	if n <= 0 {
		n = 12
	}
	g := &PinkNoiseGenerator{
		rng:     rng,
		sources: make([]float64, n),
		cdf:     make([]float64, n),
		scale:   1 / math.Sqrt(float64(n)),
	}

	total := 0.0
	for i := range g.cdf {
		total += math.Pow(2, -float64(i))
	}
	acc := 0.0
	for i := range g.cdf {
		acc += math.Pow(2, -float64(i)) / total
		g.cdf[i] = acc
	}
	g.cdf[n-1] = 1

	for i := range g.sources {
		g.sources[i] = g.white()
		g.sum += g.sources[i]
	}
	return g
}

// white returns uniform noise in [-1, 1).
func (g *PinkNoiseGenerator) white() float64 {
	return g.rng.Float64()*2 - 1
}

// Next advances the generator and returns a sample, roughly in [-1, 1].
func (g *PinkNoiseGenerator) Next() float64 {
	r := g.rng.Float64()
	i := len(g.cdf) - 1
	for j, c := range g.cdf {
		if r < c {
			i = j
			break
		}
	}
	v := g.white()
	g.sum += v - g.sources[i]
	g.sources[i] = v
	return g.sum * g.scale
}
