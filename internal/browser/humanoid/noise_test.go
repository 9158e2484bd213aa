// internal/browser/humanoid/noise_test.go
package humanoid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fixedSource makes rand.Float64 return roughly v.
type fixedSource struct{ v float64 }

func (s fixedSource) Int63() int64 {
	n := int64(s.v * float64(1<<53))
	if n >= 1<<53 {
		n = 1<<53 - 1
	}
	return n
}

func (fixedSource) Seed(int64) {}

func TestNewPinkNoiseGenerator(t *testing.T) {
	t.Run("cumulative probabilities end at one", func(t *testing.T) {
		g := NewPinkNoiseGenerator(rand.New(rand.NewSource(1)), 8)
		assert.Len(t, g.sources, 8)
		assert.Equal(t, 1.0, g.cdf[len(g.cdf)-1])
		for i := 1; i < len(g.cdf); i++ {
			assert.Greater(t, g.cdf[i], g.cdf[i-1])
		}
	})

	t.Run("sum tracks sources", func(t *testing.T) {
		g := NewPinkNoiseGenerator(rand.New(rand.NewSource(2)), 6)
		total := 0.0
		for _, v := range g.sources {
			total += v
		}
		assert.InDelta(t, total, g.sum, 1e-12)
	})

	t.Run("non-positive n defaults", func(t *testing.T) {
		g := NewPinkNoiseGenerator(rand.New(rand.NewSource(1)), 0)
		assert.Len(t, g.sources, 12)
	})
}

func TestPinkNoiseGenerator_Next(t *testing.T) {
	g := NewPinkNoiseGenerator(rand.New(rand.NewSource(42)), 8)
	prev := g.Next()
	changed := false
	for i := 0; i < 200; i++ {
		v := g.Next()
		assert.LessOrEqual(t, v, 3.0)
		assert.GreaterOrEqual(t, v, -3.0)
		if v != prev {
			changed = true
		}
		prev = v
	}
	assert.True(t, changed)
}

func TestPinkNoiseGenerator_NextNearOne(t *testing.T) {
	g := NewPinkNoiseGenerator(rand.New(fixedSource{v: 0.9999999999999999}), 4)
	assert.NotPanics(t, func() { g.Next() })
}
