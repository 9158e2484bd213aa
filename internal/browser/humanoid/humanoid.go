// internal/browser/humanoid/humanoid.go
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/internal/config"
)

// Standard Perlin parameters.
const (
	perlinAlpha = 2.0
	perlinBeta  = 2.0
	perlinN     = int32(3)
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Humanoid paces pointer and keyboard input so it resembles a person. Pacing
// only affects timing and pointer paths, never which element is acted on.
type Humanoid struct {
	// mu guards the random sources and the pointer position.
	mu         sync.Mutex
	cfg        config.HumanoidConfig
	logger     *zap.Logger
	rng        *rand.Rand
	noiseX     *perlin.Perlin
	noiseY     *perlin.Perlin
	pink       *PinkNoiseGenerator
	noiseTime  float64
	currentPos Vector2D
	sleep      SleepFunc
}

// New creates a Humanoid. A zero Seed draws one from the clock.
func New(cfg config.HumanoidConfig, logger *zap.Logger) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	return &Humanoid{
		cfg:    cfg,
		logger: logger.Named("humanoid"),
		rng:    rng,
		noiseX: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed),
		noiseY: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed+1),
		pink:   NewPinkNoiseGenerator(rng, 12),
		sleep:  contextSleep,
	}
}

// WithSleep replaces the pause implementation.
func (h *Humanoid) WithSleep(fn SleepFunc) *Humanoid {
	h.sleep = fn
	return h
}

// Enabled reports whether pacing is active.
func (h *Humanoid) Enabled() bool { return h != nil && h.cfg.Enabled }

// Position returns the last pointer position this Humanoid moved to.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// uniformMs draws a duration in [minMs, maxMs]. Caller holds mu.
func (h *Humanoid) uniformMs(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return config.Ms(minMs)
	}
	return config.Ms(minMs + h.rng.Intn(maxMs-minMs+1))
}

// Pause sleeps for a random duration in [minMs, maxMs] when enabled.
func (h *Humanoid) Pause(ctx context.Context, minMs, maxMs int) error {
	if !h.Enabled() {
		return nil
	}
	h.mu.Lock()
	d := h.uniformMs(minMs, maxMs)
	h.mu.Unlock()
	return h.sleep(ctx, d)
}

// jitter returns a smooth offset in [-JitterPx, JitterPx] per axis. Caller
// holds mu.
func (h *Humanoid) jitter() Vector2D {
	h.noiseTime += h.cfg.NoiseFrequencyHz
	j := h.cfg.JitterPx
	axis := func(p *perlin.Perlin) float64 {
		v := p.Noise1D(h.noiseTime)*j*1.5 + h.rng.NormFloat64()*j*0.25
		return math.Max(-j, math.Min(j, v))
	}
	return Vector2D{X: axis(h.noiseX), Y: axis(h.noiseY)}
}

// moveSteps draws the number of intermediate pointer events. Caller holds mu.
func (h *Humanoid) moveSteps() int {
	lo, hi := h.cfg.MoveStepsMin, h.cfg.MoveStepsMax
	if lo < 1 {
		lo = 1
	}
	if hi <= lo {
		return lo
	}
	return lo + h.rng.Intn(hi-lo+1)
}
