// internal/browser/humanoid/keyboard.go
package humanoid

import (
	"context"
	"math"
	"time"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// KeyDelay draws the pause before the next keystroke. The base delay lies in
// the configured key range; pink noise gives consecutive delays the slow drift
// of real typing. With probability ExtraPauseProb an extra hesitation is added.
func (h *Humanoid) KeyDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	lo, hi := h.cfg.KeyDelayMinMs, h.cfg.KeyDelayMaxMs
	if hi < lo {
		hi = lo
	}
	u := 0.7*h.rng.Float64() + 0.3*(h.pink.Next()+1)/2
	u = math.Max(0, math.Min(1, u))
	d := time.Duration(float64(lo)+u*float64(hi-lo)) * time.Millisecond

	if h.cfg.ExtraPauseProb > 0 && h.rng.Float64() < h.cfg.ExtraPauseProb {
		d += h.uniformMs(h.cfg.ExtraPauseMinMs, h.cfg.ExtraPauseMaxMs)
	}
	return d
}

// Type sends text to loc one character at a time. With pacing off the text
// is typed without per-character delays.
func (h *Humanoid) Type(ctx context.Context, loc schemas.Locator, text string) error {
	if !h.Enabled() {
		return loc.Type(ctx, text, nil)
	}
	return loc.Type(ctx, text, h.KeyDelay)
}
