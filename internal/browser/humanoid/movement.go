// internal/browser/humanoid/movement.go
package humanoid

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// TargetPoint picks the point to aim at inside box: its center plus jitter,
// kept inside the box.
func (h *Humanoid) TargetPoint(box schemas.Rect) Vector2D {
	cx, cy := box.Center()
	h.mu.Lock()
	off := h.jitter()
	h.mu.Unlock()
	target := Vector2D{X: cx, Y: cy}.Add(off)
	if box.Width > 2 && box.Height > 2 {
		target = target.Clamp(box.X+1, box.Y+1, box.X+box.Width-1, box.Y+box.Height-1)
	}
	return target
}

// MoveTo moves the pointer to a jittered point inside box.
func (h *Humanoid) MoveTo(ctx context.Context, page schemas.Page, box schemas.Rect) error {
	if !h.Enabled() {
		return nil
	}
	target := h.TargetPoint(box)
	h.mu.Lock()
	steps := h.moveSteps()
	from := h.currentPos
	h.mu.Unlock()

	if err := page.MoveMouse(ctx, target.X, target.Y, steps); err != nil {
		return fmt.Errorf("humanoid: pointer move failed: %w", err)
	}
	h.mu.Lock()
	h.currentPos = target
	h.mu.Unlock()
	h.logger.Debug("Pointer moved.",
		zap.Float64("distance", from.Dist(target)), zap.Int("steps", steps))
	return nil
}

// Click moves to loc, pauses briefly, and clicks with a randomized hold.
// With pacing off it is a plain click. Pointer movement problems are logged
// and do not prevent the click.
func (h *Humanoid) Click(ctx context.Context, page schemas.Page, loc schemas.Locator) error {
	if !h.Enabled() {
		return loc.Click(ctx, schemas.ClickOptions{})
	}

	if box, err := loc.BoundingBox(ctx); err != nil {
		h.logger.Debug("No bounding box; clicking without pointer motion.",
			zap.String("selector", loc.Selector()), zap.Error(err))
	} else if err := h.MoveTo(ctx, page, box); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Debug("Pointer motion failed.", zap.String("selector", loc.Selector()), zap.Error(err))
	}

	if err := h.Pause(ctx, h.cfg.PreClickMinMs, h.cfg.PreClickMaxMs); err != nil {
		return err
	}
	h.mu.Lock()
	hold := h.uniformMs(h.cfg.ClickHoldMinMs, h.cfg.ClickHoldMaxMs)
	h.mu.Unlock()
	return loc.Click(ctx, schemas.ClickOptions{Delay: hold})
}
