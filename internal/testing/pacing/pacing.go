// internal/testing/pacing/pacing.go
// Package pacing builds humanoid pacers for tests in other packages.
package pacing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

// NewHumanoid returns an enabled, seeded Humanoid whose pauses return
// immediately, so movement and typing paths run without wall-clock waits.
func NewHumanoid(seed int64) *humanoid.Humanoid {
	cfg := config.DefaultHumanoidConfig()
	cfg.Enabled = true
	cfg.Seed = seed
	return humanoid.New(cfg, zap.NewNop()).WithSleep(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	})
}
