// File: internal/config/humanoid_config.go
// HumanoidConfig holds the pacing parameters for human-like pointer and
// keyboard input. Pacing is cosmetic: disabling it never changes the outcome
// of an action, only its timing.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// HumanoidConfig defines jitter and delay ranges for the pacer.
type HumanoidConfig struct {
	Enabled bool  `mapstructure:"enabled" yaml:"enabled"`
	Seed    int64 `mapstructure:"seed" yaml:"seed"` // Zero seeds from the clock.

	// Pointer
	JitterPx       float64 `mapstructure:"jitter_px" yaml:"jitter_px"`
	MoveStepsMin   int     `mapstructure:"move_steps_min" yaml:"move_steps_min"`
	MoveStepsMax   int     `mapstructure:"move_steps_max" yaml:"move_steps_max"`
	PreClickMinMs  int     `mapstructure:"pre_click_min_ms" yaml:"pre_click_min_ms"`
	PreClickMaxMs  int     `mapstructure:"pre_click_max_ms" yaml:"pre_click_max_ms"`
	ClickHoldMinMs int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	// Keyboard
	KeyDelayMinMs    int     `mapstructure:"key_delay_min_ms" yaml:"key_delay_min_ms"`
	KeyDelayMaxMs    int     `mapstructure:"key_delay_max_ms" yaml:"key_delay_max_ms"`
	ExtraPauseProb   float64 `mapstructure:"extra_pause_prob" yaml:"extra_pause_prob"`
	ExtraPauseMinMs  int     `mapstructure:"extra_pause_min_ms" yaml:"extra_pause_min_ms"`
	ExtraPauseMaxMs  int     `mapstructure:"extra_pause_max_ms" yaml:"extra_pause_max_ms"`
	NoiseFrequencyHz float64 `mapstructure:"noise_frequency_hz" yaml:"noise_frequency_hz"`
}

// Ms converts a millisecond count to a duration.
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.seed", 0)
	v.SetDefault("browser.humanoid.jitter_px", 2.0)
	v.SetDefault("browser.humanoid.move_steps_min", 5)
	v.SetDefault("browser.humanoid.move_steps_max", 15)
	v.SetDefault("browser.humanoid.pre_click_min_ms", 50)
	v.SetDefault("browser.humanoid.pre_click_max_ms", 150)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 50)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 150)
	v.SetDefault("browser.humanoid.key_delay_min_ms", 30)
	v.SetDefault("browser.humanoid.key_delay_max_ms", 120)
	v.SetDefault("browser.humanoid.extra_pause_prob", 0.1)
	v.SetDefault("browser.humanoid.extra_pause_min_ms", 100)
	v.SetDefault("browser.humanoid.extra_pause_max_ms", 300)
	v.SetDefault("browser.humanoid.noise_frequency_hz", 0.8)
}

// DefaultHumanoidConfig returns the pacing defaults without going through viper.
func DefaultHumanoidConfig() HumanoidConfig {
	return NewDefaultConfig().BrowserCfg.Humanoid
}
