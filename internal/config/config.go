// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Security() SecurityConfig
	Challenge() ChallengeConfig
	Heal() HealConfig
	LLM() LLMRouterConfig
	Metrics() MetricsConfig

	// Agent Setters
	SetAgentMaxSteps(int)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDriver(string)
	SetBrowserHumanoidEnabled(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	AgentCfg     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	NetworkCfg   NetworkConfig   `mapstructure:"network" yaml:"network"`
	SecurityCfg  SecurityConfig  `mapstructure:"security" yaml:"security"`
	ChallengeCfg ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	HealCfg      HealConfig      `mapstructure:"heal" yaml:"heal"`
	LLMCfg       LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig     { return c.NetworkCfg }
func (c *Config) Security() SecurityConfig   { return c.SecurityCfg }
func (c *Config) Challenge() ChallengeConfig { return c.ChallengeCfg }
func (c *Config) Heal() HealConfig           { return c.HealCfg }
func (c *Config) LLM() LLMRouterConfig       { return c.LLMCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMaxSteps(n int)           { c.AgentCfg.MaxSteps = n }
func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDriver(d string)        { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHumanoidEnabled(b bool) { c.BrowserCfg.Humanoid.Enabled = b }

// LoggerConfig holds the configuration for the structured logger.
type LoggerConfig struct {
	Level         string      `mapstructure:"level" yaml:"level"`
	Format        string      `mapstructure:"format" yaml:"format"`
	AddSource     bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName   string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile       string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize       int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups    int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge        int         `mapstructure:"max_age" yaml:"max_age"`
	Compress      bool        `mapstructure:"compress" yaml:"compress"`
	RedactSecrets bool        `mapstructure:"redact_secrets" yaml:"redact_secrets"`
	Colors        ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxSteps               int           `mapstructure:"max_steps" yaml:"max_steps"`
	StepTimeout            time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	TotalTimeout           time.Duration `mapstructure:"total_timeout" yaml:"total_timeout"`
	AllowNavigation        bool          `mapstructure:"allow_navigation" yaml:"allow_navigation"`
	ScreenshotEveryStep    bool          `mapstructure:"screenshot_every_step" yaml:"screenshot_every_step"`
	VisionEnabled          bool          `mapstructure:"vision_enabled" yaml:"vision_enabled"`
	WaitAfterAction        time.Duration `mapstructure:"wait_after_action" yaml:"wait_after_action"`
	ContentBudget          int           `mapstructure:"content_budget" yaml:"content_budget"`
	CleanHTML              bool          `mapstructure:"clean_html" yaml:"clean_html"`
	HistoryWindow          int           `mapstructure:"history_window" yaml:"history_window"`
	ObservationEventWindow time.Duration `mapstructure:"observation_event_window" yaml:"observation_event_window"`
	PruneEvery             int           `mapstructure:"prune_every" yaml:"prune_every"`
	FillPostCheckDelay     time.Duration `mapstructure:"fill_post_check_delay" yaml:"fill_post_check_delay"`
	FillPostCheckWindow    time.Duration `mapstructure:"fill_post_check_window" yaml:"fill_post_check_window"`
	ScreenshotDir          string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// BrowserConfig holds settings for the browser instances.
type BrowserConfig struct {
	Driver            string         `mapstructure:"driver" yaml:"driver"` // "playwright" or "cdp"
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	DefaultTimeout    time.Duration  `mapstructure:"default_timeout" yaml:"default_timeout"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Locale            string         `mapstructure:"locale" yaml:"locale"`
	Timezone          string         `mapstructure:"timezone" yaml:"timezone"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	ProxyURL          string         `mapstructure:"proxy_url" yaml:"proxy_url"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// ViewportSize returns the configured width and height with fallbacks.
func (b BrowserConfig) ViewportSize() (int, int) {
	w, h := b.Viewport["width"], b.Viewport["height"]
	if w <= 0 {
		w = 1366
	}
	if h <= 0 {
		h = 768
	}
	return w, h
}

// NetworkConfig tunes the network correlator.
type NetworkConfig struct {
	RecordResponses      bool          `mapstructure:"record_responses" yaml:"record_responses"`
	MaxPayloadKB         int           `mapstructure:"max_payload_kb" yaml:"max_payload_kb"`
	VerifyBackendSuccess bool          `mapstructure:"verify_backend_success" yaml:"verify_backend_success"`
	Retention            time.Duration `mapstructure:"retention" yaml:"retention"`
}

// SecurityConfig feeds the safety validator.
type SecurityConfig struct {
	BlockFileDialogs        bool     `mapstructure:"block_file_dialogs" yaml:"block_file_dialogs"`
	BlockDownloads          bool     `mapstructure:"block_downloads" yaml:"block_downloads"`
	ConfirmSensitiveActions bool     `mapstructure:"confirm_sensitive_actions" yaml:"confirm_sensitive_actions"`
	BlockPrivateTargets     bool     `mapstructure:"block_private_targets" yaml:"block_private_targets"`
	AllowedDomains          []string `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	BlockedDomains          []string `mapstructure:"blocked_domains" yaml:"blocked_domains"`
}

// ChallengeConfig tunes CAPTCHA handling.
type ChallengeConfig struct {
	CheckboxSettle     time.Duration `mapstructure:"checkbox_settle" yaml:"checkbox_settle"`
	InterstitialBudget time.Duration `mapstructure:"interstitial_budget" yaml:"interstitial_budget"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	WaitOnContinue     bool          `mapstructure:"wait_on_continue" yaml:"wait_on_continue"`
	HumanWaitTimeout   time.Duration `mapstructure:"human_wait_timeout" yaml:"human_wait_timeout"`
}

// HealConfig bounds selector healing.
type HealConfig struct {
	ClickCandidates  int           `mapstructure:"click_candidates" yaml:"click_candidates"`
	FillCandidates   int           `mapstructure:"fill_candidates" yaml:"fill_candidates"`
	CandidateTimeout time.Duration `mapstructure:"candidate_timeout" yaml:"candidate_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini" // REST API
	ProviderGenAI  LLMProvider = "genai"  // google.golang.org/genai SDK
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	RequestsPerSecond    float64                   `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                int                       `mapstructure:"burst" yaml:"burst"`
	MaxRetries           int                       `mapstructure:"max_retries" yaml:"max_retries"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	ProxyURL      string            `mapstructure:"proxy_url" yaml:"proxy_url"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "atlas-cli")
	v.SetDefault("logger.log_file", "atlas.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.redact_secrets", true)

	// -- Agent --
	v.SetDefault("agent.max_steps", 30)
	v.SetDefault("agent.step_timeout", "30s")
	v.SetDefault("agent.total_timeout", "300s")
	v.SetDefault("agent.allow_navigation", true)
	v.SetDefault("agent.screenshot_every_step", true)
	v.SetDefault("agent.vision_enabled", true)
	v.SetDefault("agent.wait_after_action", "500ms")
	v.SetDefault("agent.content_budget", 50000)
	v.SetDefault("agent.clean_html", true)
	v.SetDefault("agent.history_window", 5)
	v.SetDefault("agent.observation_event_window", "5s")
	v.SetDefault("agent.prune_every", 10)
	v.SetDefault("agent.fill_post_check_delay", "500ms")
	v.SetDefault("agent.fill_post_check_window", "2s")
	v.SetDefault("agent.screenshot_dir", "")

	// -- Browser --
	v.SetDefault("browser.driver", "playwright")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.default_timeout", "15s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 768})
	v.SetDefault("browser.locale", "tr-TR")
	v.SetDefault("browser.timezone", "Europe/Istanbul")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.proxy_url", "")
	setHumanoidDefaults(v)

	// -- Network --
	v.SetDefault("network.record_responses", true)
	v.SetDefault("network.max_payload_kb", 256)
	v.SetDefault("network.verify_backend_success", true)
	v.SetDefault("network.retention", "300s")

	// -- Security --
	v.SetDefault("security.block_file_dialogs", true)
	v.SetDefault("security.block_downloads", true)
	v.SetDefault("security.confirm_sensitive_actions", true)
	v.SetDefault("security.block_private_targets", false)
	v.SetDefault("security.allowed_domains", []string{})
	v.SetDefault("security.blocked_domains", []string{})

	// -- Challenge --
	v.SetDefault("challenge.checkbox_settle", "2s")
	v.SetDefault("challenge.interstitial_budget", "30s")
	v.SetDefault("challenge.poll_interval", "1s")
	v.SetDefault("challenge.wait_on_continue", false)
	v.SetDefault("challenge.human_wait_timeout", "300s")

	// -- Heal --
	v.SetDefault("heal.click_candidates", 3)
	v.SetDefault("heal.fill_candidates", 10)
	v.SetDefault("heal.candidate_timeout", "2s")

	// -- LLM --
	// Model keys must not contain dots; viper treats them as nesting.
	v.SetDefault("llm.default_fast_model", "gemini-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-pro")
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 2)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.models", map[string]any{
		"gemini-flash": map[string]any{
			"provider":    "gemini",
			"model":       "gemini-2.5-flash",
			"api_timeout": "60s",
			"temperature": 0.3,
			"max_tokens":  500,
		},
		"gemini-pro": map[string]any{
			"provider":    "gemini",
			"model":       "gemini-2.5-pro",
			"api_timeout": "120s",
			"temperature": 0.3,
			"max_tokens":  500,
		},
	})

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("llm.gemini_api_key", "ATLAS_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("llm.openai_api_key", "ATLAS_OPENAI_API_KEY", "OPENAI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyProviderKeys(v.GetString("llm.gemini_api_key"), v.GetString("llm.openai_api_key"))

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyProviderKeys fills missing per-model API keys from the provider-level
// environment secrets.
func (c *Config) applyProviderKeys(geminiKey, openaiKey string) {
	for name, m := range c.LLMCfg.Models {
		if m.APIKey != "" {
			continue
		}
		switch m.Provider {
		case ProviderGemini, ProviderGenAI:
			m.APIKey = geminiKey
		case ProviderOpenAI:
			m.APIKey = openaiKey
		}
		c.LLMCfg.Models[name] = m
	}
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.AgentCfg.ScreenshotDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AgentCfg.MaxSteps < 1 || c.AgentCfg.MaxSteps > 100 {
		return fmt.Errorf("agent.max_steps must be between 1 and 100")
	}
	if c.AgentCfg.StepTimeout <= 0 || c.AgentCfg.TotalTimeout <= 0 {
		return fmt.Errorf("agent.step_timeout and agent.total_timeout must be positive durations")
	}
	switch strings.ToLower(c.BrowserCfg.Driver) {
	case "playwright", "cdp":
	default:
		return fmt.Errorf("browser.driver must be one of: playwright, cdp")
	}
	if c.NetworkCfg.MaxPayloadKB < 0 {
		return fmt.Errorf("network.max_payload_kb must not be negative")
	}
	if c.HealCfg.ClickCandidates < 0 || c.HealCfg.FillCandidates < 0 {
		return fmt.Errorf("heal candidate bounds must not be negative")
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the LLM router settings.
func (l *LLMRouterConfig) Validate() error {
	for _, name := range []string{l.DefaultFastModel, l.DefaultPowerfulModel} {
		if name == "" {
			return fmt.Errorf("default_fast_model and default_powerful_model are required")
		}
		if _, ok := l.Models[name]; !ok {
			return fmt.Errorf("model %q is not defined under llm.models", name)
		}
	}
	if l.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	return nil
}
