// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/internal/browser/shim"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

// PersonaPlaceholder is replaced in the evasions template with the persona JSON.
const PersonaPlaceholder = "/*{{ATLAS_PERSONA}}*/"

//go:embed evasions.js
var evasionsTemplate string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent     string   `json:"user_agent"`
	Platform      string   `json:"platform"`
	Languages     []string `json:"languages"`
	Timezone      string   `json:"timezone"`
	Locale        string   `json:"locale"`
	WebGLVendor   string   `json:"webgl_vendor,omitempty"`
	WebGLRenderer string   `json:"webgl_renderer,omitempty"`
}

// DefaultPersona provides a realistic default browser profile.
var DefaultPersona = Persona{
	UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:      "Win32",
	Languages:     []string{"en-US", "en"},
	Timezone:      "America/Los_Angeles",
	Locale:        "en-US",
	WebGLVendor:   "Google Inc. (Intel)",
	WebGLRenderer: "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
}

// PersonaFromConfig overlays the configured user agent, locale and timezone
// on DefaultPersona.
func PersonaFromConfig(cfg config.BrowserConfig) Persona {
	p := DefaultPersona
	p.Languages = append([]string(nil), DefaultPersona.Languages...)
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Timezone != "" {
		p.Timezone = cfg.Timezone
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
		p.Languages = []string{cfg.Locale}
		if base, _, ok := strings.Cut(cfg.Locale, "-"); ok && base != "" {
			p.Languages = append(p.Languages, base)
		}
	}
	return p
}

// AcceptLanguage renders the Accept-Language header for the persona's
// languages with descending quality values.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return ""
	}
	parts := []string{p.Languages[0]}
	q := 9
	for _, l := range p.Languages[1:] {
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", l, q))
		if q > 1 {
			q--
		}
	}
	return strings.Join(parts, ",")
}

// Script renders the evasions script with the persona embedded.
func (p Persona) Script() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return shim.BuildScript(evasionsTemplate, PersonaPlaceholder, string(raw))
}

// Apply builds the CDP actions that make a headless tab look like a
// user-operated browser. Run it on a fresh target before navigating.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona.",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(p.AcceptLanguage()),
		// AddScriptToEvaluateOnNewDocument returns an identifier as well as an
		// error, so it does not satisfy chromedp.Action directly.
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := p.Script()
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if al := p.AcceptLanguage(); al != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": al}))
	}
	return tasks
}
