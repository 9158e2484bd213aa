// internal/challenge/detector.go
package challenge

import (
	"context"
	_ "embed"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

//go:embed js_scripts/interstitial_check.js
var interstitialCheckScript string

//go:embed js_scripts/interstitial_host.js
var interstitialHostScript string

// Kind names a challenge family.
type Kind string

const (
	KindRecaptcha  Kind = "recaptcha"
	KindHCaptcha   Kind = "hcaptcha"
	KindCloudflare Kind = "cloudflare"
	KindGeneric    Kind = "generic"
)

// Detection describes what the detector found. The zero value means no
// challenge.
type Detection struct {
	Present       bool
	Kind          Kind
	Selector      string
	SiteKey       string
	HasImages     bool
	ImageCount    int
	HasInput      bool
	InputSelector string
	TextPattern   string
}

type signature struct {
	selector string
	kind     Kind
}

// signatures are checked in order; the first present one wins.
var signatures = []signature{
	{`iframe[src*="recaptcha"]`, KindRecaptcha},
	{`div.g-recaptcha`, KindRecaptcha},
	{`#g-recaptcha`, KindRecaptcha},
	{`[data-sitekey]`, KindRecaptcha},
	{`iframe[src*="hcaptcha"]`, KindHCaptcha},
	{`div.h-captcha`, KindHCaptcha},
	{`[data-hcaptcha-sitekey]`, KindHCaptcha},
	{`div.cf-challenge`, KindCloudflare},
	{`#cf-challenge-running`, KindCloudflare},
	{`div.challenge-form`, KindCloudflare},
	{`img[alt*="captcha" i]`, KindGeneric},
	{`img[src*="captcha" i]`, KindGeneric},
	{`div[class*="captcha" i]`, KindGeneric},
	{`form[class*="captcha" i]`, KindGeneric},
	{`label[for*="captcha" i]`, KindGeneric},
	{`input[name*="captcha" i]`, KindGeneric},
	{`input[placeholder*="captcha" i]`, KindGeneric},
}

var textPatterns = []string{
	"verify you are human",
	"i am not a robot",
	"i'm not a robot",
	"complete the captcha",
	"enter the code",
	"security check",
	"verification required",
	"prove you're not a robot",
	"select all images",
}

var interstitialTitles = []string{"just a moment", "checking your browser"}

// Detector finds CAPTCHAs and bot-check interstitials on a page.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a Detector.
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger.Named("challenge_detector")}
}

// Detect runs the structural, textual and interstitial checks in that order.
// Individual check failures are skipped; only cancellation is returned as an
// error.
func (d *Detector) Detect(ctx context.Context, page schemas.Page) (Detection, error) {
	for _, sig := range signatures {
		if err := ctx.Err(); err != nil {
			return Detection{}, err
		}
		n, err := page.Locate(sig.selector).Count(ctx)
		if err != nil {
			d.logger.Debug("Signature check failed.", zap.String("selector", sig.selector), zap.Error(err))
			continue
		}
		if n > 0 {
			det := d.describe(ctx, page, sig)
			d.logger.Info("Challenge detected.", zap.String("kind", string(det.Kind)), zap.String("selector", sig.selector))
			return det, nil
		}
	}

	if content, err := page.Content(ctx); err == nil {
		lower := strings.ToLower(content)
		for _, p := range textPatterns {
			if strings.Contains(lower, p) {
				d.logger.Info("Challenge detected via text pattern.", zap.String("pattern", p))
				return Detection{Present: true, Kind: KindGeneric, TextPattern: p}, nil
			}
		}
	} else {
		d.logger.Debug("Could not read content for challenge text.", zap.Error(err))
	}

	if d.isInterstitial(ctx, page) {
		d.logger.Info("Interstitial challenge detected.")
		return Detection{Present: true, Kind: KindCloudflare}, nil
	}
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}
	return Detection{}, nil
}

// describe collects the metadata the handler uses.
func (d *Detector) describe(ctx context.Context, page schemas.Page, sig signature) Detection {
	det := Detection{Present: true, Kind: sig.kind, Selector: sig.selector}

	if sig.kind == KindRecaptcha || sig.kind == KindHCaptcha {
		keyed := page.Locate("[data-sitekey], [data-hcaptcha-sitekey]").First()
		if n, err := keyed.Count(ctx); err == nil && n > 0 {
			for _, attr := range []string{"data-sitekey", "data-hcaptcha-sitekey"} {
				if v, ok, err := keyed.Attribute(ctx, attr); err == nil && ok && v != "" {
					det.SiteKey = v
					break
				}
			}
		}
	}

	if n, err := page.Locate(sig.selector + " img").Count(ctx); err == nil && n > 0 {
		det.HasImages = true
		det.ImageCount = n
	}

	input := sig.selector + ` input[type="text"]`
	if n, err := page.Locate(input).Count(ctx); err == nil && n > 0 {
		det.HasInput = true
		det.InputSelector = input
	}
	return det
}

func (d *Detector) isInterstitial(ctx context.Context, page schemas.Page) bool {
	if title, err := page.Title(ctx); err == nil && titleIsInterstitial(title) {
		return true
	}
	v, err := page.Evaluate(ctx, interstitialCheckScript)
	if err != nil {
		d.logger.Debug("Interstitial check failed.", zap.Error(err))
		return false
	}
	hit, _ := v.(bool)
	return hit
}

func titleIsInterstitial(title string) bool {
	lower := strings.ToLower(title)
	for _, t := range interstitialTitles {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
