// internal/challenge/handler.go
package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/atlas-cli/internal/config"
	"github.com/xkilldash9x/atlas-cli/internal/metrics"
)

// Failure reasons. All but the checkbox lookups carry the human
// intervention marker.
const (
	ReasonDefault          = "CAPTCHA requires human intervention"
	ReasonRecaptchaImages  = "reCAPTCHA image challenge requires human intervention"
	ReasonRecaptchaMissing = "Could not find reCAPTCHA checkbox"
	ReasonHCaptchaImages   = "hCaptcha image challenge requires human intervention"
	ReasonHCaptchaMissing  = "Could not find hCaptcha checkbox"
	ReasonInterstitial     = "Cloudflare challenge timeout; requires human intervention"
	ReasonComplex          = "Complex CAPTCHA requires human intervention"
	ReasonGeneric          = "Generic CAPTCHA requires human intervention"
)

// VisionPrompt asks the vision model for a bare answer.
const VisionPrompt = `Look at this image. If you see a CAPTCHA:
1. If it's a simple math problem or text to copy, tell me the answer
2. If it's asking to click something specific, describe what to click
3. If it's an image selection task, describe what needs to be selected

Respond with ONLY the answer or action needed, nothing else.`

const humanPollInterval = 2 * time.Second

var submitSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`button:has-text("submit")`,
	`button:has-text("verify")`,
	`button:has-text("continue")`,
}

// ImageAnalyzer answers a prompt about a screenshot. schemas.Oracle
// satisfies it.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, png []byte, prompt string) (string, error)
}

// Options controls handler timing.
type Options struct {
	VisionEnabled      bool
	CheckboxSettle     time.Duration
	InterstitialBudget time.Duration
	PollInterval       time.Duration
}

// OptionsFromConfig reads Options from the agent and challenge sections.
func OptionsFromConfig(cfg config.Interface) Options {
	c := cfg.Challenge()
	return Options{
		VisionEnabled:      cfg.Agent().VisionEnabled,
		CheckboxSettle:     c.CheckboxSettle,
		InterstitialBudget: c.InterstitialBudget,
		PollInterval:       c.PollInterval,
	}
}

// Handler makes one bounded attempt to clear a detected challenge.
type Handler struct {
	detector *Detector
	vision   ImageAnalyzer
	pacer    *humanoid.Humanoid
	metrics  *metrics.Collector
	opts     Options
	logger   *zap.Logger
	sleep    humanoid.SleepFunc
}

// NewHandler creates a Handler. vision, pacer and collector may be nil.
func NewHandler(logger *zap.Logger, opts Options, vision ImageAnalyzer, pacer *humanoid.Humanoid, collector *metrics.Collector) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pacer == nil {
		pacer = humanoid.New(config.HumanoidConfig{}, logger)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Handler{
		detector: NewDetector(logger),
		vision:   vision,
		pacer:    pacer,
		metrics:  collector,
		opts:     opts,
		logger:   logger.Named("challenge"),
		sleep:    sleepCtx,
	}
}

// WithSleep replaces the wait function. Tests use it to skip real delays.
func (h *Handler) WithSleep(fn humanoid.SleepFunc) *Handler {
	h.sleep = fn
	return h
}

// Detector returns the handler's detector.
func (h *Handler) Detector() *Detector { return h.detector }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handle detects and tries to clear a challenge. It reports ok when the page
// is clear. screenshot may be nil; one is taken when vision needs it.
func (h *Handler) Handle(ctx context.Context, page schemas.Page, screenshot []byte) (bool, string) {
	det, err := h.detector.Detect(ctx, page)
	if err != nil {
		return false, err.Error()
	}
	if !det.Present {
		return true, ""
	}

	h.logger.Info("Attempting to clear challenge.", zap.String("kind", string(det.Kind)))
	var ok bool
	var reason string
	switch det.Kind {
	case KindRecaptcha:
		ok, reason = h.recaptcha(ctx, page)
	case KindHCaptcha:
		ok, reason = h.hcaptcha(ctx, page)
	case KindCloudflare:
		ok, reason = h.interstitial(ctx, page)
	default:
		ok, reason = h.generic(ctx, page, det, screenshot)
	}

	h.metrics.ChallengeHandled(string(det.Kind), ok)
	if ok {
		h.logger.Info("Challenge cleared.", zap.String("kind", string(det.Kind)))
	} else {
		h.logger.Warn("Challenge not cleared.", zap.String("kind", string(det.Kind)), zap.String("reason", reason))
	}
	return ok, reason
}

// framesMatching returns frames whose URL contains fragment.
func framesMatching(ctx context.Context, page schemas.Page, fragment string) ([]schemas.Frame, error) {
	frames, err := page.Frames(ctx)
	if err != nil {
		return nil, err
	}
	var out []schemas.Frame
	for _, f := range frames {
		if strings.Contains(f.URL(), fragment) {
			out = append(out, f)
		}
	}
	return out, nil
}

// present reports whether loc matches at least one element.
func present(ctx context.Context, loc schemas.Locator) bool {
	n, err := loc.Count(ctx)
	return err == nil && n > 0
}

func (h *Handler) clickFirst(ctx context.Context, page schemas.Page, loc schemas.Locator) error {
	return h.pacer.Click(ctx, page, loc.First())
}

// -- reCAPTCHA --

func (h *Handler) recaptcha(ctx context.Context, page schemas.Page) (bool, string) {
	frames, err := framesMatching(ctx, page, "recaptcha")
	if err != nil {
		return false, fmt.Sprintf("Could not list frames: %v", err)
	}
	for _, f := range frames {
		box := f.Locate("div.recaptcha-checkbox-border")
		if !present(ctx, box) {
			continue
		}
		if err := h.clickFirst(ctx, page, box); err != nil {
			h.logger.Debug("Checkbox click failed.", zap.String("frame", f.URL()), zap.Error(err))
			continue
		}
		h.logger.Info("Clicked reCAPTCHA checkbox.")
		if err := h.sleep(ctx, h.opts.CheckboxSettle); err != nil {
			return false, err.Error()
		}

		challenges, err := framesMatching(ctx, page, "recaptcha/api2/bframe")
		if err != nil {
			return false, fmt.Sprintf("Could not list frames: %v", err)
		}
		for _, bf := range challenges {
			if present(ctx, bf.Locate("div.rc-imageselect")) {
				return false, ReasonRecaptchaImages
			}
		}
		return true, ""
	}

	main := page.Locate("div.g-recaptcha, #g-recaptcha")
	if present(ctx, main) {
		if err := h.clickFirst(ctx, page, main); err != nil {
			return false, err.Error()
		}
		if err := h.sleep(ctx, h.opts.CheckboxSettle); err != nil {
			return false, err.Error()
		}
		return true, ""
	}
	return false, ReasonRecaptchaMissing
}

// -- hCaptcha --

func (h *Handler) hcaptcha(ctx context.Context, page schemas.Page) (bool, string) {
	frames, err := framesMatching(ctx, page, "hcaptcha")
	if err != nil {
		return false, fmt.Sprintf("Could not list frames: %v", err)
	}
	scopes := []interface {
		Locate(string) schemas.Locator
	}{page}
	for _, f := range frames {
		scopes = append(scopes, f)
	}

	clicked := false
	for _, s := range scopes {
		box := s.Locate(`div[class*="hcaptcha-box"]`)
		if !present(ctx, box) {
			continue
		}
		if err := h.clickFirst(ctx, page, box); err != nil {
			return false, err.Error()
		}
		clicked = true
		break
	}
	if !clicked {
		return false, ReasonHCaptchaMissing
	}
	h.logger.Info("Clicked hCaptcha checkbox.")
	if err := h.sleep(ctx, h.opts.CheckboxSettle); err != nil {
		return false, err.Error()
	}
	for _, s := range scopes {
		if present(ctx, s.Locate(`div[class*="challenge-container"]`)) {
			return false, ReasonHCaptchaImages
		}
	}
	return true, ""
}

// -- Interstitial --

func (h *Handler) interstitial(ctx context.Context, page schemas.Page) (bool, string) {
	h.logger.Info("Waiting for interstitial to clear.", zap.Duration("budget", h.opts.InterstitialBudget))
	for waited := time.Duration(0); waited < h.opts.InterstitialBudget; waited += h.opts.PollInterval {
		title, err := page.Title(ctx)
		if err == nil && !strings.Contains(strings.ToLower(title), "just a moment") {
			v, evalErr := page.Evaluate(ctx, interstitialHostScript)
			onHost, _ := v.(bool)
			if evalErr == nil && !onHost {
				return true, ""
			}
		}
		if err := h.sleep(ctx, h.opts.PollInterval); err != nil {
			return false, err.Error()
		}
	}
	return false, ReasonInterstitial
}

// -- Generic --

func (h *Handler) generic(ctx context.Context, page schemas.Page, det Detection, screenshot []byte) (bool, string) {
	if !h.opts.VisionEnabled || h.vision == nil {
		return false, ReasonGeneric
	}
	if len(screenshot) == 0 {
		png, err := page.Screenshot(ctx)
		if err != nil {
			return false, fmt.Sprintf("Screenshot failed: %v", err)
		}
		screenshot = png
	}

	answer, err := h.vision.AnalyzeImage(ctx, screenshot, VisionPrompt)
	if err != nil {
		h.logger.Warn("Vision analysis failed.", zap.Error(err))
		return false, ReasonGeneric
	}
	answer = strings.TrimSpace(answer)
	h.logger.Info("Vision model answered challenge.", zap.Int("answer_length", len(answer)))

	if det.HasInput && answer != "" {
		if ok := h.submitAnswer(ctx, page, det.InputSelector, answer); ok {
			return true, ""
		}
	}
	if strings.Contains(strings.ToLower(answer), "click") {
		return false, ReasonComplex
	}
	return false, ReasonGeneric
}

// submitAnswer types answer, clicks the first submit control and reports
// whether the challenge is gone afterwards.
func (h *Handler) submitAnswer(ctx context.Context, page schemas.Page, inputSelector, answer string) bool {
	input := page.Locate(inputSelector).First()
	if err := input.Clear(ctx); err != nil {
		h.logger.Debug("Could not clear challenge input.", zap.Error(err))
		return false
	}
	if err := h.pacer.Type(ctx, input, answer); err != nil {
		h.logger.Debug("Could not type challenge answer.", zap.Error(err))
		return false
	}

	for _, sel := range submitSelectors {
		btn := page.Locate(sel)
		if !present(ctx, btn) {
			continue
		}
		if err := h.clickFirst(ctx, page, btn); err != nil {
			h.logger.Debug("Submit click failed.", zap.String("selector", sel), zap.Error(err))
			return false
		}
		if err := h.sleep(ctx, h.opts.CheckboxSettle); err != nil {
			return false
		}
		det, err := h.detector.Detect(ctx, page)
		return err == nil && !det.Present
	}
	return false
}

// WaitForHuman polls detection every two seconds until the page is clear or
// timeout elapses. It reports whether the challenge cleared.
func (h *Handler) WaitForHuman(ctx context.Context, page schemas.Page, timeout time.Duration) (bool, error) {
	h.logger.Info("Waiting for operator to clear challenge.", zap.Duration("timeout", timeout))
	for waited := time.Duration(0); waited < timeout; waited += humanPollInterval {
		det, err := h.detector.Detect(ctx, page)
		if err != nil {
			return false, err
		}
		if !det.Present {
			h.logger.Info("Challenge cleared by operator.")
			return true, nil
		}
		if err := h.sleep(ctx, humanPollInterval); err != nil {
			return false, err
		}
	}
	h.logger.Warn("Timed out waiting for operator.")
	return false, nil
}
