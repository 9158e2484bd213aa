// internal/safety/validator.go
package safety

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

// Verdict is the outcome of a policy check.
type Verdict string

const (
	Allow             Verdict = "allow"
	Deny              Verdict = "deny"
	NeedsConfirmation Verdict = "needs_confirmation"
)

// Decision is a verdict plus the reason for anything other than Allow.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Allowed reports whether the action may run without a human.
func (d Decision) Allowed() bool { return d.Verdict == Allow }

func allow() Decision                          { return Decision{Verdict: Allow} }
func deny(reason string) Decision              { return Decision{Verdict: Deny, Reason: reason} }
func needsConfirmation(reason string) Decision { return Decision{Verdict: NeedsConfirmation, Reason: reason} }

// Policy is the subset of configuration the validator reads.
type Policy struct {
	AllowNavigation         bool
	BlockFileDialogs        bool
	ConfirmSensitiveActions bool
	AllowedDomains          []string
	BlockedDomains          []string
}

// PolicyFromConfig assembles a Policy from the agent and security sections.
func PolicyFromConfig(agent config.AgentConfig, sec config.SecurityConfig) Policy {
	return Policy{
		AllowNavigation:         agent.AllowNavigation,
		BlockFileDialogs:        sec.BlockFileDialogs,
		ConfirmSensitiveActions: sec.ConfirmSensitiveActions,
		AllowedDomains:          sec.AllowedDomains,
		BlockedDomains:          sec.BlockedDomains,
	}
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{AllowNavigation: true, BlockFileDialogs: true, ConfirmSensitiveActions: true}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

var (
	paymentPatterns = compileAll(
		`payment`, `checkout`, `purchase`, `buy\s*now`,
		`place\s*order`, `confirm\s*order`, `submit\s*payment`, `pay\s*now`,
	)
	deletionPatterns = compileAll(
		`delete`, `remove`, `destroy`, `erase`, `clear\s*all`, `permanently`,
	)
	filePatterns = compileAll(
		`upload`, `file`, `attachment`, `browse`, `choose\s*file`,
	)

	creditCardPattern = regexp.MustCompile(`^\d{13,19}$`)
	ssnPattern        = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	cardSeparators    = strings.NewReplacer(" ", "", "-", "")
)

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Validator applies the safety policy to proposed actions. It holds no
// mutable state.
type Validator struct {
	policy Policy
	logger *zap.Logger
}

// NewValidator creates a validator for policy.
func NewValidator(policy Policy, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{policy: policy, logger: logger.Named("safety")}
}

// Evaluate decides whether action may run on a page currently at currentURL.
func (v *Validator) Evaluate(action schemas.Action, currentURL string) Decision {
	switch a := action.(type) {
	case schemas.GotoAction:
		return v.evaluateNavigation(a.URL, currentURL)
	case schemas.ClickAction:
		return v.evaluateClick(a.Selector)
	case schemas.FillAction:
		return v.evaluateFill(a.Value)
	default:
		return allow()
	}
}

func (v *Validator) evaluateNavigation(target, current string) Decision {
	t, err := url.Parse(target)
	if err != nil || t.Host == "" {
		return deny("Invalid URL format")
	}
	targetHost := strings.ToLower(t.Hostname())

	currentHost := ""
	if c, err := url.Parse(current); err == nil {
		currentHost = strings.ToLower(c.Hostname())
	}
	crossOrigin := currentHost != "" && currentHost != targetHost

	if crossOrigin && !v.policy.AllowNavigation {
		return deny("Cross-origin navigation not allowed")
	}
	if len(v.policy.AllowedDomains) > 0 && !domainListed(targetHost, v.policy.AllowedDomains) {
		return deny(fmt.Sprintf("Domain %s not in allowed list", targetHost))
	}
	if domainListed(targetHost, v.policy.BlockedDomains) {
		return deny(fmt.Sprintf("Domain %s is blocked", targetHost))
	}
	if crossOrigin {
		v.logger.Warn("Navigating to a different host.",
			zap.String("from", currentHost), zap.String("to", targetHost))
	}
	return allow()
}

// domainListed matches host against entries exactly or as a subdomain.
func domainListed(host string, list []string) bool {
	for _, d := range list {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (v *Validator) evaluateClick(selector string) Decision {
	if v.policy.BlockFileDialogs && matchesAny(filePatterns, selector) {
		return deny("File dialog actions are blocked")
	}
	if !v.policy.ConfirmSensitiveActions {
		return allow()
	}
	if matchesAny(paymentPatterns, selector) {
		return needsConfirmation("Payment actions require manual confirmation")
	}
	if matchesAny(deletionPatterns, selector) {
		return needsConfirmation("Deletion actions require manual confirmation")
	}
	return allow()
}

func (v *Validator) evaluateFill(value string) Decision {
	if !v.policy.ConfirmSensitiveActions {
		return allow()
	}
	if creditCardPattern.MatchString(cardSeparators.Replace(value)) {
		return needsConfirmation("Credit card input requires manual confirmation")
	}
	if ssnPattern.MatchString(value) {
		return needsConfirmation("SSN input requires manual confirmation")
	}
	return allow()
}

// IsSafeURL reports whether raw is an http(s) URL that does not point at the
// local machine or a private network.
func IsSafeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false
		}
	}
	return true
}
