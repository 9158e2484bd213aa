// internal/safety/validator_test.go
package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

func newTestValidator(t *testing.T, p Policy) *Validator {
	t.Helper()
	return NewValidator(p, zaptest.NewLogger(t))
}

// -- Test Cases: Navigation --

func TestEvaluate_Navigation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		policy  Policy
		target  string
		current string
		want    Decision
	}{
		{
			name:    "same host allowed",
			policy:  DefaultPolicy(),
			target:  "https://example.com/login",
			current: "https://example.com/",
			want:    Decision{Verdict: Allow},
		},
		{
			name:    "cross origin allowed by default",
			policy:  DefaultPolicy(),
			target:  "https://other.org/",
			current: "https://example.com/",
			want:    Decision{Verdict: Allow},
		},
		{
			name:    "cross origin denied when navigation is off",
			policy:  Policy{AllowNavigation: false},
			target:  "https://other.org/",
			current: "https://example.com/",
			want:    Decision{Verdict: Deny, Reason: "Cross-origin navigation not allowed"},
		},
		{
			name:    "first navigation has no origin",
			policy:  Policy{AllowNavigation: false},
			target:  "https://other.org/",
			current: "about:blank",
			want:    Decision{Verdict: Allow},
		},
		{
			name:    "allow list miss",
			policy:  Policy{AllowNavigation: true, AllowedDomains: []string{"example.com"}},
			target:  "https://evil.net/",
			current: "https://example.com/",
			want:    Decision{Verdict: Deny, Reason: "Domain evil.net not in allowed list"},
		},
		{
			name:    "allow list subdomain hit",
			policy:  Policy{AllowNavigation: true, AllowedDomains: []string{"example.com"}},
			target:  "https://app.example.com/",
			current: "https://example.com/",
			want:    Decision{Verdict: Allow},
		},
		{
			name:    "block list hit",
			policy:  Policy{AllowNavigation: true, BlockedDomains: []string{"ads.example.com"}},
			target:  "https://ads.example.com/x",
			current: "https://example.com/",
			want:    Decision{Verdict: Deny, Reason: "Domain ads.example.com is blocked"},
		},
		{
			name:    "relative url rejected",
			policy:  DefaultPolicy(),
			target:  "/just/a/path",
			current: "https://example.com/",
			want:    Decision{Verdict: Deny, Reason: "Invalid URL format"},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := newTestValidator(t, tt.policy)
			got := v.Evaluate(schemas.GotoAction{URL: tt.target}, tt.current)
			assert.Equal(t, tt.want, got)
		})
	}
}

// -- Test Cases: Clicks --

func TestEvaluate_Click(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		policy   Policy
		selector string
		verdict  Verdict
		reason   string
	}{
		{"plain button", DefaultPolicy(), "button#next", Allow, ""},
		{"file input denied", DefaultPolicy(), "input[type=file]", Deny, "File dialog actions are blocked"},
		{"upload denied", DefaultPolicy(), "#Upload-Avatar", Deny, "File dialog actions are blocked"},
		{"file allowed when dialogs permitted", Policy{ConfirmSensitiveActions: true}, "#upload", Allow, ""},
		{"checkout needs confirmation", DefaultPolicy(), "button.checkout", NeedsConfirmation, "Payment actions require manual confirmation"},
		{"buy now with space", DefaultPolicy(), "text=Buy Now", NeedsConfirmation, "Payment actions require manual confirmation"},
		{"delete needs confirmation", DefaultPolicy(), "button.delete-account", NeedsConfirmation, "Deletion actions require manual confirmation"},
		{"clear all", DefaultPolicy(), "#clear all", NeedsConfirmation, "Deletion actions require manual confirmation"},
		{"sensitive allowed when confirmation off", Policy{BlockFileDialogs: true}, "button.delete", Allow, ""},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := newTestValidator(t, tt.policy)
			got := v.Evaluate(schemas.ClickAction{Selector: tt.selector}, "https://example.com/")
			assert.Equal(t, tt.verdict, got.Verdict)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.verdict == Allow, got.Allowed())
		})
	}
}

// -- Test Cases: Fills --

func TestEvaluate_Fill(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		value   string
		verdict Verdict
		reason  string
	}{
		{"ordinary text", "hello world", Allow, ""},
		{"email", "user@example.com", Allow, ""},
		{"card digits", "4111111111111111", NeedsConfirmation, "Credit card input requires manual confirmation"},
		{"card with spaces", "4111 1111 1111 1111", NeedsConfirmation, "Credit card input requires manual confirmation"},
		{"card with dashes", "4111-1111-1111-1111", NeedsConfirmation, "Credit card input requires manual confirmation"},
		{"too short for card", "411111111111", Allow, ""},
		{"ssn", "123-45-6789", NeedsConfirmation, "SSN input requires manual confirmation"},
		{"ssn without dashes is nine digits", "123456789", Allow, ""},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := newTestValidator(t, DefaultPolicy())
			got := v.Evaluate(schemas.FillAction{Selector: "#f", Value: tt.value}, "https://example.com/")
			assert.Equal(t, tt.verdict, got.Verdict)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}

	t.Run("confirmation off allows card", func(t *testing.T) {
		t.Parallel()
		v := newTestValidator(t, Policy{})
		got := v.Evaluate(schemas.FillAction{Selector: "#cc", Value: "4111111111111111"}, "")
		assert.True(t, got.Allowed())
	})
}

func TestEvaluate_OtherActionsAllowed(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t, Policy{})
	for _, a := range []schemas.Action{
		schemas.PressAction{Key: "Enter"},
		schemas.SelectAction{Selector: "#delete-mode", Value: "x"},
		schemas.WaitForSelectorAction{Selector: "#upload", TimeoutMs: 1000},
		schemas.AssertURLIncludesAction{Value: "checkout"},
		schemas.DoneAction{Summary: "done"},
	} {
		assert.True(t, v.Evaluate(a, "https://example.com/").Allowed(), schemas.DescribeAction(a))
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SecurityCfg.AllowedDomains = []string{"example.com"}
	p := PolicyFromConfig(cfg.AgentCfg, cfg.SecurityCfg)
	assert.Equal(t, cfg.AgentCfg.AllowNavigation, p.AllowNavigation)
	assert.Equal(t, cfg.SecurityCfg.BlockFileDialogs, p.BlockFileDialogs)
	assert.Equal(t, cfg.SecurityCfg.ConfirmSensitiveActions, p.ConfirmSensitiveActions)
	assert.Equal(t, []string{"example.com"}, p.AllowedDomains)
}

func TestIsSafeURL(t *testing.T) {
	t.Parallel()
	testCases := map[string]bool{
		"https://example.com/":       true,
		"http://93.184.216.34/":      true,
		"ftp://example.com/":         false,
		"javascript:alert(1)":        false,
		"http://localhost:8080/":     false,
		"http://app.localhost/":      false,
		"http://127.0.0.1/":          false,
		"http://10.0.0.5/":           false,
		"http://192.168.1.1/":        false,
		"http://169.254.169.254/":    false,
		"http://[::1]/":              false,
		"http://0.0.0.0/":            false,
		"not a url at all":           false,
		"https://sub.example.org/ok": true,
	}
	for raw, want := range testCases {
		assert.Equal(t, want, IsSafeURL(raw), raw)
	}
}

// -- Test Cases: Properties --

func TestEvaluate_Properties(t *testing.T) {
	t.Run("payment keywords never pass silently", func(t *testing.T) {
		v := NewValidator(DefaultPolicy(), nil)
		rapid.Check(t, func(rt *rapid.T) {
			kw := rapid.SampledFrom([]string{"payment", "checkout", "purchase", "buy now", "place order", "pay now"}).Draw(rt, "kw")
			prefix := rapid.StringMatching(`[a-z#.\-]{0,8}`).Draw(rt, "prefix")
			sel := prefix + strings.ToUpper(kw[:1]) + kw[1:]
			if matchesAny(filePatterns, sel) {
				rt.Skip("selector also matches a file pattern")
			}
			d := v.Evaluate(schemas.ClickAction{Selector: sel}, "")
			if d.Verdict != NeedsConfirmation {
				rt.Fatalf("selector %q got %v", sel, d)
			}
		})
	})

	t.Run("disabled policy allows any click and fill", func(t *testing.T) {
		v := NewValidator(Policy{}, nil)
		rapid.Check(t, func(rt *rapid.T) {
			s := rapid.String().Draw(rt, "s")
			if !v.Evaluate(schemas.ClickAction{Selector: s}, "").Allowed() {
				rt.Fatalf("click %q denied", s)
			}
			if !v.Evaluate(schemas.FillAction{Selector: "#x", Value: s}, "").Allowed() {
				rt.Fatalf("fill %q denied", s)
			}
		})
	})

	t.Run("any digit run of card length needs confirmation", func(t *testing.T) {
		v := NewValidator(DefaultPolicy(), nil)
		rapid.Check(t, func(rt *rapid.T) {
			digits := rapid.StringMatching(`[0-9]{13,19}`).Draw(rt, "digits")
			if v.Evaluate(schemas.FillAction{Selector: "#cc", Value: digits}, "").Verdict != NeedsConfirmation {
				rt.Fatalf("card %q allowed", digits)
			}
		})
	})
}
