// internal/executor/healing.go
package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// attrPattern captures the value of an attribute that healing can reuse.
var attrPattern = regexp.MustCompile(`\[\s*(name|id|placeholder|aria-label|data-testid)\s*[*^$~|]?=\s*(?:'([^']*)'|"([^"]*)"|([^\]\s]+))\s*\]`)

var idPattern = regexp.MustCompile(`^#([A-Za-z][\w-]*)$`)

// attributeValue returns the first healable attribute value carried by selector.
func attributeValue(selector string) (string, bool) {
	if m := attrPattern.FindStringSubmatch(selector); m != nil {
		for _, v := range m[2:] {
			if v != "" {
				return v, true
			}
		}
	}
	if m := idPattern.FindStringSubmatch(strings.TrimSpace(selector)); m != nil {
		return m[1], true
	}
	return "", false
}

// textValue returns X for a text=X selector, unquoted.
func textValue(selector string) (string, bool) {
	if !strings.HasPrefix(selector, "text=") {
		return "", false
	}
	v := strings.Trim(strings.TrimPrefix(selector, "text="), `"'`)
	return v, v != ""
}

var emailFamily = []string{
	"input[type='email']",
	"input[type='text'][placeholder*='email' i]",
	"input[type='text'][placeholder*='e-posta' i]",
	"input[type='text'][placeholder*='mail' i]",
	"input[aria-label*='email' i]",
	"input[aria-label*='e-posta' i]",
	"input[id*='email']",
	"input[id*='mail']",
	"input[name*='email']",
	"input[name*='mail']",
}

var passwordFamily = []string{
	"input[type='password']",
	"input[placeholder*='password' i]",
	"input[placeholder*='şifre' i]",
	"input[aria-label*='password' i]",
	"input[aria-label*='şifre' i]",
	"input[id*='password']",
	"input[id*='pass']",
	"input[name*='password']",
	"input[name*='pass']",
}

// relaxed builds the text relaxations plus the :visible and nth=0 forms.
func relaxed(selector string) []string {
	var out []string
	if text, ok := textValue(selector); ok {
		out = append(out,
			fmt.Sprintf("text=/%s/i", regexp.QuoteMeta(text)),
			fmt.Sprintf(`:has-text("%s")`, text),
			fmt.Sprintf(`role=button[name="%s"]`, text),
			fmt.Sprintf(`role=link[name="%s"]`, text),
			fmt.Sprintf(`[aria-label="%s"]`, text),
		)
	}
	return append(out, selector+":visible", selector+" >> nth=0")
}

// ClickCandidates returns at most limit alternatives for a click selector.
// The order is deterministic and the original selector is never included.
func ClickCandidates(selector string, limit int) []string {
	var all []string
	if v, ok := attributeValue(selector); ok {
		all = append(all,
			fmt.Sprintf("[name='%s']", v),
			fmt.Sprintf(`[name="%s"]`, v),
			fmt.Sprintf("[placeholder*='%s']", v),
			fmt.Sprintf("[aria-label*='%s']", v),
			fmt.Sprintf("[id*='%s']", v),
			"text="+v,
		)
	}
	all = append(all, relaxed(selector)...)
	return bound(dedupe(selector, all), limit)
}

// FillCandidates returns at most limit alternatives for a fill selector.
func FillCandidates(selector, value string, limit int) []string {
	var all []string
	if v, ok := attributeValue(selector); ok {
		all = append(all,
			fmt.Sprintf("input[name='%s']", v),
			fmt.Sprintf(`input[name="%s"]`, v),
			fmt.Sprintf("input[placeholder*='%s']", v),
			fmt.Sprintf("input[aria-label*='%s']", v),
			fmt.Sprintf("input[id*='%s']", v),
		)
	}
	lower := strings.ToLower(selector)
	if strings.Contains(value, "@") || strings.Contains(lower, "email") || strings.Contains(lower, "e-posta") {
		all = append(all, emailFamily...)
	}
	if strings.Contains(lower, "password") || strings.Contains(lower, "şifre") {
		all = append(all, passwordFamily...)
	}
	all = append(all, "input[type='text']:visible", "input:visible")
	all = append(all, relaxed(selector)...)
	return bound(dedupe(selector, all), limit)
}

func dedupe(original string, in []string) []string {
	seen := map[string]bool{original: true}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func bound(in []string, limit int) []string {
	if limit >= 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
