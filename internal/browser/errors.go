// internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// minOpTimeout keeps a nearly expired deadline from turning into Playwright's
// "no timeout" value of zero.
const minOpTimeout = time.Millisecond

// mapError translates Playwright failures into the driver-neutral sentinels.
// A cancelled Go context wins over whatever Playwright reported.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	msg := err.Error()
	switch {
	case errors.Is(err, playwright.ErrTimeout), strings.Contains(msg, "Timeout") && strings.Contains(msg, "exceeded"):
		return fmt.Errorf("%w: %s", schemas.ErrTimeout, msg)
	case strings.Contains(msg, "strict mode violation"):
		return fmt.Errorf("%w: %s", schemas.ErrMultipleMatches, msg)
	}
	return err
}

// opTimeout returns the Playwright timeout in milliseconds for an operation
// bounded by both ctx and def.
func opTimeout(ctx context.Context, def time.Duration) *float64 {
	budget := def
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); budget <= 0 || remaining < budget {
			budget = remaining
		}
	}
	if budget < minOpTimeout {
		budget = minOpTimeout
	}
	return playwright.Float(float64(budget.Milliseconds()))
}

// translateSelector rewrites the label= engine, which Playwright only exposes
// through getByLabel, into its internal selector form. Every other engine in
// the selector grammar is native.
func translateSelector(selector string) string {
	if !strings.Contains(selector, "label=") {
		return selector
	}
	parts := strings.Split(selector, ">>")
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if strings.HasPrefix(trimmed, "label=") {
			trimmed = "internal:label=" + labelBody(strings.TrimPrefix(trimmed, "label="))
		}
		parts[i] = trimmed
	}
	return strings.Join(parts, " >> ")
}

func labelBody(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '/' && strings.LastIndex(raw, "/") > 0 {
		return raw
	}
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return fmt.Sprintf("%q", raw[1:len(raw)-1]) + "s"
	}
	return fmt.Sprintf("%q", raw) + "i"
}
