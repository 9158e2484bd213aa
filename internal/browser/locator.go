// internal/browser/locator.go
package browser

import (
	"context"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/browser/shim"
)

const attributeScript = `(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`

// Locator adapts a Playwright locator to schemas.Locator. Playwright locators
// are strict, so actions on a multi-match fail unless First was taken.
type Locator struct {
	loc      playwright.Locator
	selector string
	timeout  time.Duration
}

var _ schemas.Locator = (*Locator)(nil)

func (l *Locator) Selector() string { return l.selector }

func (l *Locator) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := l.loc.Count()
	return n, mapError(ctx, err)
}

func (l *Locator) First() schemas.Locator {
	return &Locator{loc: l.loc.First(), selector: l.selector + " >> nth=0", timeout: l.timeout}
}

func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := l.loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: opTimeout(ctx, timeout),
	})
	return mapError(ctx, err)
}

func (l *Locator) BoundingBox(ctx context.Context) (schemas.Rect, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Rect{}, err
	}
	box, err := l.loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: opTimeout(ctx, l.timeout)})
	if err != nil {
		return schemas.Rect{}, mapError(ctx, err)
	}
	if box == nil {
		return schemas.Rect{}, fmt.Errorf("%w: %s has no bounding box", schemas.ErrElementNotFound, l.selector)
	}
	return schemas.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (l *Locator) ScrollIntoView(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := l.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: opTimeout(ctx, l.timeout)})
	return mapError(ctx, err)
}

func (l *Locator) Click(ctx context.Context, opts schemas.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := l.loc.Click(playwright.LocatorClickOptions{
		Delay:   playwright.Float(float64(opts.Delay.Milliseconds())),
		Timeout: opTimeout(ctx, l.timeout),
	})
	return mapError(ctx, err)
}

func (l *Locator) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(ctx, l.loc.Clear(playwright.LocatorClearOptions{Timeout: opTimeout(ctx, l.timeout)}))
}

// Type sends text one character at a time, sleeping perChar between keys.
// A nil perChar types the whole string in one call.
func (l *Locator) Type(ctx context.Context, text string, perChar func() time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if perChar == nil {
		err := l.loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{Timeout: opTimeout(ctx, l.timeout)})
		return mapError(ctx, err)
	}
	for _, r := range text {
		err := l.loc.PressSequentially(string(r), playwright.LocatorPressSequentiallyOptions{Timeout: opTimeout(ctx, l.timeout)})
		if err != nil {
			return mapError(ctx, err)
		}
		if err := sleep(ctx, perChar()); err != nil {
			return err
		}
	}
	return nil
}

func (l *Locator) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(ctx, l.loc.Press(key, playwright.LocatorPressOptions{Timeout: opTimeout(ctx, l.timeout)}))
}

func (l *Locator) SelectOption(ctx context.Context, opt schemas.SelectOptionValue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var values playwright.SelectOptionValues
	switch {
	case opt.Index != nil:
		values.Indexes = &[]int{*opt.Index}
	case opt.Label != "":
		values.Labels = &[]string{opt.Label}
	default:
		values.Values = &[]string{opt.Value}
	}
	_, err := l.loc.SelectOption(values, playwright.LocatorSelectOptionOptions{Timeout: opTimeout(ctx, l.timeout)})
	return mapError(ctx, err)
}

func (l *Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	res, err := l.loc.Evaluate(attributeScript, name, playwright.LocatorEvaluateOptions{Timeout: opTimeout(ctx, l.timeout)})
	if err != nil {
		return "", false, mapError(ctx, err)
	}
	if res == nil {
		return "", false, nil
	}
	s, ok := res.(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected attribute value type %T", res)
	}
	return s, true, nil
}

func (l *Locator) Describe(ctx context.Context, limit int) ([]schemas.ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := l.loc.EvaluateAll(shim.DescribeScript, limit)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return decodeElements(res)
}

// decodeElements converts the generic value Playwright returns from an
// evaluation into typed element summaries.
func decodeElements(res any) ([]schemas.ElementInfo, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode element summaries: %w", err)
	}
	var out []schemas.ElementInfo
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode element summaries: %w", err)
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
