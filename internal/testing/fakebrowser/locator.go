// File: internal/testing/fakebrowser/locator.go
package fakebrowser

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// Locator is a fake schemas.Locator. Like a strict Playwright locator, single
// element operations fail with ErrMultipleMatches unless First was called.
type Locator struct {
	page     *Page
	d        *dom
	selector string
	index    int // -1 resolves every match
}

var _ schemas.Locator = (*Locator)(nil)

func (l *Locator) matches() []*Element {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	els := l.d.elements[l.selector]
	if l.index < 0 {
		return append([]*Element(nil), els...)
	}
	if l.index < len(els) {
		return []*Element{els[l.index]}
	}
	return nil
}

// single resolves exactly one element. missing is returned when nothing
// matches.
func (l *Locator) single(missing error) (*Element, error) {
	els := l.matches()
	switch {
	case len(els) == 0:
		return nil, fmt.Errorf("%w: %s", missing, l.selector)
	case len(els) > 1:
		return nil, fmt.Errorf("%w: %s resolved to %d elements", schemas.ErrMultipleMatches, l.selector, len(els))
	}
	return els[0], nil
}

func (l *Locator) Selector() string { return l.selector }

func (l *Locator) Count(ctx context.Context) (int, error) {
	return len(l.matches()), ctx.Err()
}

func (l *Locator) First() schemas.Locator {
	return &Locator{page: l.page, d: l.d, selector: l.selector, index: 0}
}

func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	l.page.record("wait", l.selector, strconv.FormatInt(timeout.Milliseconds(), 10))
	if err := ctx.Err(); err != nil {
		return err
	}
	el, err := l.single(schemas.ErrTimeout)
	if err != nil {
		return err
	}
	if !el.Visible {
		return fmt.Errorf("%w: %s not visible", schemas.ErrTimeout, l.selector)
	}
	return nil
}

func (l *Locator) BoundingBox(ctx context.Context) (schemas.Rect, error) {
	el, err := l.single(schemas.ErrElementNotFound)
	if err != nil {
		return schemas.Rect{}, err
	}
	return el.Box, nil
}

func (l *Locator) ScrollIntoView(ctx context.Context) error {
	l.page.record("scroll", l.selector, "")
	_, err := l.single(schemas.ErrElementNotFound)
	return err
}

func (l *Locator) Click(ctx context.Context, opts schemas.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el, err := l.single(schemas.ErrTimeout)
	if err != nil {
		return err
	}
	if el.ClickErr != nil {
		return el.ClickErr
	}
	l.page.record("click", l.selector, opts.Delay.String())
	if el.OnClick != nil {
		el.OnClick()
	}
	return nil
}

func (l *Locator) Clear(ctx context.Context) error {
	el, err := l.single(schemas.ErrTimeout)
	if err != nil {
		return err
	}
	l.page.mu.Lock()
	el.Value = ""
	l.page.mu.Unlock()
	l.page.record("clear", l.selector, "")
	return nil
}

func (l *Locator) Type(ctx context.Context, text string, perChar func() time.Duration) error {
	el, err := l.single(schemas.ErrTimeout)
	if err != nil {
		return err
	}
	if el.TypeErr != nil {
		return el.TypeErr
	}
	var paced time.Duration
	for range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		if perChar != nil {
			paced += perChar()
		}
	}
	l.page.mu.Lock()
	el.Value += text
	l.page.mu.Unlock()
	l.page.record("type", l.selector, text)
	if perChar != nil {
		l.page.record("type_paced", l.selector, paced.String())
	}
	return nil
}

func (l *Locator) Press(ctx context.Context, key string) error {
	if _, err := l.single(schemas.ErrTimeout); err != nil {
		return err
	}
	l.page.record("press", l.selector, key)
	return nil
}

func (l *Locator) SelectOption(ctx context.Context, opt schemas.SelectOptionValue) error {
	el, err := l.single(schemas.ErrTimeout)
	if err != nil {
		return err
	}
	for i, o := range el.Options {
		hit := (opt.Index != nil && *opt.Index == i) ||
			(opt.Value != "" && opt.Value == o.Value) ||
			(opt.Label != "" && opt.Label == o.Label)
		if hit {
			l.page.mu.Lock()
			el.Value = o.Value
			l.page.mu.Unlock()
			l.page.record("select", l.selector, o.Value)
			return nil
		}
	}
	return fmt.Errorf("no matching option in %s", l.selector)
}

func (l *Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	el, err := l.single(schemas.ErrElementNotFound)
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

func (l *Locator) Describe(ctx context.Context, limit int) ([]schemas.ElementInfo, error) {
	els := l.matches()
	out := make([]schemas.ElementInfo, 0, len(els))
	for _, el := range els {
		if limit > 0 && len(out) >= limit {
			break
		}
		info := el.Info
		info.Visible = el.Visible
		out = append(out, info)
	}
	return out, ctx.Err()
}
