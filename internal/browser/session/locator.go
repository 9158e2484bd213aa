// internal/browser/session/locator.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// Locator resolves its selector through the injected engine on every call.
// Actions are strict unless First was taken.
type Locator struct {
	page     *Page
	frameID  cdp.FrameID // Empty for the main frame.
	selector string
	first    bool
}

var _ schemas.Locator = (*Locator)(nil)

func (l *Locator) Selector() string { return l.selector }

func (l *Locator) Count(ctx context.Context) (int, error) {
	var n int
	err := l.page.engineCall(ctx, l.frameID, &n, "count", l.selector)
	return n, err
}

func (l *Locator) First() schemas.Locator {
	return &Locator{page: l.page, frameID: l.frameID, selector: l.selector, first: true}
}

// WaitVisible polls until the element is rendered with a non-empty box.
func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.page.timeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(visibilityPollGap)
	defer tick.Stop()

	for {
		var visible bool
		err := l.page.engineCall(ctx, l.frameID, &visible, "visible", l.selector, l.first)
		if err != nil {
			return err
		}
		if visible {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s not visible after %s", schemas.ErrTimeout, l.selector, timeout)
		case <-tick.C:
		}
	}
}

func (l *Locator) BoundingBox(ctx context.Context) (schemas.Rect, error) {
	var box schemas.Rect
	err := l.page.withElement(ctx, l.frameID, l.selector, l.first, func(c context.Context, id runtime.RemoteObjectID) error {
		var err error
		box, err = contentBox(c, id)
		return err
	})
	if err != nil {
		return schemas.Rect{}, err
	}
	return box, nil
}

func contentBox(ctx context.Context, id runtime.RemoteObjectID) (schemas.Rect, error) {
	quads, err := dom.GetContentQuads().WithObjectID(id).Do(ctx)
	if err != nil {
		return schemas.Rect{}, err
	}
	for _, q := range quads {
		if r, ok := rectFromQuad(q); ok {
			return r, nil
		}
	}
	return schemas.Rect{}, fmt.Errorf("%w: element has no visible box", schemas.ErrElementNotFound)
}

func (l *Locator) ScrollIntoView(ctx context.Context) error {
	return l.page.withElement(ctx, l.frameID, l.selector, l.first, func(c context.Context, id runtime.RemoteObjectID) error {
		return dom.ScrollIntoViewIfNeeded().WithObjectID(id).Do(c)
	})
}

// Click scrolls the element into view and clicks the center of its box.
func (l *Locator) Click(ctx context.Context, opts schemas.ClickOptions) error {
	var box schemas.Rect
	err := l.page.withElement(ctx, l.frameID, l.selector, l.first, func(c context.Context, id runtime.RemoteObjectID) error {
		if err := dom.ScrollIntoViewIfNeeded().WithObjectID(id).Do(c); err != nil {
			return err
		}
		var err error
		box, err = contentBox(c, id)
		return err
	})
	if err != nil {
		return err
	}
	x, y := box.Center()
	return l.page.click(ctx, x, y, opts.Delay)
}

func (l *Locator) Clear(ctx context.Context) error {
	return l.page.engineCall(ctx, l.frameID, nil, "clear", l.selector, l.first)
}

func (l *Locator) focus(ctx context.Context) error {
	return l.page.withElement(ctx, l.frameID, l.selector, l.first, func(c context.Context, id runtime.RemoteObjectID) error {
		return dom.Focus().WithObjectID(id).Do(c)
	})
}

// Type focuses the element and sends one key event per rune, sleeping
// perChar() between them. A nil perChar inserts the text at once.
func (l *Locator) Type(ctx context.Context, text string, perChar func() time.Duration) error {
	if err := l.focus(ctx); err != nil {
		return err
	}
	if perChar == nil {
		return mapError(ctx, l.page.RunActions(ctx, chromedp.KeyEvent(text)))
	}
	for _, r := range text {
		if err := l.page.RunActions(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return mapError(ctx, err)
		}
		if err := sleep(ctx, perChar()); err != nil {
			return err
		}
	}
	return nil
}

func (l *Locator) Press(ctx context.Context, key string) error {
	seq, err := keySequence(key)
	if err != nil {
		return err
	}
	if err := l.focus(ctx); err != nil {
		return err
	}
	return mapError(ctx, l.page.RunActions(ctx, chromedp.KeyEvent(seq)))
}

type selectWant struct {
	Value string `json:"value,omitempty"`
	Label string `json:"label,omitempty"`
	Index *int   `json:"index"`
}

func (l *Locator) SelectOption(ctx context.Context, opt schemas.SelectOptionValue) error {
	want := selectWant{Value: opt.Value, Label: opt.Label, Index: opt.Index}
	return l.page.engineCall(ctx, l.frameID, nil, "select", l.selector, l.first, want)
}

func (l *Locator) Attribute(ctx context.Context, name string) (string, bool, error) {
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	if err := l.page.engineCall(ctx, l.frameID, &res, "attribute", l.selector, l.first, name); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

func (l *Locator) Describe(ctx context.Context, limit int) ([]schemas.ElementInfo, error) {
	var out []schemas.ElementInfo
	err := l.page.engineCall(ctx, l.frameID, &out, "describe", l.selector, limit)
	return out, err
}

// Frame is a child frame evaluated in its default execution context.
type Frame struct {
	page *Page
	id   cdp.FrameID
	url  string
}

var _ schemas.Frame = (*Frame)(nil)

func (f *Frame) URL() string { return f.url }

func (f *Frame) Locate(selector string) schemas.Locator {
	return &Locator{page: f.page, frameID: f.id, selector: selector}
}

func sleep(ctx context.Context, d time.Duration) error {
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
