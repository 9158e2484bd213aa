// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// Page adapts one Playwright page, living in its own BrowserContext, to
// schemas.Page. Closing the page closes the context.
type Page struct {
	page    playwright.Page
	bctx    playwright.BrowserContext
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.RWMutex
	listeners []schemas.NetworkListener

	// Response callbacks run off the Playwright dispatch goroutine so that
	// listeners may read bodies; wg tracks them until Close.
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

var _ schemas.Page = (*Page)(nil)

func newPage(pg playwright.Page, bctx playwright.BrowserContext, logger *zap.Logger, timeout time.Duration) *Page {
	p := &Page{page: pg, bctx: bctx, logger: logger, timeout: timeout}
	bctx.OnRequest(p.handleRequest)
	bctx.OnResponse(p.handleResponse)
	bctx.OnRequestFailed(p.handleRequestFailed)
	return p
}

// -- Network Events --

func (p *Page) snapshotListeners() []schemas.NetworkListener {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]schemas.NetworkListener(nil), p.listeners...)
}

func requestInfo(req playwright.Request) schemas.RequestInfo {
	info := schemas.RequestInfo{
		Method:       req.Method(),
		URL:          req.URL(),
		ResourceType: req.ResourceType(),
	}
	if post, err := req.PostData(); err == nil {
		info.PostData = post
	}
	return info
}

func (p *Page) handleRequest(req playwright.Request) {
	info := requestInfo(req)
	for _, l := range p.snapshotListeners() {
		l.OnRequest(info)
	}
}

func (p *Page) handleResponse(resp playwright.Response) {
	listeners := p.snapshotListeners()
	if len(listeners) == 0 {
		return
	}
	req := resp.Request()
	info := schemas.ResponseInfo{
		Method:       req.Method(),
		URL:          resp.URL(),
		Status:       resp.Status(),
		ResourceType: req.ResourceType(),
		Body:         resp.Body,
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, l := range listeners {
			l.OnResponse(info)
		}
	}()
}

func (p *Page) handleRequestFailed(req playwright.Request) {
	info := requestInfo(req)
	reason := "unknown"
	if f := req.Failure(); f != nil {
		reason = f.Error()
	}
	for _, l := range p.snapshotListeners() {
		l.OnRequestFailed(info, reason)
	}
}

// -- schemas.Page --

func (p *Page) URL() string { return p.page.URL() }

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t, err := p.page.Title()
	return t, mapError(ctx, err)
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := p.page.Content()
	return c, mapError(ctx, err)
}

func (p *Page) Locate(selector string) schemas.Locator {
	return &Locator{loc: p.page.Locator(translateSelector(selector)), selector: selector, timeout: p.timeout}
}

func (p *Page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	main := p.page.MainFrame()
	var out []schemas.Frame
	for _, f := range p.page.Frames() {
		if f == main {
			continue
		}
		out = append(out, &Frame{frame: f, timeout: p.timeout})
	}
	return out, nil
}

func (p *Page) Goto(ctx context.Context, url string, timeout time.Duration) (schemas.NavigationResult, error) {
	if err := ctx.Err(); err != nil {
		return schemas.NavigationResult{}, err
	}
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   opTimeout(ctx, timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return schemas.NavigationResult{URL: p.page.URL()}, mapError(ctx, err)
	}
	res := schemas.NavigationResult{URL: p.page.URL()}
	if resp != nil {
		res.Status = resp.Status()
	}
	return res, nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(ctx, p.page.Keyboard().Press(key))
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64, steps int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if steps < 1 {
		steps = 1
	}
	return mapError(ctx, p.page.Mouse().Move(x, y, playwright.MouseMoveOptions{Steps: playwright.Int(steps)}))
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: opTimeout(ctx, p.timeout),
	})
	return data, mapError(ctx, err)
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.page.Evaluate(script)
	return res, mapError(ctx, err)
}

func (p *Page) Subscribe(listener schemas.NetworkListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listener)
}

// Close closes the page's BrowserContext and waits for in-flight response
// callbacks. It is safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		if err := p.bctx.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close browser context: %w", err)
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			p.logger.Warn("Timed out waiting for network callbacks to drain.", zap.Error(ctx.Err()))
		}
		if p.onClose != nil {
			p.onClose()
		}
	})
	return p.closeErr
}

// Frame adapts a child frame.
type Frame struct {
	frame   playwright.Frame
	timeout time.Duration
}

func (f *Frame) URL() string { return f.frame.URL() }

func (f *Frame) Locate(selector string) schemas.Locator {
	return &Locator{loc: f.frame.Locator(translateSelector(selector)), selector: selector, timeout: f.timeout}
}
