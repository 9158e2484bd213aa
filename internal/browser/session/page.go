// internal/browser/session/page.go
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/browser/shim"
)

const (
	closeTimeout      = 10 * time.Second
	visibilityPollGap = 100 * time.Millisecond
)

// evaluateWrapper calls function expressions so Evaluate accepts both
// "() => x" and plain expressions.
const evaluateWrapper = `(() => { const __v = (%s); return typeof __v === 'function' ? __v() : __v; })()`

// Page is one CDP tab in its own browser context.
type Page struct {
	ctx     context.Context // chromedp tab context.
	cancel  context.CancelFunc
	logger  *zap.Logger
	engine  string
	timeout time.Duration
	tap     *networkTap

	mu        sync.Mutex
	url       string
	mainFrame cdp.FrameID
	contexts  map[cdp.FrameID]runtime.ExecutionContextID
	domReady  chan struct{}
	mouseX    float64
	mouseY    float64

	closeOnce sync.Once
	closeErr  error
	onClose   func(ctx context.Context) error
}

var (
	_ schemas.Page   = (*Page)(nil)
	_ ActionExecutor = (*Page)(nil)
)

func newPage(ctx context.Context, cancel context.CancelFunc, mainFrame cdp.FrameID, engine string, timeout time.Duration, logger *zap.Logger) *Page {
	p := &Page{
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		engine:    engine,
		timeout:   timeout,
		url:       "about:blank",
		mainFrame: mainFrame,
		contexts:  make(map[cdp.FrameID]runtime.ExecutionContextID),
	}
	p.tap = newNetworkTap(logger, p)
	chromedp.ListenTarget(ctx, p.handleEvent)
	return p
}

// RunActions runs actions on this tab, bounded by ctx.
func (p *Page) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// -- Events --

type contextAux struct {
	FrameID   cdp.FrameID `json:"frameId"`
	IsDefault bool        `json:"isDefault"`
}

func (p *Page) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *page.EventFrameNavigated:
		if ev.Frame != nil && ev.Frame.ParentID == "" {
			p.mu.Lock()
			p.mainFrame = ev.Frame.ID
			p.url = ev.Frame.URL + ev.Frame.URLFragment
			p.mu.Unlock()
		}
	case *page.EventNavigatedWithinDocument:
		p.mu.Lock()
		if ev.FrameID == p.mainFrame {
			p.url = ev.URL
		}
		p.mu.Unlock()
	case *page.EventDomContentEventFired:
		p.mu.Lock()
		if p.domReady != nil {
			close(p.domReady)
			p.domReady = nil
		}
		p.mu.Unlock()
	case *runtime.EventExecutionContextCreated:
		if ev.Context == nil {
			return
		}
		var aux contextAux
		if err := json.Unmarshal([]byte(ev.Context.AuxData), &aux); err != nil || !aux.IsDefault || aux.FrameID == "" {
			return
		}
		p.mu.Lock()
		p.contexts[aux.FrameID] = ev.Context.ID
		p.mu.Unlock()
	case *runtime.EventExecutionContextDestroyed:
		p.mu.Lock()
		for f, id := range p.contexts {
			if id == ev.ExecutionContextID {
				delete(p.contexts, f)
			}
		}
		p.mu.Unlock()
	case *runtime.EventExecutionContextsCleared:
		p.mu.Lock()
		p.contexts = make(map[cdp.FrameID]runtime.ExecutionContextID)
		p.mu.Unlock()
	default:
		p.tap.handle(ev)
	}
}

// contextFor returns the execution context for a child frame. The main
// frame uses the default context, reported as zero.
func (p *Page) contextFor(frameID cdp.FrameID) (runtime.ExecutionContextID, error) {
	if frameID == "" {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.contexts[frameID]
	if !ok {
		return 0, fmt.Errorf("frame %s has no execution context", frameID)
	}
	return id, nil
}

// -- Evaluation --

// mapError translates engine exceptions and deadlines into the
// driver-neutral sentinels. A cancelled operation context wins.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "atlas:not_found"):
		return fmt.Errorf("%w: %s", schemas.ErrElementNotFound, msg)
	case strings.Contains(msg, "atlas:multiple"):
		return fmt.Errorf("%w: %s", schemas.ErrMultipleMatches, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", schemas.ErrTimeout, msg)
	}
	return err
}

// exceptionError keeps the thrown value's description, which carries the
// engine's error codes.
func exceptionError(exc *runtime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg += ": " + exc.Exception.Description
	}
	return fmt.Errorf("javascript %s", msg)
}

// eval evaluates expr in a frame and decodes the JSON result into out.
// Undefined results leave out untouched.
func (p *Page) eval(ctx context.Context, frameID cdp.FrameID, expr string, out any) error {
	cid, err := p.contextFor(frameID)
	if err != nil {
		return err
	}
	var raw []byte
	err = p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		params := runtime.Evaluate(expr).WithReturnByValue(true).WithAwaitPromise(true)
		if cid != 0 {
			params = params.WithContextID(cid)
		}
		obj, exc, err := params.Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return exceptionError(exc)
		}
		if obj != nil {
			raw = []byte(obj.Value)
		}
		return nil
	}))
	if err != nil {
		return mapError(ctx, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	return nil
}

// engineCall installs the selector engine if needed and calls fn on it.
func (p *Page) engineCall(ctx context.Context, frameID cdp.FrameID, out any, fn string, args ...any) error {
	call, err := shim.Call(shim.DefaultNamespace, fn, args...)
	if err != nil {
		return err
	}
	return p.eval(ctx, frameID, p.engine+";\n"+call, out)
}

// withElement resolves selector to a remote object and runs fn with it.
func (p *Page) withElement(ctx context.Context, frameID cdp.FrameID, selector string, first bool, fn func(c context.Context, id runtime.RemoteObjectID) error) error {
	call, err := shim.Call(shim.DefaultNamespace, "element", selector, first)
	if err != nil {
		return err
	}
	cid, err := p.contextFor(frameID)
	if err != nil {
		return err
	}
	expr := p.engine + ";\n" + call
	err = p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		params := runtime.Evaluate(expr).WithReturnByValue(false)
		if cid != 0 {
			params = params.WithContextID(cid)
		}
		obj, exc, err := params.Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return exceptionError(exc)
		}
		if obj == nil || obj.ObjectID == "" {
			return schemas.ErrElementNotFound
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(c) }()
		return fn(c, obj.ObjectID)
	}))
	return mapError(ctx, err)
}

// -- schemas.Page --

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.eval(ctx, "", "document.title", &title)
	return title, err
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	err := p.eval(ctx, "", "document.documentElement ? document.documentElement.outerHTML : ''", &html)
	return html, err
}

func (p *Page) Locate(selector string) schemas.Locator {
	return &Locator{page: p, selector: selector}
}

func (p *Page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	var tree *page.FrameTree
	err := p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, mapError(ctx, err)
	}
	var out []schemas.Frame
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		for _, child := range t.ChildFrames {
			if child.Frame != nil {
				out = append(out, &Frame{page: p, id: child.Frame.ID, url: child.Frame.URL})
			}
			walk(child)
		}
	}
	if tree != nil {
		walk(tree)
	}
	return out, nil
}

// Goto navigates the main frame and waits for DOMContentLoaded.
func (p *Page) Goto(ctx context.Context, url string, timeout time.Duration) (schemas.NavigationResult, error) {
	if timeout <= 0 {
		timeout = p.timeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready := make(chan struct{})
	p.mu.Lock()
	p.domReady = ready
	p.mu.Unlock()

	var loader cdp.LoaderID
	err := p.RunActions(navCtx, chromedp.ActionFunc(func(c context.Context) error {
		_, l, errText, _, err := page.Navigate(url).Do(c)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("navigation to %s failed: %s", url, errText)
		}
		loader = l
		return nil
	}))
	if err != nil {
		return schemas.NavigationResult{URL: p.URL()}, p.navError(ctx, navCtx, err)
	}

	// Same-document navigations have no loader and fire no DOMContentLoaded.
	if loader != "" {
		select {
		case <-ready:
		case <-navCtx.Done():
			return schemas.NavigationResult{URL: p.URL()}, p.navError(ctx, navCtx, navCtx.Err())
		}
	}
	return schemas.NavigationResult{URL: p.URL(), Status: p.tap.documentStatus(loader)}, nil
}

func (p *Page) navError(ctx, navCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if navCtx.Err() != nil {
		return fmt.Errorf("%w: navigation exceeded its deadline", schemas.ErrTimeout)
	}
	return err
}

func (p *Page) Press(ctx context.Context, key string) error {
	seq, err := keySequence(key)
	if err != nil {
		return err
	}
	return mapError(ctx, p.RunActions(ctx, chromedp.KeyEvent(seq)))
}

// MoveMouse moves the pointer from its last position in steps increments.
func (p *Page) MoveMouse(ctx context.Context, x, y float64, steps int) error {
	if steps < 1 {
		steps = 1
	}
	p.mu.Lock()
	fromX, fromY := p.mouseX, p.mouseY
	p.mu.Unlock()

	actions := make([]chromedp.Action, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		actions = append(actions, input.DispatchMouseEvent(input.MouseMoved, fromX+(x-fromX)*t, fromY+(y-fromY)*t))
	}
	if err := p.RunActions(ctx, actions...); err != nil {
		return mapError(ctx, err)
	}
	p.mu.Lock()
	p.mouseX, p.mouseY = x, y
	p.mu.Unlock()
	return nil
}

// click presses and releases the left button at (x, y).
func (p *Page) click(ctx context.Context, x, y float64, hold time.Duration) error {
	err := p.RunActions(ctx,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
		chromedp.Sleep(hold),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
	if err != nil {
		return mapError(ctx, err)
	}
	p.mu.Lock()
	p.mouseX, p.mouseY = x, y
	p.mu.Unlock()
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.RunActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	return buf, mapError(ctx, err)
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	var out any
	err := p.eval(ctx, "", fmt.Sprintf(evaluateWrapper, script), &out)
	return out, err
}

func (p *Page) Subscribe(listener schemas.NetworkListener) {
	p.tap.subscribe(listener)
}

// Close closes the tab and disposes its browser context. It is safe to
// call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		defer cancel()
		p.tap.wait(closeCtx)
		if p.onClose != nil {
			p.closeErr = p.onClose(closeCtx)
		}
		p.cancel()
	})
	return p.closeErr
}

// rectFromQuad returns the axis-aligned box around a content quad.
func rectFromQuad(q []float64) (schemas.Rect, bool) {
	if len(q) < 8 {
		return schemas.Rect{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(q); i += 2 {
		minX, maxX = math.Min(minX, q[i]), math.Max(maxX, q[i])
		minY, maxY = math.Min(minY, q[i+1]), math.Max(maxY, q[i+1])
	}
	r := schemas.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	return r, r.Width > 0 && r.Height > 0
}
