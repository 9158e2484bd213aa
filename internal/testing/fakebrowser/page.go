// File: internal/testing/fakebrowser/page.go
// Package fakebrowser is an in-memory implementation of the schemas browser
// capability surface. Elements are registered under the exact selector
// strings a test expects the engine to use.
package fakebrowser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// Element is one matched DOM node.
type Element struct {
	Visible bool
	Box     schemas.Rect
	Attrs   map[string]string
	Info    schemas.ElementInfo
	Value   string
	Options []Option // for <select>

	ClickErr error
	TypeErr  error
	// OnClick runs after a successful click, outside the page lock.
	OnClick func()
}

// Option is a <select> option.
type Option struct {
	Value string
	Label string
}

// NewElement returns a visible element with a 100x30 box.
func NewElement() *Element {
	return &Element{Visible: true, Box: schemas.Rect{X: 10, Y: 10, Width: 100, Height: 30}, Attrs: map[string]string{}}
}

// Call records one operation against the page.
type Call struct {
	Op       string
	Selector string
	Arg      string
}

// Move records one pointer move.
type Move struct {
	X, Y  float64
	Steps int
}

// dom maps selectors to their matched elements.
type dom struct {
	elements map[string][]*Element
}

func newDOM() *dom { return &dom{elements: make(map[string][]*Element)} }

// Page is a fake schemas.Page. The zero value is not usable; call New.
type Page struct {
	mu        sync.Mutex
	url       string
	title     string
	content   string
	root      *dom
	frames    []*Frame
	calls     []Call
	moves     []Move
	listeners []schemas.NetworkListener
	closed    bool

	// GotoFunc overrides navigation. The default sets the URL and reports 200.
	GotoFunc func(ctx context.Context, url string, timeout time.Duration) (schemas.NavigationResult, error)
	// EvaluateFunc overrides script evaluation. The default returns nil.
	EvaluateFunc func(ctx context.Context, script string) (any, error)
	// TitleErr and ContentErr make the corresponding reads fail.
	TitleErr   error
	ContentErr error
	// ScreenshotData is returned by Screenshot unless ScreenshotErr is set.
	ScreenshotData []byte
	ScreenshotErr  error
	PressErr       error
}

var _ schemas.Page = (*Page)(nil)

// New creates a page at url.
func New(url string) *Page {
	return &Page{url: url, root: newDOM(), ScreenshotData: []byte("\x89PNG fake")}
}

// -- Test setup --

// SetURL changes the current URL.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// SetTitle changes the document title.
func (p *Page) SetTitle(t string) {
	p.mu.Lock()
	p.title = t
	p.mu.Unlock()
}

// SetContent replaces the page HTML.
func (p *Page) SetContent(html string) {
	p.mu.Lock()
	p.content = html
	p.mu.Unlock()
}

// Add registers elements matched by selector on the main frame.
func (p *Page) Add(selector string, els ...*Element) {
	p.mu.Lock()
	p.root.elements[selector] = append(p.root.elements[selector], els...)
	p.mu.Unlock()
}

// Remove drops every element registered under selector.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	delete(p.root.elements, selector)
	p.mu.Unlock()
}

// AddFrame attaches a child frame at url.
func (p *Page) AddFrame(url string) *Frame {
	f := &Frame{page: p, url: url, d: newDOM()}
	p.mu.Lock()
	p.frames = append(p.frames, f)
	p.mu.Unlock()
	return f
}

// -- Inspection --

// Calls returns a copy of the recorded operations.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsFor returns the recorded operations named op.
func (p *Page) CallsFor(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Moves returns a copy of the recorded pointer moves.
func (p *Page) Moves() []Move {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Move(nil), p.moves...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// EmitRequest delivers a request to every subscribed listener.
func (p *Page) EmitRequest(req schemas.RequestInfo) {
	for _, l := range p.snapshotListeners() {
		l.OnRequest(req)
	}
}

// EmitResponse delivers a response to every subscribed listener.
func (p *Page) EmitResponse(resp schemas.ResponseInfo) {
	for _, l := range p.snapshotListeners() {
		l.OnResponse(resp)
	}
}

// EmitRequestFailed delivers a failure to every subscribed listener.
func (p *Page) EmitRequestFailed(req schemas.RequestInfo, reason string) {
	for _, l := range p.snapshotListeners() {
		l.OnRequestFailed(req, reason)
	}
}

func (p *Page) snapshotListeners() []schemas.NetworkListener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.NetworkListener(nil), p.listeners...)
}

func (p *Page) record(op, selector, arg string) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Op: op, Selector: selector, Arg: arg})
	p.mu.Unlock()
}

// -- schemas.Page --

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TitleErr != nil {
		return "", p.TitleErr
	}
	return p.title, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ContentErr != nil {
		return "", p.ContentErr
	}
	return p.content, nil
}

func (p *Page) Locate(selector string) schemas.Locator {
	return &Locator{page: p, d: p.root, selector: selector, index: -1}
}

func (p *Page) Frames(ctx context.Context) ([]schemas.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]schemas.Frame, len(p.frames))
	for i, f := range p.frames {
		out[i] = f
	}
	return out, nil
}

func (p *Page) Goto(ctx context.Context, url string, timeout time.Duration) (schemas.NavigationResult, error) {
	p.record("goto", "", url)
	if err := ctx.Err(); err != nil {
		return schemas.NavigationResult{}, err
	}
	if p.GotoFunc != nil {
		res, err := p.GotoFunc(ctx, url, timeout)
		if err == nil && res.URL != "" {
			p.SetURL(res.URL)
		}
		return res, err
	}
	p.SetURL(url)
	return schemas.NavigationResult{URL: url, Status: 200}, nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	p.record("press", "", key)
	return p.PressErr
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64, steps int) error {
	p.mu.Lock()
	p.moves = append(p.moves, Move{X: x, Y: y, Steps: steps})
	p.mu.Unlock()
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.record("screenshot", "", "")
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return append([]byte(nil), p.ScreenshotData...), nil
}

func (p *Page) Evaluate(ctx context.Context, script string) (any, error) {
	if p.EvaluateFunc != nil {
		return p.EvaluateFunc(ctx, script)
	}
	return nil, nil
}

func (p *Page) Subscribe(listener schemas.NetworkListener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, listener)
	p.mu.Unlock()
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Frame is a fake child frame.
type Frame struct {
	page *Page
	url  string
	d    *dom
}

var _ schemas.Frame = (*Frame)(nil)

// Add registers elements inside the frame.
func (f *Frame) Add(selector string, els ...*Element) {
	f.page.mu.Lock()
	f.d.elements[selector] = append(f.d.elements[selector], els...)
	f.page.mu.Unlock()
}

// Remove drops elements inside the frame.
func (f *Frame) Remove(selector string) {
	f.page.mu.Lock()
	delete(f.d.elements, selector)
	f.page.mu.Unlock()
}

func (f *Frame) URL() string { return f.url }

func (f *Frame) Locate(selector string) schemas.Locator {
	return &Locator{page: f.page, d: f.d, selector: selector, index: -1}
}

// String identifies the frame in test failure output.
func (f *Frame) String() string { return fmt.Sprintf("frame(%s)", strings.TrimSpace(f.url)) }
