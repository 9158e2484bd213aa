package schemas

import (
	"context"
	"errors"
	"time"
)

// -- Browser Capability Surface --

var (
	// ErrTimeout is returned by drivers when a wait or navigation exceeds its deadline.
	ErrTimeout = errors.New("browser operation timed out")
	// ErrMultipleMatches is returned when a strict locator resolves to more than one element.
	ErrMultipleMatches = errors.New("selector matched multiple elements")
	// ErrElementNotFound is returned when a locator resolves to nothing and waiting is not requested.
	ErrElementNotFound = errors.New("element not found")
)

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// NavigationResult describes where a navigation landed.
type NavigationResult struct {
	URL    string
	Status int // 0 when the driver saw no main-frame response.
}

// ClickOptions controls a single click.
type ClickOptions struct {
	Delay time.Duration // Hold time between press and release.
}

// SelectOptionValue picks an <option> by exactly one of its fields.
type SelectOptionValue struct {
	Value string
	Label string
	Index *int
}

// Page is the minimal driver surface the engine needs from one browser tab.
type Page interface {
	URL() string
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Locate(selector string) Locator
	Frames(ctx context.Context) ([]Frame, error)
	Goto(ctx context.Context, url string, timeout time.Duration) (NavigationResult, error)
	Press(ctx context.Context, key string) error
	MoveMouse(ctx context.Context, x, y float64, steps int) error
	Screenshot(ctx context.Context) ([]byte, error)
	Evaluate(ctx context.Context, script string) (any, error)
	Subscribe(listener NetworkListener)
	Close(ctx context.Context) error
}

// Locator is a lazy handle to the elements matched by a selector. Selector
// syntax includes CSS, text=, text=/re/i, :has-text(), role=, label=,
// :visible and ">> nth=N".
type Locator interface {
	Selector() string
	Count(ctx context.Context) (int, error)
	First() Locator
	WaitVisible(ctx context.Context, timeout time.Duration) error
	BoundingBox(ctx context.Context) (Rect, error)
	ScrollIntoView(ctx context.Context) error
	Click(ctx context.Context, opts ClickOptions) error
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string, perChar func() time.Duration) error
	Press(ctx context.Context, key string) error
	SelectOption(ctx context.Context, opt SelectOptionValue) error
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Describe returns structured summaries of up to limit matched elements.
	Describe(ctx context.Context, limit int) ([]ElementInfo, error)
}

// Frame is a child frame of a page.
type Frame interface {
	URL() string
	Locate(selector string) Locator
}

// RequestInfo describes a request as the driver saw it start.
type RequestInfo struct {
	Method       string
	URL          string
	ResourceType string
	PostData     string
}

// ResponseInfo describes a received response. Body is lazy and may fail for
// redirects or evicted resources.
type ResponseInfo struct {
	Method       string
	URL          string
	Status       int
	ResourceType string
	Body         func() ([]byte, error)
}

// NetworkListener receives driver traffic callbacks. Implementations must be
// safe for concurrent use.
type NetworkListener interface {
	OnRequest(req RequestInfo)
	OnResponse(resp ResponseInfo)
	OnRequestFailed(req RequestInfo, reason string)
}

// BrowserProvider launches isolated pages.
type BrowserProvider interface {
	NewPage(ctx context.Context) (Page, error)
	Shutdown(ctx context.Context) error
}
