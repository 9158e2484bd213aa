// internal/browser/session/interfaces.go
package session

import (
	"context"

	"github.com/chromedp/chromedp"
)

// ActionExecutor runs chromedp actions against one tab. The network tap uses
// it to fetch response bodies without holding a reference to the Page.
type ActionExecutor interface {
	// RunActions executes actions bounded by ctx and by the tab's lifetime.
	RunActions(ctx context.Context, actions ...chromedp.Action) error
}
