// File: internal/testing/fakebrowser/provider.go
package fakebrowser

import (
	"context"
	"sync"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// Provider hands out fake pages.
type Provider struct {
	mu    sync.Mutex
	pages []*Page
	down  bool

	// Setup, when set, prepares every page before it is returned.
	Setup func(p *Page)
	// NewPageErr makes NewPage fail.
	NewPageErr error
}

var _ schemas.BrowserProvider = (*Provider)(nil)

// NewProvider returns a provider whose pages start at about:blank.
func NewProvider(setup func(p *Page)) *Provider {
	return &Provider{Setup: setup}
}

func (pr *Provider) NewPage(ctx context.Context) (schemas.Page, error) {
	if pr.NewPageErr != nil {
		return nil, pr.NewPageErr
	}
	p := New("about:blank")
	if pr.Setup != nil {
		pr.Setup(p)
	}
	pr.mu.Lock()
	pr.pages = append(pr.pages, p)
	pr.mu.Unlock()
	return p, nil
}

func (pr *Provider) Shutdown(ctx context.Context) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.down = true
	for _, p := range pr.pages {
		_ = p.Close(ctx)
	}
	return nil
}

// Pages returns every page handed out so far.
func (pr *Provider) Pages() []*Page {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return append([]*Page(nil), pr.pages...)
}

// IsShutdown reports whether Shutdown ran.
func (pr *Provider) IsShutdown() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.down
}
