// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

// ErrShutdown is returned by NewPage after Shutdown has begun.
var ErrShutdown = errors.New("browser manager is shut down")

const (
	playwrightInstallTimeout = 5 * time.Minute
	shutdownGracePeriod      = 15 * time.Second
	launchTimeout            = 60 * time.Second
)

// Manager owns the Playwright driver and one Chromium process. Every page it
// hands out lives in its own BrowserContext so sessions never share cookies
// or storage.
type Manager struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *zap.Logger
	cfg     config.BrowserConfig
	sec     config.SecurityConfig

	pages  map[*Page]struct{}
	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup // Open pages.

	initOnce sync.Once
	initErr  error
}

var _ schemas.BrowserProvider = (*Manager)(nil)

// NewManager creates a browser manager. The driver is installed and the
// browser launched on the first NewPage call.
func NewManager(cfg config.Interface, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg.Browser(),
		sec:    cfg.Security(),
		pages:  make(map[*Page]struct{}),
	}
	m.logger.Info("Browser manager created (initialization deferred).")
	return m
}

// initialize starts the Playwright driver and launches the browser instance.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Initializing Playwright and launching browser...")

		if err := m.ensureInstallation(ctx); err != nil {
			m.initErr = err
			return
		}

		pw, err := playwright.Run()
		if err != nil {
			m.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}

		browser, err := pw.Chromium.Launch(m.prepareLaunchOptions())
		if err != nil {
			_ = pw.Stop()
			m.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}

		m.mu.Lock()
		m.pw, m.browser = pw, browser
		m.mu.Unlock()
		m.logger.Info("Browser manager initialized.",
			zap.String("browser_version", browser.Version()),
			zap.Bool("headless", m.cfg.Headless),
		)
	})
	return m.initErr
}

func (m *Manager) ensureInstallation(ctx context.Context) error {
	m.logger.Info("Verifying Playwright browser installation...")
	installCtx, installCancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer installCancel()

	// Install blocks without a context.
	installErrChan := make(chan error, 1)
	go func() {
		options := &playwright.RunOptions{Browsers: []string{"chromium"}}
		if err := playwright.Install(options); err != nil {
			installErrChan <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		installErrChan <- nil
	}()

	select {
	case err := <-installErrChan:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (m *Manager) prepareLaunchOptions() playwright.BrowserTypeLaunchOptions {
	defaultArgs := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-blink-features=AutomationControlled",
	}
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args:     append(defaultArgs, m.cfg.Args...),
		Timeout:  playwright.Float(float64(launchTimeout.Milliseconds())),
	}
	if m.cfg.ProxyURL != "" {
		opts.Proxy = &playwright.Proxy{Server: m.cfg.ProxyURL}
	}
	return opts
}

func (m *Manager) contextOptions() playwright.BrowserNewContextOptions {
	w, h := m.cfg.ViewportSize()
	opts := playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: w, Height: h},
		IgnoreHttpsErrors: playwright.Bool(m.cfg.IgnoreTLSErrors),
		AcceptDownloads:   playwright.Bool(!m.sec.BlockDownloads),
		JavaScriptEnabled: playwright.Bool(true),
	}
	if m.cfg.Locale != "" {
		opts.Locale = playwright.String(m.cfg.Locale)
	}
	if m.cfg.Timezone != "" {
		opts.TimezoneId = playwright.String(m.cfg.Timezone)
	}
	if m.cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(m.cfg.UserAgent)
	}
	return opts
}

// NewPage opens a page in a fresh BrowserContext.
func (m *Manager) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	m.wg.Add(1)
	m.mu.Unlock()

	bctx, err := m.browser.NewContext(m.contextOptions())
	if err != nil {
		m.wg.Done()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if m.cfg.DefaultTimeout > 0 {
		bctx.SetDefaultTimeout(float64(m.cfg.DefaultTimeout.Milliseconds()))
	}
	if m.cfg.NavigationTimeout > 0 {
		bctx.SetDefaultNavigationTimeout(float64(m.cfg.NavigationTimeout.Milliseconds()))
	}

	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		m.wg.Done()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	p := newPage(pg, bctx, m.logger.Named("page"), m.cfg.DefaultTimeout)
	p.onClose = func() {
		m.mu.Lock()
		delete(m.pages, p)
		m.mu.Unlock()
		m.wg.Done()
	}

	m.mu.Lock()
	m.pages[p] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("Page opened in new browser context.")
	return p, nil
}

// Shutdown closes every open page, then the browser and the driver.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.Lock()
	m.closed = true
	pw, browser := m.pw, m.browser
	open := make([]*Page, 0, len(m.pages))
	for p := range m.pages {
		open = append(open, p)
	}
	m.mu.Unlock()

	if pw == nil {
		m.logger.Info("Manager not fully initialized, skipping full shutdown sequence.")
		return nil
	}

	for _, p := range open {
		go func(p *Page) {
			if err := p.Close(ctx); err != nil {
				m.logger.Warn("Error closing page during shutdown.", zap.Error(err))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All pages closed gracefully.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for pages to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	// Browser and driver teardown get their own budget.
	cleanupDone := make(chan error, 1)
	go func() {
		var errs []error
		if err := browser.Close(); err != nil {
			m.logger.Error("Failed to close browser instance.", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		if err := pw.Stop(); err != nil {
			m.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to stop playwright driver: %w", err))
		}
		cleanupDone <- errors.Join(errs...)
	}()

	select {
	case err := <-cleanupDone:
		m.logger.Info("Browser manager shutdown complete.")
		return err
	case <-time.After(shutdownGracePeriod):
		return fmt.Errorf("browser teardown exceeded %s", shutdownGracePeriod)
	}
}
