// internal/browser/session/driver.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/browser/shim"
	"github.com/xkilldash9x/atlas-cli/internal/browser/stealth"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

// ErrShutdown is returned by NewPage after Shutdown has begun.
var ErrShutdown = errors.New("cdp driver is shut down")

const (
	launchTimeout       = 60 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

// Driver runs Chromium over the DevTools protocol with chromedp. Each page
// gets its own browser context, the CDP equivalent of an incognito profile.
type Driver struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	sec     config.SecurityConfig
	engine  string
	persona stealth.Persona

	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	browserCtx    context.Context

	pages  map[*Page]struct{}
	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup // Open pages.

	initOnce sync.Once
	initErr  error
}

var _ schemas.BrowserProvider = (*Driver)(nil)

// NewDriver prepares a CDP driver. Chromium starts on the first NewPage call.
func NewDriver(cfg config.Interface, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := shim.BuildEngine(shim.EngineConfig{Namespace: shim.DefaultNamespace})
	if err != nil {
		return nil, fmt.Errorf("failed to build selector engine: %w", err)
	}
	d := &Driver{
		logger:  logger.Named("cdp_driver"),
		cfg:     cfg.Browser(),
		sec:     cfg.Security(),
		engine:  engine,
		persona: stealth.PersonaFromConfig(cfg.Browser()),
		pages:   make(map[*Page]struct{}),
	}
	d.logger.Info("CDP driver created (launch deferred).")
	return d, nil
}

// allocatorFlags maps the browser config onto Chromium command-line flags.
// chromedp adds the leading dashes; a false value removes a default flag.
func allocatorFlags(cfg config.BrowserConfig, userAgent string) map[string]any {
	w, h := cfg.ViewportSize()
	flags := map[string]any{
		"headless":                      cfg.Headless,
		"enable-automation":             false,
		"no-sandbox":                    true,
		"disable-gpu":                   true,
		"disable-dev-shm-usage":         true,
		"disable-blink-features":        "AutomationControlled",
		"disable-features":              "IsolateOrigins,site-per-process",
		"disable-site-isolation-trials": true,
		"window-size":                   fmt.Sprintf("%d,%d", w, h),
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if cfg.ProxyURL != "" {
		flags["proxy-server"] = cfg.ProxyURL
	}
	if userAgent != "" {
		flags["user-agent"] = userAgent
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		// Handle key=value flags.
		if key, value, ok := strings.Cut(arg, "="); ok {
			flags[key] = value
			continue
		}
		flags[arg] = true
	}
	return flags
}

// DefaultAllocatorOptions returns the chromedp defaults overlaid with the
// configured flags.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg, stealth.PersonaFromConfig(cfg).UserAgent) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// initialize starts Chromium. The browser lives on a background context so
// it outlives the request that triggered the launch.
func (d *Driver) initialize(ctx context.Context) error {
	d.initOnce.Do(func() {
		d.logger.Info("Launching Chromium over CDP...")

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(d.cfg)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		started := make(chan error, 1)
		go func() { started <- chromedp.Run(browserCtx) }()

		var err error
		select {
		case err = <-started:
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(launchTimeout):
			err = fmt.Errorf("browser did not start within %s", launchTimeout)
		}
		if err != nil {
			browserCancel()
			allocCancel()
			d.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}

		d.mu.Lock()
		d.allocCancel = allocCancel
		d.browserCancel = browserCancel
		d.browserCtx = browserCtx
		d.mu.Unlock()
		d.logger.Info("Browser launched successfully and is responsive.")
	})
	return d.initErr
}

// NewPage opens a tab in a fresh browser context.
func (d *Driver) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := d.initialize(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrShutdown
	}
	d.wg.Add(1)
	browserCtx := d.browserCtx
	d.mu.Unlock()

	c := chromedp.FromContext(browserCtx)
	exec := cdp.WithExecutor(ctx, c.Browser)

	bcID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(exec)
	if err != nil {
		d.wg.Done()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	dispose := func(ctx context.Context) error {
		return target.DisposeBrowserContext(bcID).Do(cdp.WithExecutor(ctx, c.Browser))
	}

	if d.sec.BlockDownloads {
		err := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny).WithBrowserContextID(bcID).Do(exec)
		if err != nil {
			d.logger.Warn("Could not block downloads for browser context.", zap.Error(err))
		}
	}

	tid, err := target.CreateTarget("about:blank").WithBrowserContextID(bcID).Do(exec)
	if err != nil {
		_ = dispose(context.WithoutCancel(ctx))
		d.wg.Done()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(tid))
	p := newPage(tabCtx, cancel, cdp.FrameID(tid), d.engine, d.cfg.DefaultTimeout, d.logger.Named("page"))

	w, h := d.cfg.ViewportSize()
	setup := chromedp.Tasks{
		network.Enable(),
		runtime.Enable(),
		page.Enable(),
		stealth.Apply(d.persona, d.logger),
		emulation.SetDeviceMetricsOverride(int64(w), int64(h), 1, false),
	}
	// The first Run attaches the target and binds its event loop to tabCtx,
	// so it cannot use a request-scoped context.
	err = chromedp.Run(tabCtx)
	if err == nil {
		err = p.RunActions(ctx, setup)
	}
	if err != nil {
		cancel()
		_ = dispose(context.WithoutCancel(ctx))
		d.wg.Done()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}

	var once sync.Once
	p.onClose = func(ctx context.Context) error {
		var err error
		once.Do(func() {
			if cerr := target.CloseTarget(tid).Do(cdp.WithExecutor(ctx, c.Browser)); cerr != nil {
				err = fmt.Errorf("failed to close tab: %w", cerr)
			}
			if derr := dispose(ctx); derr != nil {
				err = errors.Join(err, fmt.Errorf("failed to dispose browser context: %w", derr))
			}
			d.mu.Lock()
			delete(d.pages, p)
			d.mu.Unlock()
			d.wg.Done()
		})
		return err
	}

	d.mu.Lock()
	d.pages[p] = struct{}{}
	d.mu.Unlock()

	d.logger.Debug("Page opened in new browser context.", zap.String("target_id", string(tid)))
	return p, nil
}

// Shutdown closes every open page and then the browser process.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.logger.Info("Shutting down CDP driver.")

	d.mu.Lock()
	d.closed = true
	browserCtx, browserCancel, allocCancel := d.browserCtx, d.browserCancel, d.allocCancel
	open := make([]*Page, 0, len(d.pages))
	for p := range d.pages {
		open = append(open, p)
	}
	d.mu.Unlock()

	if browserCtx == nil {
		d.logger.Info("Driver not launched, skipping full shutdown sequence.")
		return nil
	}

	for _, p := range open {
		go func(p *Page) {
			if err := p.Close(ctx); err != nil {
				d.logger.Warn("Error closing page during shutdown.", zap.Error(err))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("All pages closed gracefully.")
	case <-ctx.Done():
		d.logger.Warn("Timeout waiting for pages to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	cleanupDone := make(chan error, 1)
	go func() {
		err := chromedp.Cancel(browserCtx)
		browserCancel()
		allocCancel()
		cleanupDone <- err
	}()

	select {
	case err := <-cleanupDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("Failed to close browser.", zap.Error(err))
			return fmt.Errorf("failed to close browser: %w", err)
		}
		d.logger.Info("CDP driver shut down.")
		return nil
	case <-time.After(shutdownGracePeriod):
		allocCancel()
		return fmt.Errorf("browser did not exit within %s", shutdownGracePeriod)
	}
}
