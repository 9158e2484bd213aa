// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/atlas-cli/internal/config"
	"github.com/xkilldash9x/atlas-cli/internal/metrics"
)

// Result is the outcome of one action.
type Result struct {
	Success bool
	Error   string
	Code    schemas.ErrorCode
	Data    map[string]any
}

func ok(data map[string]any) Result { return Result{Success: true, Data: data} }

func fail(code schemas.ErrorCode, format string, args ...any) Result {
	return Result{Code: code, Error: fmt.Sprintf(format, args...)}
}

// Options carries the timing and healing limits.
type Options struct {
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
	WaitAfterAction   time.Duration
	CandidateTimeout  time.Duration
	ClickCandidates   int
	FillCandidates    int
}

// OptionsFromConfig reads Options from the browser, agent and heal sections.
func OptionsFromConfig(cfg config.Interface) Options {
	return Options{
		DefaultTimeout:    cfg.Browser().DefaultTimeout,
		NavigationTimeout: cfg.Browser().NavigationTimeout,
		WaitAfterAction:   cfg.Agent().WaitAfterAction,
		CandidateTimeout:  cfg.Heal().CandidateTimeout,
		ClickCandidates:   cfg.Heal().ClickCandidates,
		FillCandidates:    cfg.Heal().FillCandidates,
	}
}

// Executor performs single actions against a page.
type Executor struct {
	logger  *zap.Logger
	opts    Options
	pacer   *humanoid.Humanoid
	metrics *metrics.Collector
	sleep   humanoid.SleepFunc
}

// New creates an Executor. pacer and collector may be nil.
func New(logger *zap.Logger, opts Options, pacer *humanoid.Humanoid, collector *metrics.Collector) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pacer == nil {
		pacer = humanoid.New(config.HumanoidConfig{}, logger)
	}
	return &Executor{
		logger:  logger.Named("executor"),
		opts:    opts,
		pacer:   pacer,
		metrics: collector,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// settle waits wait_after_action after a mutating action.
func (e *Executor) settle(ctx context.Context) {
	_ = e.sleep(ctx, e.opts.WaitAfterAction)
}

// Execute performs action on page. It never panics; driver panics become
// failed results.
func (e *Executor) Execute(ctx context.Context, page schemas.Page, action schemas.Action) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Action panicked.", zap.Any("panic", r), zap.Stack("stack"))
			res = fail(schemas.CodeActionFailed, "Action panicked: %v", r)
		}
	}()

	e.logger.Info("Executing action.", zap.String("action", schemas.DescribeAction(action)))

	switch a := action.(type) {
	case schemas.ClickAction:
		return e.click(ctx, page, a)
	case schemas.FillAction:
		return e.fill(ctx, page, a)
	case schemas.GotoAction:
		return e.gotoURL(ctx, page, a)
	case schemas.PressAction:
		return e.press(ctx, page, a)
	case schemas.SelectAction:
		return e.selectOption(ctx, page, a)
	case schemas.WaitForSelectorAction:
		return e.waitFor(ctx, page, a)
	case schemas.AssertURLIncludesAction:
		return e.assertURL(page, a)
	case schemas.DoneAction:
		return ok(map[string]any{"summary": a.Summary})
	default:
		return fail(schemas.CodeUnknownAction, "Unknown action type: %T", action)
	}
}

// firstIfMany narrows loc to its first match when several elements match.
func firstIfMany(ctx context.Context, loc schemas.Locator) (schemas.Locator, int) {
	n, err := loc.Count(ctx)
	if err != nil {
		return loc, 0
	}
	if n > 1 {
		return loc.First(), n
	}
	return loc, n
}

// -- Click --

func (e *Executor) clickLocator(ctx context.Context, page schemas.Page, loc schemas.Locator, timeout time.Duration) error {
	if err := loc.WaitVisible(ctx, timeout); err != nil {
		return err
	}
	if err := loc.ScrollIntoView(ctx); err != nil {
		e.logger.Debug("Scroll into view failed.", zap.String("selector", loc.Selector()), zap.Error(err))
	}
	return e.pacer.Click(ctx, page, loc)
}

func (e *Executor) click(ctx context.Context, page schemas.Page, a schemas.ClickAction) Result {
	sel := a.Selector
	loc, count := firstIfMany(ctx, page.Locate(sel))
	multiple := count > 1
	if multiple {
		e.logger.Warn("Multiple elements matched; using the first.", zap.String("selector", sel), zap.Int("count", count))
	}

	err := e.clickLocator(ctx, page, loc, e.opts.DefaultTimeout)
	if err == nil {
		e.settle(ctx)
		e.logger.Info("Clicked.", zap.String("selector", sel))
		return ok(map[string]any{"clicked": sel, "multiple_found": multiple})
	}
	if ctx.Err() != nil {
		return fail(schemas.CodeTimeoutError, "Click failed: %v", ctx.Err())
	}

	if isMultipleMatch(err) {
		e.logger.Warn("Strict mode violation; retrying first match.", zap.String("selector", sel))
		if err2 := e.clickLocator(ctx, page, page.Locate(sel).First(), e.opts.DefaultTimeout); err2 == nil {
			e.settle(ctx)
			return ok(map[string]any{"clicked": sel, "multiple_found": true, "used_first": true})
		}
	} else if !isTimeout(err) && !errors.Is(err, schemas.ErrElementNotFound) {
		return fail(ParseBrowserError(err), "Click failed: %v", err)
	}

	e.logger.Warn("Click timed out; trying healed selectors.", zap.String("selector", sel), zap.Error(err))
	for _, cand := range ClickCandidates(sel, e.opts.ClickCandidates) {
		if ctx.Err() != nil {
			break
		}
		cloc, _ := firstIfMany(ctx, page.Locate(cand))
		if err := e.clickLocator(ctx, page, cloc, e.opts.CandidateTimeout); err != nil {
			e.logger.Debug("Candidate failed.", zap.String("candidate", cand), zap.Error(err))
			continue
		}
		e.metrics.HealAttempt("click", true)
		e.settle(ctx)
		e.logger.Info("Click succeeded with healed selector.", zap.String("original", sel), zap.String("healed", cand))
		return ok(map[string]any{"clicked": cand, "multiple_found": multiple, "healed": true})
	}
	e.metrics.HealAttempt("click", false)
	return fail(schemas.CodeElementNotFound, "Element not found or not clickable: %s", sel)
}

// -- Fill --

func (e *Executor) fillLocator(ctx context.Context, loc schemas.Locator, value string, pressEnter bool, timeout time.Duration) error {
	if err := loc.WaitVisible(ctx, timeout); err != nil {
		return err
	}
	if err := loc.Clear(ctx); err != nil {
		return err
	}
	if err := e.pacer.Type(ctx, loc, value); err != nil {
		return err
	}
	if pressEnter {
		return loc.Press(ctx, "Enter")
	}
	return nil
}

func (e *Executor) fill(ctx context.Context, page schemas.Page, a schemas.FillAction) Result {
	sel := a.Selector
	length := utf8.RuneCountInString(a.Value)

	err := e.fillLocator(ctx, page.Locate(sel), a.Value, a.PressEnter, e.opts.DefaultTimeout)
	if err == nil {
		e.settle(ctx)
		e.logger.Info("Filled field.", zap.String("selector", sel), zap.Int("value_length", length))
		return ok(map[string]any{"filled": sel, "value_length": length})
	}
	if ctx.Err() != nil {
		return fail(schemas.CodeTimeoutError, "Fill failed: %v (selector: %s)", ctx.Err(), sel)
	}

	e.logger.Warn("Fill failed; trying healed selectors.", zap.String("selector", sel), zap.Error(err))
	for _, cand := range FillCandidates(sel, a.Value, e.opts.FillCandidates) {
		if ctx.Err() != nil {
			break
		}
		cloc, n := firstIfMany(ctx, page.Locate(cand))
		if n == 0 {
			continue
		}
		if cerr := e.fillLocator(ctx, cloc, a.Value, a.PressEnter, e.opts.CandidateTimeout); cerr != nil {
			e.logger.Debug("Candidate failed.", zap.String("candidate", cand), zap.Error(cerr))
			continue
		}
		e.metrics.HealAttempt("fill", true)
		e.settle(ctx)
		e.logger.Info("Filled with healed selector.", zap.String("original", sel), zap.String("healed", cand))
		return ok(map[string]any{"filled": cand, "healed": true, "value_length": length})
	}
	e.metrics.HealAttempt("fill", false)

	if isTimeout(err) || errors.Is(err, schemas.ErrElementNotFound) {
		return fail(schemas.CodeElementNotFound, "Element not found: %s", sel)
	}
	return fail(ParseBrowserError(err), "Fill failed: %v (selector: %s)", err, sel)
}

// -- Navigation and keys --

func (e *Executor) gotoURL(ctx context.Context, page schemas.Page, a schemas.GotoAction) Result {
	res, err := page.Goto(ctx, a.URL, e.opts.NavigationTimeout)
	if err != nil {
		if isTimeout(err) {
			return fail(schemas.CodeTimeoutError, "Navigation timeout: %s", a.URL)
		}
		return fail(schemas.CodeNavigationError, "Navigation failed: %v", err)
	}
	if res.Status >= 400 {
		e.logger.Warn("Navigation returned error status.", zap.String("url", a.URL), zap.Int("status", res.Status))
	}
	e.settle(ctx)

	final := page.URL()
	e.logger.Info("Navigated.", zap.String("url", final))
	var status any
	if res.Status != 0 {
		status = res.Status
	}
	return ok(map[string]any{"navigated_to": final, "status": status})
}

func (e *Executor) press(ctx context.Context, page schemas.Page, a schemas.PressAction) Result {
	if err := page.Press(ctx, a.Key); err != nil {
		return fail(ParseBrowserError(err), "Key press failed: %v", err)
	}
	e.settle(ctx)
	return ok(map[string]any{"pressed": a.Key})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (e *Executor) selectOption(ctx context.Context, page schemas.Page, a schemas.SelectAction) Result {
	loc := page.Locate(a.Selector)
	if err := loc.WaitVisible(ctx, e.opts.DefaultTimeout); err != nil {
		if isTimeout(err) {
			return fail(schemas.CodeElementNotFound, "Select element not found: %s", a.Selector)
		}
		return fail(ParseBrowserError(err), "Select failed: %v", err)
	}

	var err error
	if isDigits(a.Value) {
		idx, _ := strconv.Atoi(a.Value)
		err = loc.SelectOption(ctx, schemas.SelectOptionValue{Index: &idx})
	} else if err = loc.SelectOption(ctx, schemas.SelectOptionValue{Value: a.Value}); err != nil {
		err = loc.SelectOption(ctx, schemas.SelectOptionValue{Label: a.Value})
	}
	if err != nil {
		return fail(ParseBrowserError(err), "Select failed: %v", err)
	}
	e.settle(ctx)
	return ok(map[string]any{"selected": a.Value, "selector": a.Selector})
}

func (e *Executor) waitFor(ctx context.Context, page schemas.Page, a schemas.WaitForSelectorAction) Result {
	timeout := time.Duration(schemas.ClampWaitTimeout(a.TimeoutMs)) * time.Millisecond
	if err := page.Locate(a.Selector).WaitVisible(ctx, timeout); err != nil {
		if isTimeout(err) {
			return fail(schemas.CodeTimeoutError, "Element did not appear within %dms: %s", timeout.Milliseconds(), a.Selector)
		}
		return fail(ParseBrowserError(err), "Wait failed: %v", err)
	}
	return ok(map[string]any{"found": a.Selector})
}

func (e *Executor) assertURL(page schemas.Page, a schemas.AssertURLIncludesAction) Result {
	current := page.URL()
	if !strings.Contains(current, a.Value) {
		return fail(schemas.CodeActionFailed, "URL does not contain '%s'. Current: %s", a.Value, current)
	}
	return ok(map[string]any{"url": current, "contains": a.Value})
}
