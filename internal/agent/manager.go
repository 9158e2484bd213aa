// internal/agent/manager.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/challenge"
	"github.com/xkilldash9x/atlas-cli/internal/config"
	"github.com/xkilldash9x/atlas-cli/internal/metrics"
	"github.com/xkilldash9x/atlas-cli/internal/netwatch"
	"github.com/xkilldash9x/atlas-cli/internal/safety"
)

// MaxStepsLimit is the largest step budget a request may ask for.
const MaxStepsLimit = 100

var (
	// ErrInvalidRequest wraps every RunRequest validation failure.
	ErrInvalidRequest = errors.New("invalid run request")
	// ErrNotWaiting is returned by Continue for a session not in WAITING_HUMAN.
	ErrNotWaiting = errors.New("session is not waiting for human input")
	// ErrManagerClosed is returned once Shutdown has begun.
	ErrManagerClosed = errors.New("session manager is shut down")
)

// RunRequest asks for one session.
type RunRequest struct {
	URL      string           `json:"url" yaml:"url"`
	Goals    []string         `json:"goals" yaml:"goals"`
	Profile  *schemas.Profile `json:"profile,omitempty" yaml:"profile"`
	MaxSteps int              `json:"max_steps,omitempty" yaml:"max_steps"`
}

// Validate checks the request. A zero MaxSteps is allowed and means the
// configured default.
func (r RunRequest) Validate(blockPrivateTargets bool) error {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL: %q", ErrInvalidRequest, r.URL)
	}
	if blockPrivateTargets && !safety.IsSafeURL(r.URL) {
		return fmt.Errorf("%w: url targets a private or local address: %q", ErrInvalidRequest, r.URL)
	}
	if len(r.Goals) == 0 {
		return fmt.Errorf("%w: at least one goal is required", ErrInvalidRequest)
	}
	if r.MaxSteps < 0 || r.MaxSteps > MaxStepsLimit {
		return fmt.Errorf("%w: max_steps must be between 1 and %d", ErrInvalidRequest, MaxStepsLimit)
	}
	return nil
}

// ManagerOptions holds the settings the manager applies around the loop.
type ManagerOptions struct {
	DefaultMaxSteps     int
	BlockPrivateTargets bool
	NavigationTimeout   time.Duration
	WaitOnContinue      bool
	HumanWaitTimeout    time.Duration
	Network             netwatch.Options
}

// ManagerOptionsFromConfig reads ManagerOptions from cfg.
func ManagerOptionsFromConfig(cfg config.Interface) ManagerOptions {
	n := cfg.Network()
	return ManagerOptions{
		DefaultMaxSteps:     cfg.Agent().MaxSteps,
		BlockPrivateTargets: cfg.Security().BlockPrivateTargets,
		NavigationTimeout:   cfg.Browser().NavigationTimeout,
		WaitOnContinue:      cfg.Challenge().WaitOnContinue,
		HumanWaitTimeout:    cfg.Challenge().HumanWaitTimeout,
		Network: netwatch.Options{
			RecordResponses: n.RecordResponses,
			MaxPayloadBytes: n.MaxPayloadKB * 1024,
		},
	}
}

// run is the manager's handle on one session and the page it owns.
type run struct {
	session *schemas.Session
	page    schemas.Page
	corr    *netwatch.Correlator

	// loopMu admits one loop per session/page pair.
	loopMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once
}

func (r *run) finished() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Manager owns running sessions: it opens their pages, runs their loops in
// goroutines, and answers lookups through the injected store.
type Manager struct {
	provider   schemas.BrowserProvider
	store      schemas.SessionStore
	loop       *Loop
	challenges *challenge.Handler
	metrics    *metrics.Collector
	opts       ManagerOptions
	logger     *zap.Logger

	root       context.Context
	cancelRoot context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
}

// NewManager creates a manager. challenges may be nil when WaitOnContinue is
// off.
func NewManager(logger *zap.Logger, opts ManagerOptions, provider schemas.BrowserProvider, store schemas.SessionStore, loop *Loop, challenges *challenge.Handler, collector *metrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		provider:   provider,
		store:      store,
		loop:       loop,
		challenges: challenges,
		metrics:    collector,
		opts:       opts,
		logger:     logger.Named("agent_manager"),
		root:       root,
		cancelRoot: cancel,
		runs:       make(map[string]*run),
	}
}

// Start validates req, opens an isolated page, navigates to the start URL and
// runs the loop in the background. The returned session is RUNNING.
func (m *Manager) Start(ctx context.Context, req RunRequest) (*schemas.Session, error) {
	if err := req.Validate(m.opts.BlockPrivateTargets); err != nil {
		return nil, err
	}
	maxSteps := req.MaxSteps
	if maxSteps == 0 {
		maxSteps = m.opts.DefaultMaxSteps
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}

	page, err := m.provider.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser context: %w", err)
	}
	session := schemas.NewSession(uuid.NewString(), req.URL, req.Goals, req.Profile, maxSteps)
	logger := m.logger.With(zap.String("session_id", session.ID))

	corr := netwatch.New(logger, m.opts.Network)
	page.Subscribe(corr)

	if err := m.store.Save(ctx, session); err != nil {
		_ = page.Close(context.Background())
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	r := &run{session: session, page: page, corr: corr}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = page.Close(context.Background())
		return nil, ErrManagerClosed
	}
	m.runs[session.ID] = r
	m.mu.Unlock()

	logger.Info("Session started.", zap.String("url", req.URL), zap.Int("max_steps", maxSteps))
	m.metrics.SessionStarted()
	m.launch(r, true)
	return session, nil
}

// launch runs the loop for r in a new goroutine. navigate performs the
// initial page load first.
func (m *Manager) launch(r *run, navigate bool) {
	ctx, cancel := context.WithCancel(m.root)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		r.loopMu.Lock()
		defer r.loopMu.Unlock()

		logger := m.logger.With(zap.String("session_id", r.session.ID))
		if navigate && !m.navigate(ctx, logger, r) {
			m.settle(logger, r)
			return
		}
		m.loop.Run(ctx, r.session, r.page, r.corr)
		m.settle(logger, r)
	}()
}

func (m *Manager) navigate(ctx context.Context, logger *zap.Logger, r *run) bool {
	res, err := r.page.Goto(ctx, r.session.StartURL, m.opts.NavigationTimeout)
	if err == nil {
		logger.Debug("Initial navigation finished.", zap.String("url", res.URL), zap.Int("status", res.Status))
		return true
	}
	if ctx.Err() != nil {
		_ = r.session.Transition(schemas.StatusStopped)
		return false
	}
	msg := fmt.Sprintf("Navigation to %s failed: %v", r.session.StartURL, err)
	logger.Error("Initial navigation failed.", zap.Error(err))
	if ferr := r.session.Fail(msg); ferr == nil {
		m.metrics.SessionFinished(schemas.StatusFailed.String())
	}
	return false
}

// settle persists the session after a loop exit and releases the page once
// the session can no longer resume.
func (m *Manager) settle(logger *zap.Logger, r *run) {
	if err := m.store.Save(context.Background(), r.session); err != nil {
		logger.Error("Failed to save session.", zap.Error(err))
	}
	if r.session.Status().IsTerminal() {
		m.releasePage(logger, r)
	}
}

func (m *Manager) releasePage(logger *zap.Logger, r *run) {
	r.release.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.page.Close(ctx); err != nil {
			logger.Warn("Failed to close browser context.", zap.Error(err))
		}
		logger.Debug("Browser context released.")
	})
}

func (m *Manager) lookup(id string) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
	}
	return r, nil
}

// Continue resumes a WAITING_HUMAN session on its existing page. When
// WaitOnContinue is set it first polls until any challenge clears; a timeout
// is logged and the loop resumes anyway.
func (m *Manager) Continue(ctx context.Context, id string) error {
	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	if st := r.session.Status(); st != schemas.StatusWaitingHuman {
		return fmt.Errorf("%w: status is %s", ErrNotWaiting, st)
	}
	// The previous loop has returned but may still be saving.
	<-r.finished()

	logger := m.logger.With(zap.String("session_id", id))
	if m.opts.WaitOnContinue && m.challenges != nil {
		cleared, err := m.challenges.WaitForHuman(ctx, r.page, m.opts.HumanWaitTimeout)
		switch {
		case err != nil:
			return fmt.Errorf("waiting for challenge to clear: %w", err)
		case !cleared:
			logger.Warn("Challenge still present, resuming anyway.")
		}
	}

	if err := r.session.Transition(schemas.StatusRunning); err != nil {
		return err
	}
	if err := m.store.Save(ctx, r.session); err != nil {
		logger.Error("Failed to save session.", zap.Error(err))
	}
	logger.Info("Session resumed.")
	m.launch(r, false)
	return nil
}

// Stop moves an active session to STOPPED and releases its page. An in-flight
// browser call is not interrupted; the loop notices on its next check.
func (m *Manager) Stop(ctx context.Context, id string) error {
	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	logger := m.logger.With(zap.String("session_id", id))
	wasWaiting := r.session.Status() == schemas.StatusWaitingHuman
	if err := r.session.Transition(schemas.StatusStopped); err != nil {
		return err
	}
	if wasWaiting {
		m.metrics.SessionFinished(schemas.StatusStopped.String())
	}
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.releasePage(logger, r)
	if err := m.store.Save(ctx, r.session); err != nil {
		logger.Error("Failed to save session.", zap.Error(err))
	}
	logger.Info("Session stopped.")
	return nil
}

// Wait blocks until the session's current loop goroutine exits.
func (m *Manager) Wait(ctx context.Context, id string) (*schemas.Session, error) {
	r, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-r.finished():
		return r.session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a snapshot of a stored session.
func (m *Manager) Get(ctx context.Context, id string) (schemas.SessionSnapshot, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return schemas.SessionSnapshot{}, err
	}
	return s.Snapshot(), nil
}

// List returns snapshots of all stored sessions, oldest first.
func (m *Manager) List(ctx context.Context) ([]schemas.SessionSnapshot, error) {
	sessions, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out, nil
}

// Summary returns the network summary for a session's page.
func (m *Manager) Summary(id string) (netwatch.Summary, error) {
	r, err := m.lookup(id)
	if err != nil {
		return netwatch.Summary{}, err
	}
	return r.corr.Summary(), nil
}

// Shutdown stops every session, waits for their loops and shuts the browser
// provider down. Waiting is bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	runs := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down session manager.", zap.Int("sessions", len(runs)))
	m.cancelRoot()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runs {
		g.Go(func() error {
			select {
			case <-r.finished():
			case <-gctx.Done():
				return gctx.Err()
			}
			if r.session.Status() == schemas.StatusWaitingHuman {
				if err := r.session.Transition(schemas.StatusStopped); err == nil {
					m.metrics.SessionFinished(schemas.StatusStopped.String())
				}
			}
			m.releasePage(m.logger.With(zap.String("session_id", r.session.ID)), r)
			return nil
		})
	}
	waitErr := g.Wait()

	if err := m.provider.Shutdown(ctx); err != nil {
		return errors.Join(waitErr, fmt.Errorf("browser shutdown: %w", err))
	}
	return waitErr
}
