// internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/atlas-cli/internal/challenge"
	"github.com/xkilldash9x/atlas-cli/internal/config"
	"github.com/xkilldash9x/atlas-cli/internal/executor"
	"github.com/xkilldash9x/atlas-cli/internal/metrics"
	"github.com/xkilldash9x/atlas-cli/internal/netwatch"
	"github.com/xkilldash9x/atlas-cli/internal/oracle"
	"github.com/xkilldash9x/atlas-cli/internal/safety"
)

// Step reasoning texts for steps that produced no executed action.
const (
	ReasonChallenge      = "CAPTCHA detected that requires human intervention"
	ReasonProviderError  = "Failed to generate action from LLM provider"
	ReasonInvalidAction  = "Failed to generate valid action"
	ReasonNeedsConfirm   = "Action requires human confirmation"
	policyBlockedMessage = "Action blocked by security policy: %s"
)

// Options bounds and shapes the loop.
type Options struct {
	MaxSteps               int
	StepTimeout            time.Duration
	TotalTimeout           time.Duration
	ScreenshotEveryStep    bool
	VisionEnabled          bool
	ContentBudget          int
	CleanHTML              bool
	HistoryWindow          int
	ObservationEventWindow time.Duration
	PruneEvery             int
	Retention              time.Duration
	VerifyBackendSuccess   bool
	FillPostCheckDelay     time.Duration
	FillPostCheckWindow    time.Duration
	ScreenshotDir          string
}

// OptionsFromConfig reads Options from the agent and network sections.
func OptionsFromConfig(cfg config.Interface) Options {
	a, n := cfg.Agent(), cfg.Network()
	return Options{
		MaxSteps:               a.MaxSteps,
		StepTimeout:            a.StepTimeout,
		TotalTimeout:           a.TotalTimeout,
		ScreenshotEveryStep:    a.ScreenshotEveryStep,
		VisionEnabled:          a.VisionEnabled,
		ContentBudget:          a.ContentBudget,
		CleanHTML:              a.CleanHTML,
		HistoryWindow:          a.HistoryWindow,
		ObservationEventWindow: a.ObservationEventWindow,
		PruneEvery:             a.PruneEvery,
		Retention:              n.Retention,
		VerifyBackendSuccess:   n.VerifyBackendSuccess,
		FillPostCheckDelay:     a.FillPostCheckDelay,
		FillPostCheckWindow:    a.FillPostCheckWindow,
		ScreenshotDir:          a.ScreenshotDir,
	}
}

// Loop runs the observe, reason, validate, act cycle for one session at a
// time. A Loop holds no per-session state and may be shared.
type Loop struct {
	oracle     schemas.Oracle
	executor   *executor.Executor
	challenges *challenge.Handler
	validator  *safety.Validator
	metrics    *metrics.Collector
	opts       Options
	logger     *zap.Logger

	now   func() time.Time
	sleep humanoid.SleepFunc
}

// NewLoop wires a loop from its collaborators.
func NewLoop(logger *zap.Logger, opts Options, o schemas.Oracle, exec *executor.Executor, challenges *challenge.Handler, validator *safety.Validator, collector *metrics.Collector) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		oracle:     o,
		executor:   exec,
		challenges: challenges,
		validator:  validator,
		metrics:    collector,
		opts:       opts,
		logger:     logger.Named("agent_loop"),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

func (l *Loop) maxSteps(s *schemas.Session) int {
	if s.MaxSteps > 0 {
		return s.MaxSteps
	}
	return l.opts.MaxSteps
}

// transition applies a status change, tolerating a racing Stop.
func (l *Loop) transition(logger *zap.Logger, s *schemas.Session, to schemas.SessionStatus) {
	if err := s.Transition(to); err != nil {
		logger.Debug("Status change skipped.", zap.String("to", to.String()), zap.Error(err))
	}
}

func (l *Loop) fail(logger *zap.Logger, s *schemas.Session, msg string) {
	logger.Warn(msg)
	if err := s.Fail(msg); err != nil {
		logger.Debug("Failure not recorded.", zap.Error(err))
	}
}

// Run drives session until it leaves RUNNING, the step budget is spent, or
// the total timeout, counted across resumes, elapses. Cancelling ctx stops
// the session.
func (l *Loop) Run(ctx context.Context, session *schemas.Session, page schemas.Page, corr *netwatch.Correlator) *schemas.Session {
	logger := l.logger.With(zap.String("session_id", session.ID))
	maxSteps := l.maxSteps(session)
	start := l.now()
	prior := session.ActiveTime()
	spent := func() time.Duration { return prior + l.now().Sub(start) }
	logger.Info("Starting agent loop.",
		zap.Int("max_steps", maxSteps),
		zap.Strings("goals", session.Goals),
		zap.Duration("prior_active", prior))

	l.metrics.LoopEntered()
	defer l.metrics.LoopExited()

	timedOut := false
	for session.Status() == schemas.StatusRunning && session.StepCount() < maxSteps {
		if ctx.Err() != nil {
			break
		}
		elapsed := spent()
		if l.opts.TotalTimeout > 0 && elapsed >= l.opts.TotalTimeout {
			timedOut = true
			break
		}

		budget := l.opts.StepTimeout
		sessionBound := false
		if remaining := l.opts.TotalTimeout - elapsed; l.opts.TotalTimeout > 0 && (budget <= 0 || remaining < budget) {
			budget, sessionBound = remaining, true
		}

		var stepCtx context.Context
		var cancel context.CancelFunc
		if budget > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, budget)
		} else {
			stepCtx, cancel = context.WithCancel(ctx)
		}
		number := session.StepCount() + 1
		step := l.runStep(stepCtx, logger, session, page, corr, number)
		deadlineHit := errors.Is(stepCtx.Err(), context.DeadlineExceeded)
		cancel()

		if ctx.Err() != nil {
			break
		}
		if deadlineHit {
			if sessionBound {
				timedOut = true
				break
			}
			l.fail(logger, session, fmt.Sprintf("Step timeout after %s", l.opts.StepTimeout))
			break
		}

		if err := session.AppendStep(step); err != nil {
			logger.Error("Failed to record step.", zap.Error(err))
			l.fail(logger, session, err.Error())
			break
		}
		actionName := "none"
		if step.Action != nil {
			actionName = step.Action.Type().String()
		}
		l.metrics.StepRecorded(actionName, step.Error == "", step.Duration)
		l.saveScreenshot(logger, session.ID, step)

		if d, done := step.Action.(schemas.DoneAction); done && step.Error == "" {
			logger.Info("Session completed.", zap.String("summary", d.Summary))
			l.transition(logger, session, schemas.StatusCompleted)
			break
		}
		if step.Error != "" {
			logger.Warn("Step error.", zap.Int("step", step.Number), zap.String("error", step.Error))
			if schemas.NeedsHuman(step.Error) {
				l.transition(logger, session, schemas.StatusWaitingHuman)
			} else {
				l.fail(logger, session, step.Error)
			}
			break
		}

		if l.opts.PruneEvery > 0 && corr != nil && session.StepCount()%l.opts.PruneEvery == 0 {
			l.metrics.EventsPruned(corr.Prune(l.opts.Retention))
		}
	}

	switch {
	case ctx.Err() != nil:
		l.transition(logger, session, schemas.StatusStopped)
	case session.Status() != schemas.StatusRunning:
	case timedOut || (l.opts.TotalTimeout > 0 && spent() >= l.opts.TotalTimeout):
		l.fail(logger, session, fmt.Sprintf("Total timeout (%s) reached", l.opts.TotalTimeout))
	case session.StepCount() >= maxSteps:
		l.fail(logger, session, fmt.Sprintf("Max steps (%d) reached", maxSteps))
	}

	session.AddActiveTime(l.now().Sub(start))
	status := session.Status()
	if status != schemas.StatusWaitingHuman {
		l.metrics.SessionFinished(status.String())
	}
	logger.Info("Agent loop finished.",
		zap.String("status", status.String()),
		zap.Int("steps", session.StepCount()),
		zap.Duration("duration", l.now().Sub(start)))
	return session
}

// runStep performs one iteration. It always returns a step; errors are
// carried in Step.Error.
func (l *Loop) runStep(ctx context.Context, logger *zap.Logger, session *schemas.Session, page schemas.Page, corr *netwatch.Correlator, number int) schemas.Step {
	started := l.now()
	step := schemas.Step{Number: number, Timestamp: started}
	logger = logger.With(zap.Int("step", number))

	logger.Debug("Observing page state.")
	step.Observation = l.observe(ctx, page, corr)

	switch outcome, reason := l.checkChallenge(ctx, logger, page, step.Observation.Screenshot); outcome {
	case challengeBlocked:
		step.Reasoning = ReasonChallenge
		step.Error = reason
		step.Code = schemas.CodeChallengePresent
		step.Duration = l.now().Sub(started)
		return step
	case challengeCleared:
		step.Observation = l.observe(ctx, page, corr)
	}

	logger.Debug("Reasoning about next action.")
	observation := FormatObservation(step.Observation)
	if hints := oracle.ProfileHints(session.Profile); hints != "" {
		observation += "\n\n" + hints
	}
	proposal, err := l.oracle.GenerateAction(ctx, observation, session.Goals, history(session.Steps()))
	if err != nil {
		logger.Error("Oracle failed.", zap.Error(err))
		step.Code = schemas.CodeOracleFailure
		if errors.Is(err, schemas.ErrInvalidActionSchema) {
			step.Reasoning = ReasonInvalidAction
			step.Error = schemas.ErrInvalidActionSchema.Error()
		} else {
			step.Reasoning = ReasonProviderError
			step.Error = err.Error()
		}
		step.Duration = l.now().Sub(started)
		return step
	}
	step.Action = proposal.Action
	// Policy sees real values; history keeps the placeholder form.
	resolved := executor.ResolveProfile(proposal.Action, session.Profile)

	decision := l.validator.Evaluate(resolved, page.URL())
	l.metrics.PolicyDecision(string(decision.Verdict))
	switch decision.Verdict {
	case safety.Deny:
		step.Reasoning = fmt.Sprintf(policyBlockedMessage, decision.Reason)
		step.Error = step.Reasoning
		step.Code = schemas.CodePolicyDenied
		step.Duration = l.now().Sub(started)
		return step
	case safety.NeedsConfirmation:
		logger.Warn("Action requires human confirmation.", zap.String("reason", decision.Reason))
		step.Reasoning = ReasonNeedsConfirm
		step.Error = decision.Reason + "; " + schemas.HumanInterventionMarker
		step.Code = schemas.CodeNeedsConfirmation
		step.Duration = l.now().Sub(started)
		return step
	}

	logger.Debug("Executing action.", zap.String("action", schemas.DescribeAction(proposal.Action)))
	step.Reasoning = proposal.Reasoning
	res := l.executor.Execute(ctx, page, resolved)
	step.Result = l.evaluate(ctx, proposal.Action, res, corr)
	if !res.Success {
		step.Error = res.Error
		step.Code = res.Code
	}
	step.Duration = l.now().Sub(started)
	return step
}

type challengeOutcome int

const (
	challengeNone challengeOutcome = iota
	challengeCleared
	challengeBlocked
)

// checkChallenge runs detection and, with vision enabled, one resolution
// cycle. The reason is set only for challengeBlocked.
func (l *Loop) checkChallenge(ctx context.Context, logger *zap.Logger, page schemas.Page, screenshot []byte) (challengeOutcome, string) {
	if l.challenges == nil {
		return challengeNone, ""
	}
	det, err := l.challenges.Detector().Detect(ctx, page)
	if err != nil || !det.Present {
		return challengeNone, ""
	}
	logger.Warn("CAPTCHA detected.", zap.String("kind", string(det.Kind)))
	if !l.opts.VisionEnabled {
		return challengeNone, ""
	}
	if ok, reason := l.challenges.Handle(ctx, page, screenshot); !ok {
		if reason == "" {
			reason = challenge.ReasonDefault
		}
		return challengeBlocked, reason
	}
	logger.Info("CAPTCHA handled autonomously.")
	return challengeCleared, ""
}

// evaluate builds the result summary, noting a form POST after a fill.
func (l *Loop) evaluate(ctx context.Context, action schemas.Action, res executor.Result, corr *netwatch.Correlator) string {
	if !res.Success {
		return "Failed: " + res.Error
	}
	summary := "Success"
	if _, isFill := action.(schemas.FillAction); isFill && l.opts.VerifyBackendSuccess && corr != nil {
		if err := l.sleep(ctx, l.opts.FillPostCheckDelay); err != nil {
			return summary
		}
		if posts := corr.RecentEvents(l.opts.FillPostCheckWindow, netwatch.Filter{Method: http.MethodPost}); len(posts) > 0 {
			note := "Form submitted to " + posts[0].URL
			if !corr.CheckBackendSuccess(posts[0].URL, http.MethodPost, l.opts.FillPostCheckWindow) {
				note += ", no successful response"
			}
			summary += " (" + note + ")"
		}
	}
	return summary
}

func history(steps []schemas.Step) []schemas.HistoryEntry {
	out := make([]schemas.HistoryEntry, 0, len(steps))
	for _, s := range steps {
		out = append(out, schemas.HistoryEntry{Action: s.Action, Result: s.Result, Error: s.Error})
	}
	return out
}

// saveScreenshot writes the step screenshot when a directory is configured.
func (l *Loop) saveScreenshot(logger *zap.Logger, sessionID string, step schemas.Step) {
	if l.opts.ScreenshotDir == "" || len(step.Observation.Screenshot) == 0 {
		return
	}
	dir, err := homedir.Expand(l.opts.ScreenshotDir)
	if err != nil {
		logger.Warn("Invalid screenshot directory.", zap.Error(err))
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Could not create screenshot directory.", zap.Error(err))
		return
	}
	name := filepath.Join(dir, fmt.Sprintf("%s-step-%03d.png", sessionID, step.Number))
	if err := os.WriteFile(name, step.Observation.Screenshot, 0o644); err != nil {
		logger.Warn("Could not save screenshot.", zap.Error(err))
	}
}
