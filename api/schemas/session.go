package schemas

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// -- Session Status --

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusRunning      SessionStatus = "RUNNING"
	StatusCompleted    SessionStatus = "COMPLETED"
	StatusFailed       SessionStatus = "FAILED"
	StatusStopped      SessionStatus = "STOPPED"
	StatusWaitingHuman SessionStatus = "WAITING_HUMAN"
)

func (s SessionStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition can leave s.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// ErrInvalidTransition is returned for a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid session status transition")

// validTransitions lists the allowed moves. Terminal states have no entry.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusRunning:      {StatusCompleted, StatusFailed, StatusStopped, StatusWaitingHuman},
	StatusWaitingHuman: {StatusRunning, StatusStopped},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to SessionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// -- Error Codes --

// ErrorCode classifies step and action failures.
type ErrorCode string

const (
	CodeActionFailed      ErrorCode = "ACTION_FAILED"
	CodeElementNotFound   ErrorCode = "ELEMENT_NOT_FOUND"
	CodeNavigationError   ErrorCode = "NAVIGATION_ERROR"
	CodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"
	CodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	CodePolicyDenied      ErrorCode = "POLICY_DENIED"
	CodeNeedsConfirmation ErrorCode = "NEEDS_CONFIRMATION"
	CodeChallengePresent  ErrorCode = "CHALLENGE_PRESENT"
	CodeOracleFailure     ErrorCode = "ORACLE_FAILURE"
	CodeStepTimeout       ErrorCode = "STEP_TIMEOUT"
	CodeSessionTimeout    ErrorCode = "SESSION_TIMEOUT"
)

// HumanInterventionMarker is the substring that routes a step error to
// WAITING_HUMAN instead of FAILED. Matching is case-insensitive.
const HumanInterventionMarker = "requires human intervention"

// NeedsHuman reports whether msg asks for an operator.
func NeedsHuman(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "human intervention")
}

// -- Session Data --

// Profile carries operator-supplied identity data. Password never reaches the
// oracle prompt.
type Profile struct {
	Email     string            `json:"email,omitempty" yaml:"email"`
	Password  string            `json:"-" yaml:"password"`
	ExtraData map[string]string `json:"extra_data,omitempty" yaml:"extra_data"`
}

// ElementInfo is a structured summary of one interactive element.
type ElementInfo struct {
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Href        string `json:"href,omitempty"`
	Visible     bool   `json:"visible"`
}

// Observation is a snapshot of the page taken at the start of a step.
type Observation struct {
	URL              string         `json:"url"`
	Title            string         `json:"title"`
	Content          string         `json:"content"`
	ContentTruncated bool           `json:"content_truncated"`
	ElementCount     int            `json:"element_count"`
	ButtonCount      int            `json:"button_count"`
	InputCount       int            `json:"input_count"`
	HasForms         bool           `json:"has_forms"`
	HasButtons       bool           `json:"has_buttons"`
	Elements         []ElementInfo  `json:"elements,omitempty"`
	Screenshot       []byte         `json:"-"`
	NetworkEvents    []NetworkEvent `json:"network_events,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// NetworkEvent is one browser request and, once observed, its response.
type NetworkEvent struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Method        string        `json:"method"`
	URL           string        `json:"url"`
	ResourceType  string        `json:"resource_type,omitempty"`
	Status        int           `json:"status,omitempty"`
	Latency       time.Duration `json:"latency,omitempty"`
	RequestBody   string        `json:"request_body,omitempty"`
	ResponseBody  string        `json:"response_body,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	API           bool          `json:"api"`
}

// Matched reports whether a response or failure has been recorded.
func (e NetworkEvent) Matched() bool { return e.Status != 0 || e.FailureReason != "" }

// IsSuccess reports a 2xx status.
func (e NetworkEvent) IsSuccess() bool { return e.Status >= 200 && e.Status < 300 }

// Step is one immutable iteration of the agent loop.
type Step struct {
	Number      int           `json:"step_number"`
	Observation Observation   `json:"observation"`
	Reasoning   string        `json:"reasoning"`
	Action      Action        `json:"-"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	Code        ErrorCode     `json:"code,omitempty"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
}

// -- Session --

// Session is one run of the agent toward a set of goals. The running loop owns
// it; other goroutines read it through Snapshot.
type Session struct {
	ID        string
	StartURL  string
	Goals     []string
	Profile   *Profile
	MaxSteps  int
	CreatedAt time.Time

	mu          sync.RWMutex
	status      SessionStatus
	steps       []Step
	err         string
	completedAt time.Time
	active      time.Duration
}

// NewSession builds a RUNNING session.
func NewSession(id, startURL string, goals []string, profile *Profile, maxSteps int) *Session {
	return &Session{
		ID:        id,
		StartURL:  startURL,
		Goals:     append([]string(nil), goals...),
		Profile:   profile,
		MaxSteps:  maxSteps,
		CreatedAt: time.Now(),
		status:    StatusRunning,
	}
}

// ActiveTime is the loop time spent on this session across all runs. Time
// parked in WAITING_HUMAN is not included.
func (s *Session) ActiveTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// AddActiveTime accumulates loop time after a run.
func (s *Session) AddActiveTime(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.active += d
	s.mu.Unlock()
}

// Status returns the current lifecycle state.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Transition moves the session to the given status.
func (s *Session) Transition(to SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
	}
	s.status = to
	if to.IsTerminal() || to == StatusWaitingHuman {
		s.completedAt = time.Now()
	} else {
		s.completedAt = time.Time{}
	}
	return nil
}

// Fail moves the session to FAILED and records a session-level error, used
// when no step carries the explanation (timeouts).
func (s *Session) Fail(msg string) error {
	if err := s.Transition(StatusFailed); err != nil {
		return err
	}
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
	return nil
}

// FailureReason returns the session-level error, if any.
func (s *Session) FailureReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// AppendStep records a copy of step. Numbers must be contiguous.
func (s *Session) AppendStep(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := len(s.steps) + 1; step.Number != want {
		return fmt.Errorf("step number %d out of order, expected %d", step.Number, want)
	}
	step.Observation.Elements = append([]ElementInfo(nil), step.Observation.Elements...)
	step.Observation.NetworkEvents = append([]NetworkEvent(nil), step.Observation.NetworkEvents...)
	s.steps = append(s.steps, step)
	return nil
}

// Steps returns a copy of the recorded steps.
func (s *Session) Steps() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Step(nil), s.steps...)
}

// StepCount returns the number of recorded steps.
func (s *Session) StepCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}

// LastStep returns the most recent step, if any.
func (s *Session) LastStep() (Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.steps) == 0 {
		return Step{}, false
	}
	return s.steps[len(s.steps)-1], true
}

// IsActive reports RUNNING or WAITING_HUMAN.
func (s *Session) IsActive() bool {
	st := s.Status()
	return st == StatusRunning || st == StatusWaitingHuman
}

// SessionSnapshot is a read-only copy of a session for outside readers.
type SessionSnapshot struct {
	ID          string        `json:"session_id"`
	StartURL    string        `json:"start_url"`
	Goals       []string      `json:"goals"`
	Status      SessionStatus `json:"status"`
	Steps       []Step        `json:"steps"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SessionSnapshot{
		ID:        s.ID,
		StartURL:  s.StartURL,
		Goals:     append([]string(nil), s.Goals...),
		Status:    s.status,
		Steps:     append([]Step(nil), s.steps...),
		Error:     s.err,
		CreatedAt: s.CreatedAt,
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// -- Session Store --

// ErrSessionNotFound is returned by stores for unknown IDs.
var ErrSessionNotFound = errors.New("session not found")
