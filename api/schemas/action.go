package schemas

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// -- Action Union --

// ActionType is the wire tag that discriminates the Action variants.
type ActionType string

const (
	ActionClick             ActionType = "click"
	ActionFill              ActionType = "fill"
	ActionGoto              ActionType = "goto"
	ActionPress             ActionType = "press"
	ActionSelect            ActionType = "select"
	ActionWaitForSelector   ActionType = "wait_for_selector"
	ActionAssertURLIncludes ActionType = "assert_url_includes"
	ActionDone              ActionType = "done"
)

func (a ActionType) String() string { return string(a) }

// Wait bounds applied while decoding wait_for_selector.
const (
	DefaultWaitTimeoutMs = 10000
	MinWaitTimeoutMs     = 1000
	MaxWaitTimeoutMs     = 60000
)

var (
	// ErrUnknownActionType is returned when the wire tag names no known variant.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrInvalidAction is returned when a variant is missing a required field.
	ErrInvalidAction = errors.New("invalid action")
)

// Action is a closed union of the eight browser actions the engine can perform.
// Only types in this package implement it; consumers switch exhaustively on the
// concrete type.
type Action interface {
	Type() ActionType
	isAction()
}

// ClickAction clicks the element matched by Selector.
type ClickAction struct {
	Selector string `json:"selector"`
}

// FillAction clears the matched input and types Value into it.
type FillAction struct {
	Selector   string `json:"selector"`
	Value      string `json:"value"`
	PressEnter bool   `json:"press_enter,omitempty"`
}

// GotoAction navigates the page to URL.
type GotoAction struct {
	URL string `json:"url"`
}

// PressAction sends a single key to the focused element.
type PressAction struct {
	Key string `json:"key"`
}

// SelectAction chooses an option in a <select>. A digit-only Value is an index.
type SelectAction struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

// WaitForSelectorAction blocks until Selector is visible or TimeoutMs elapses.
type WaitForSelectorAction struct {
	Selector  string `json:"selector"`
	TimeoutMs int    `json:"timeout_ms"`
}

// AssertURLIncludesAction checks that the current URL contains Value.
type AssertURLIncludesAction struct {
	Value string `json:"value"`
}

// DoneAction ends the session successfully.
type DoneAction struct {
	Summary string `json:"summary"`
}

func (ClickAction) Type() ActionType             { return ActionClick }
func (FillAction) Type() ActionType              { return ActionFill }
func (GotoAction) Type() ActionType              { return ActionGoto }
func (PressAction) Type() ActionType             { return ActionPress }
func (SelectAction) Type() ActionType            { return ActionSelect }
func (WaitForSelectorAction) Type() ActionType   { return ActionWaitForSelector }
func (AssertURLIncludesAction) Type() ActionType { return ActionAssertURLIncludes }
func (DoneAction) Type() ActionType              { return ActionDone }

func (ClickAction) isAction()             {}
func (FillAction) isAction()              {}
func (GotoAction) isAction()              {}
func (PressAction) isAction()             {}
func (SelectAction) isAction()            {}
func (WaitForSelectorAction) isAction()   {}
func (AssertURLIncludesAction) isAction() {}
func (DoneAction) isAction()              {}

// -- Wire Codec --

// wireAction is the flat JSON shape the oracle emits.
type wireAction struct {
	Action     ActionType `json:"action"`
	Selector   *string    `json:"selector,omitempty"`
	Value      *string    `json:"value,omitempty"`
	PressEnter bool       `json:"press_enter,omitempty"`
	URL        *string    `json:"url,omitempty"`
	Key        *string    `json:"key,omitempty"`
	TimeoutMs  *int       `json:"timeout_ms,omitempty"`
	Summary    *string    `json:"summary,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// ActionProposal is a decoded action together with the oracle's optional
// reasoning text.
type ActionProposal struct {
	Action    Action
	Reasoning string
}

// ParseAction decodes the wire form of an action.
func ParseAction(data []byte) (Action, error) {
	p, err := ParseProposal(data)
	if err != nil {
		return nil, err
	}
	return p.Action, nil
}

// ParseProposal decodes the wire form of an action and keeps the optional
// "reasoning" field.
func ParseProposal(data []byte) (ActionProposal, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return ActionProposal{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	a, err := w.toAction()
	if err != nil {
		return ActionProposal{}, err
	}
	return ActionProposal{Action: a, Reasoning: strings.TrimSpace(w.Reasoning)}, nil
}

func (w wireAction) toAction() (Action, error) {
	switch w.Action {
	case ActionClick:
		sel, err := required(w.Action, "selector", w.Selector)
		if err != nil {
			return nil, err
		}
		return ClickAction{Selector: sel}, nil
	case ActionFill:
		sel, err := required(w.Action, "selector", w.Selector)
		if err != nil {
			return nil, err
		}
		if w.Value == nil {
			return nil, fmt.Errorf("%w: fill requires value", ErrInvalidAction)
		}
		return FillAction{Selector: sel, Value: *w.Value, PressEnter: w.PressEnter}, nil
	case ActionGoto:
		u, err := required(w.Action, "url", w.URL)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidAction)
		}
		return GotoAction{URL: u}, nil
	case ActionPress:
		k, err := required(w.Action, "key", w.Key)
		if err != nil {
			return nil, err
		}
		return PressAction{Key: k}, nil
	case ActionSelect:
		sel, err := required(w.Action, "selector", w.Selector)
		if err != nil {
			return nil, err
		}
		if w.Value == nil {
			return nil, fmt.Errorf("%w: select requires value", ErrInvalidAction)
		}
		return SelectAction{Selector: sel, Value: *w.Value}, nil
	case ActionWaitForSelector:
		sel, err := required(w.Action, "selector", w.Selector)
		if err != nil {
			return nil, err
		}
		timeout := DefaultWaitTimeoutMs
		if w.TimeoutMs != nil {
			timeout = ClampWaitTimeout(*w.TimeoutMs)
		}
		return WaitForSelectorAction{Selector: sel, TimeoutMs: timeout}, nil
	case ActionAssertURLIncludes:
		v, err := required(w.Action, "value", w.Value)
		if err != nil {
			return nil, err
		}
		return AssertURLIncludesAction{Value: v}, nil
	case ActionDone:
		s := ""
		if w.Summary != nil {
			s = *w.Summary
		}
		return DoneAction{Summary: s}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action field", ErrInvalidAction)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, w.Action)
	}
}

func required(t ActionType, field string, v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", fmt.Errorf("%w: %s requires %s", ErrInvalidAction, t, field)
	}
	return *v, nil
}

// ClampWaitTimeout bounds a wait timeout to [MinWaitTimeoutMs, MaxWaitTimeoutMs].
func ClampWaitTimeout(ms int) int {
	switch {
	case ms < MinWaitTimeoutMs:
		return MinWaitTimeoutMs
	case ms > MaxWaitTimeoutMs:
		return MaxWaitTimeoutMs
	default:
		return ms
	}
}

// MarshalAction encodes an action in its wire form.
func MarshalAction(a Action) ([]byte, error) {
	w := wireAction{}
	switch v := a.(type) {
	case ClickAction:
		w.Selector = &v.Selector
	case FillAction:
		w.Selector, w.Value, w.PressEnter = &v.Selector, &v.Value, v.PressEnter
	case GotoAction:
		w.URL = &v.URL
	case PressAction:
		w.Key = &v.Key
	case SelectAction:
		w.Selector, w.Value = &v.Selector, &v.Value
	case WaitForSelectorAction:
		w.Selector, w.TimeoutMs = &v.Selector, &v.TimeoutMs
	case AssertURLIncludesAction:
		w.Value = &v.Value
	case DoneAction:
		w.Summary = &v.Summary
	case nil:
		return nil, fmt.Errorf("%w: nil action", ErrInvalidAction)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownActionType, a)
	}
	w.Action = a.Type()
	return json.Marshal(w)
}

// DescribeAction renders a short human-readable form used in history prompts
// and step tables.
func DescribeAction(a Action) string {
	switch v := a.(type) {
	case ClickAction:
		return fmt.Sprintf("click %s", v.Selector)
	case FillAction:
		return fmt.Sprintf("fill %s (%d chars)", v.Selector, len(v.Value))
	case GotoAction:
		return fmt.Sprintf("goto %s", v.URL)
	case PressAction:
		return fmt.Sprintf("press %s", v.Key)
	case SelectAction:
		return fmt.Sprintf("select %s = %s", v.Selector, v.Value)
	case WaitForSelectorAction:
		return fmt.Sprintf("wait_for_selector %s (%dms)", v.Selector, v.TimeoutMs)
	case AssertURLIncludesAction:
		return fmt.Sprintf("assert_url_includes %s", v.Value)
	case DoneAction:
		return "done"
	case nil:
		return "none"
	default:
		return fmt.Sprintf("%T", a)
	}
}
