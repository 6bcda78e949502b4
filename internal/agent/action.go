package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType tags the action union. Dispatch is by tag everywhere; no
// action carries behavior of its own.
type ActionType string

const (
	ActionVisionClick ActionType = "VISION_CLICK"
	ActionDomClick    ActionType = "DOM_CLICK"
	ActionVisionFill  ActionType = "VISION_FILL"
	ActionDomFill     ActionType = "DOM_FILL"
	ActionKeyPress    ActionType = "KEY_PRESS"
	ActionScroll      ActionType = "SCROLL"
	ActionWait        ActionType = "WAIT"
	ActionAskUser     ActionType = "ASK_USER"
	ActionConfirm     ActionType = "CONFIRM"
	ActionDone        ActionType = "DONE"
)

// Action is one step the agent proposes against the page. Only the fields
// for its tag are meaningful.
type Action struct {
	Type ActionType `json:"type"`

	// Click / fill targeting: a region identity, or (role, name), or a raw
	// CSS selector for DOM_CLICK fallbacks.
	RegionID string `json:"regionId,omitempty"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector,omitempty"`

	Value string `json:"value,omitempty"` // fills
	Key   string `json:"key,omitempty"`   // KEY_PRESS

	Direction string `json:"direction,omitempty"` // SCROLL: up|down
	Amount    int    `json:"amount,omitempty"`    // SCROLL px, default 600

	DurationMs int    `json:"duration,omitempty"` // WAIT
	Until      string `json:"until,omitempty"`    // WAIT: load|domcontentloaded|networkidle

	Message  string `json:"message,omitempty"`  // ASK_USER / CONFIRM
	ActionID string `json:"actionId,omitempty"` // ASK_USER / CONFIRM correlation

	Reason      string `json:"reason,omitempty"` // DONE
	Description string `json:"description,omitempty"`
}

// Validate enforces the per-tag payload contract.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionVisionClick, ActionVisionFill:
		if a.RegionID == "" {
			return fmt.Errorf("%s requires regionId", a.Type)
		}
	case ActionDomClick:
		if a.RegionID == "" && a.Selector == "" && (a.Role == "" || a.Name == "") {
			return fmt.Errorf("DOM_CLICK requires regionId, selector, or role+name")
		}
	case ActionDomFill:
		if a.RegionID == "" && a.Selector == "" && (a.Role == "" || a.Name == "") {
			return fmt.Errorf("DOM_FILL requires regionId, selector, or role+name")
		}
	case ActionKeyPress:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("KEY_PRESS requires key")
		}
	case ActionScroll:
		if a.Direction != "up" && a.Direction != "down" {
			return fmt.Errorf("SCROLL direction must be up or down, got %q", a.Direction)
		}
		if a.Amount < 0 {
			return fmt.Errorf("SCROLL amount must be non-negative")
		}
	case ActionWait:
		if a.DurationMs < 0 {
			return fmt.Errorf("WAIT duration must be non-negative")
		}
		switch a.Until {
		case "", "load", "domcontentloaded", "networkidle":
		default:
			return fmt.Errorf("WAIT until must be load, domcontentloaded or networkidle, got %q", a.Until)
		}
	case ActionAskUser, ActionConfirm:
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("%s requires message", a.Type)
		}
	case ActionDone:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if err := a.validateFill(); err != nil {
		return err
	}
	return nil
}

func (a *Action) validateFill() error {
	if a.Type == ActionVisionFill || a.Type == ActionDomFill {
		if a.Value == "" {
			return fmt.Errorf("%s requires value", a.Type)
		}
	}
	return nil
}

// IsFill reports whether the action enters text.
func (a *Action) IsFill() bool {
	return a.Type == ActionVisionFill || a.Type == ActionDomFill
}

// IsTerminal reports whether the action ends the current objective.
func (a *Action) IsTerminal() bool {
	switch a.Type {
	case ActionDone, ActionAskUser, ActionConfirm:
		return true
	}
	return false
}

// Data renders the action payload for history rows and logs.
func (a *Action) Data() string {
	raw, err := json.Marshal(a)
	if err != nil {
		return string(a.Type)
	}
	return string(raw)
}

// Decision is the decider's output. Reasoning and confidence feed logs and
// future prompts, never control flow.
type Decision struct {
	Action     Action  `json:"action"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

func (d *Decision) Validate() error {
	if err := d.Action.Validate(); err != nil {
		return err
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]", d.Confidence)
	}
	return nil
}

// PageState is a snapshot of observable page identity taken around an
// action.
type PageState struct {
	URL   string
	Title string
	Text  string // normalized, first 400 chars
}

// Outcome records what an action observably changed.
type Outcome struct {
	URLBefore   string
	URLAfter    string
	TitleBefore string
	TitleAfter  string
	TextBefore  string
	TextAfter   string
	StateChanged bool
}

// NewOutcome derives StateChanged from the before/after pairs.
func NewOutcome(before, after PageState) Outcome {
	return Outcome{
		URLBefore:    before.URL,
		URLAfter:     after.URL,
		TitleBefore:  before.Title,
		TitleAfter:   after.Title,
		TextBefore:   before.Text,
		TextAfter:    after.Text,
		StateChanged: before.URL != after.URL || before.Title != after.Title || before.Text != after.Text,
	}
}

// NormalizeText lowercases, collapses whitespace and clips to 400 chars so
// text comparison ignores cosmetic re-renders.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	if len(s) > 400 {
		s = s[:400]
	}
	return s
}

// Phase labels every emitted log line and step row.
type Phase string

const (
	PhaseObserve   Phase = "OBSERVE"
	PhaseDecide    Phase = "DECIDE"
	PhaseAct       Phase = "ACT"
	PhaseVerify    Phase = "VERIFY"
	PhaseNavigate  Phase = "NAVIGATE"
	PhasePlanning  Phase = "PLANNING"
	PhaseSynthesis Phase = "SYNTHESIS"
)

// Status is the session-level lifecycle state pushed to clients.
type Status string

const (
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// PauseKind distinguishes "the user must act in the browser" from "the user
// must approve a proposed action".
type PauseKind string

const (
	PauseAskUser PauseKind = "ASK_USER"
	PauseConfirm PauseKind = "CONFIRM"
)
