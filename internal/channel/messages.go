package channel

import (
	"encoding/json"
	"time"

	"github.com/polzovatel/browser-pilot/internal/agent"
	"github.com/polzovatel/browser-pilot/internal/scanner"
)

// Inbound is the envelope for every client-to-server frame. The payload
// rides under data; the top level carries only the frame type.
type Inbound struct {
	Type string      `json:"type"` // task | stop | confirmation
	Data InboundData `json:"data"`
}

// InboundData is the union of the per-type payloads. Exactly the fields for
// the frame's type are read.
type InboundData struct {
	SessionID    string `json:"sessionId,omitempty"`
	Task         string `json:"task,omitempty"`
	StartURL     string `json:"startUrl,omitempty"`
	ActionID     string `json:"actionId,omitempty"`
	Approved     bool   `json:"approved"`
	HumanHandled bool   `json:"humanHandled"`
}

// Outbound is the envelope for every server-to-client frame.
type Outbound struct {
	Type string `json:"type"` // log | screenshot | status | error
	Data any    `json:"data"`
}

// LogData is one phase line of the loop.
type LogData struct {
	SessionID string `json:"sessionId"`
	Step      int    `json:"step"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// ScreenshotData announces a captured artifact and the regions visible on it.
type ScreenshotData struct {
	SessionID      string           `json:"sessionId"`
	Step           int              `json:"step"`
	ScreenshotPath string           `json:"screenshotPath"`
	Observation    string           `json:"observation,omitempty"`
	Regions        []scanner.Region `json:"regions,omitempty"`
}

// StatusData is a session life-cycle transition, carrying the pending action
// when the session paused for the user.
type StatusData struct {
	SessionID     string        `json:"sessionId"`
	Status        string        `json:"status"`
	Message       string        `json:"message,omitempty"`
	PendingAction *agent.Action `json:"pendingAction,omitempty"`
	PauseKind     string        `json:"pauseKind,omitempty"`
}

// ErrorData reports a frame-level problem back to the sending client.
type ErrorData struct {
	Message string `json:"message"`
}

func (o Outbound) encode() ([]byte, error) {
	return json.Marshal(o)
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
