package channel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-pilot/internal/agent"
)

type recordingHandler struct {
	tasks         []string
	stops         []string
	confirmations []string
}

func (r *recordingHandler) HandleTask(sessionID, task, startURL string) {
	r.tasks = append(r.tasks, sessionID+"|"+task+"|"+startURL)
}

func (r *recordingHandler) HandleStop(sessionID string) {
	r.stops = append(r.stops, sessionID)
}

func (r *recordingHandler) HandleConfirmation(sessionID, actionID string, approved, humanHandled bool) {
	r.confirmations = append(r.confirmations, sessionID)
}

func TestDispatchRoutesFrames(t *testing.T) {
	h := NewHub(zerolog.Nop())
	rec := &recordingHandler{}
	h.SetHandler(rec)
	cl := &client{}

	h.dispatch(cl, Inbound{Type: "task", Data: InboundData{SessionID: "s1", Task: "find cats", StartURL: "https://a.test"}})
	h.dispatch(cl, Inbound{Type: "stop", Data: InboundData{SessionID: "s1"}})
	h.dispatch(cl, Inbound{Type: "confirmation", Data: InboundData{SessionID: "s1", ActionID: "a1", Approved: true}})

	assert.Equal(t, []string{"s1|find cats|https://a.test"}, rec.tasks)
	assert.Equal(t, []string{"s1"}, rec.stops)
	assert.Equal(t, []string{"s1"}, rec.confirmations)
}

func TestDispatchWithoutHandlerIsSafe(t *testing.T) {
	h := NewHub(zerolog.Nop())
	assert.NotPanics(t, func() {
		h.dispatch(&client{}, Inbound{Type: "task", Data: InboundData{Task: "x"}})
	})
}

func TestStatusFrameEncoding(t *testing.T) {
	pending := &agent.Action{Type: agent.ActionConfirm, Message: "pay 5 EUR?"}
	out := Outbound{
		Type: "status",
		Data: StatusData{
			SessionID:     "s1",
			Status:        "paused",
			Message:       "waiting for approval",
			PendingAction: pending,
			PauseKind:     "CONFIRM",
		},
	}
	raw, err := out.encode()
	require.NoError(t, err)

	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "status", decoded.Type)
	assert.Equal(t, "s1", decoded.Data["sessionId"])
	assert.Equal(t, "CONFIRM", decoded.Data["pauseKind"])
	assert.Contains(t, decoded.Data, "pendingAction")
}

func TestLogFrameCarriesTimestamp(t *testing.T) {
	out := Outbound{
		Type: "log",
		Data: LogData{SessionID: "s1", Step: 3, Phase: "OBSERVE", Message: "m", Timestamp: nowStamp()},
	}
	raw, err := out.encode()
	require.NoError(t, err)

	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	ts, ok := decoded.Data["timestamp"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err, "timestamps are RFC3339")
	assert.NotContains(t, decoded.Data, "error", "empty error is omitted")
}

func TestScreenshotFrameUsesScreenshotPath(t *testing.T) {
	out := Outbound{
		Type: "screenshot",
		Data: ScreenshotData{SessionID: "s1", Step: 2, ScreenshotPath: "/artifacts/s1/step-0002.png"},
	}
	raw, err := out.encode()
	require.NoError(t, err)

	var decoded struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "/artifacts/s1/step-0002.png", decoded.Data["screenshotPath"])
	assert.NotContains(t, decoded.Data, "path")
}

func TestInboundParsing(t *testing.T) {
	raw := `{"type":"confirmation","data":{"sessionId":"s1","actionId":"a9","approved":false,"humanHandled":true}}`
	var in Inbound
	require.NoError(t, json.Unmarshal([]byte(raw), &in))
	assert.Equal(t, "confirmation", in.Type)
	assert.Equal(t, "s1", in.Data.SessionID)
	assert.False(t, in.Data.Approved)
	assert.True(t, in.Data.HumanHandled)
}
