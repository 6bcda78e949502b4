package channel

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/agent"
	"github.com/polzovatel/browser-pilot/internal/scanner"
)

// InboundHandler receives parsed client frames. The orchestrator implements
// it; the hub never knows session semantics.
type InboundHandler interface {
	HandleTask(sessionID, task, startURL string)
	HandleStop(sessionID string)
	HandleConfirmation(sessionID, actionID string, approved, humanHandled bool)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans session events out to every connected websocket client. Writes
// are serialized per connection; a dead client is dropped, never waited on.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	handler InboundHandler
	logger  zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With().Str("component", "channel").Logger(),
	}
}

// SetHandler wires the inbound side. Must be called before Serve.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.handler = handler
}

// Serve upgrades a gin request and pumps inbound frames until the client
// disconnects.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	cl := &client{conn: conn}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", n).Msg("client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info().Msg("client disconnected")
	}()

	for {
		var in Inbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		h.dispatch(cl, in)
	}
}

func (h *Hub) dispatch(cl *client, in Inbound) {
	if h.handler == nil {
		return
	}
	switch in.Type {
	case "task":
		if in.Data.Task == "" {
			h.sendTo(cl, Outbound{Type: "error", Data: ErrorData{Message: "task must not be empty"}})
			return
		}
		h.handler.HandleTask(in.Data.SessionID, in.Data.Task, in.Data.StartURL)
	case "stop":
		h.handler.HandleStop(in.Data.SessionID)
	case "confirmation":
		h.handler.HandleConfirmation(in.Data.SessionID, in.Data.ActionID, in.Data.Approved, in.Data.HumanHandled)
	default:
		h.sendTo(cl, Outbound{Type: "error", Data: ErrorData{Message: "unknown message type " + in.Type}})
	}
}

// broadcast sends one frame to every client. Failures disconnect only the
// failing client.
func (h *Hub) broadcast(out Outbound) {
	raw, err := out.encode()
	if err != nil {
		h.logger.Error().Err(err).Str("type", out.Type).Msg("encode outbound frame")
		return
	}
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		targets = append(targets, cl)
	}
	h.mu.Unlock()

	for _, cl := range targets {
		cl.mu.Lock()
		err := cl.conn.WriteMessage(websocket.TextMessage, raw)
		cl.mu.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Msg("dropping client after write error")
			h.mu.Lock()
			delete(h.clients, cl)
			h.mu.Unlock()
			cl.conn.Close()
		}
	}
}

func (h *Hub) sendTo(cl *client, out Outbound) {
	raw, err := out.encode()
	if err != nil {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_ = cl.conn.WriteMessage(websocket.TextMessage, raw)
}

// Log implements agent.Emitter.
func (h *Hub) Log(sessionID string, step int, phase agent.Phase, message, errMsg string) {
	h.broadcast(Outbound{
		Type: "log",
		Data: LogData{
			SessionID: sessionID,
			Step:      step,
			Phase:     string(phase),
			Message:   message,
			Timestamp: nowStamp(),
			Error:     errMsg,
		},
	})
}

// Screenshot implements agent.Emitter.
func (h *Hub) Screenshot(sessionID string, step int, path, observation string, regions []scanner.Region) {
	h.broadcast(Outbound{
		Type: "screenshot",
		Data: ScreenshotData{
			SessionID:      sessionID,
			Step:           step,
			ScreenshotPath: path,
			Observation:    observation,
			Regions:        regions,
		},
	})
}

// Status implements agent.Emitter.
func (h *Hub) Status(sessionID string, status agent.Status, message string, pending *agent.Action, pauseKind agent.PauseKind) {
	h.broadcast(Outbound{
		Type: "status",
		Data: StatusData{
			SessionID:     sessionID,
			Status:        string(status),
			Message:       message,
			PendingAction: pending,
			PauseKind:     string(pauseKind),
		},
	})
}
