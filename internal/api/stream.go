package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/identity"
	"github.com/ashureev/readiness-wizard/internal/session"
	"github.com/coder/websocket"
)

// streamMessage is a client command sent over the session stream.
type streamMessage struct {
	Type      string          `json:"type"`
	StepIndex int             `json:"stepIndex,omitempty"`
	Data      domain.StepData `json:"data,omitempty"`
	Index     *int            `json:"index,omitempty"`
	Direction string          `json:"direction,omitempty"`
}

// Stream upgrades to a websocket that pushes every committed session state
// as JSON. Clients may send setStepData, navigate and flush commands.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.SessionIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	p, ok := h.current(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	states, unsubscribe := p.Subscribe()
	defer unsubscribe()

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, p, deviceID, tabID)
	}()

	h.logger.Info("Session stream opened", "device_id", deviceID, "tab_id", tabID)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Session stream ended", "device_id", deviceID, "tab_id", tabID)
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, newSessionResponse(s)); err != nil {
				h.logger.Debug("Failed to write session state", "error", err, "device_id", deviceID)
				return
			}
		}
	}
}

func (h *SessionHandler) inputLoop(ctx context.Context, ws *websocket.Conn, p *session.Provider, deviceID, tabID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "device_id", deviceID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}
		h.sessions.Touch(deviceID, tabID)

		var msg streamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.logger.Debug("Ignoring malformed stream message", "error", err)
			continue
		}

		switch msg.Type {
		case "setStepData":
			p.SetStepData(msg.StepIndex, msg.Data)
		case "navigate":
			switch {
			case msg.Index != nil:
				p.GoToStep(*msg.Index)
			case msg.Direction == "next":
				p.NextStep()
			case msg.Direction == "previous":
				p.PreviousStep()
			}
			h.seedStep(p, p.State())
		case "flush":
			p.Flush()
		default:
			h.logger.Debug("Unknown stream message type", "type", msg.Type)
		}
	}
}

func (h *SessionHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
