package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/identity"
	"github.com/ashureev/goalplan/internal/ratelimit"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves the live chat socket. Each user has one socket;
// turns sent on it run in order.
type WebSocketHandler struct {
	chat          *Handler
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a chat socket handler.
func NewWebSocketHandler(chat *Handler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{chat: chat, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsMessage is a client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsReply is a server frame.
type wsReply struct {
	Type       string              `json:"type"`
	Content    string              `json:"content,omitempty"`
	Code       string              `json:"code,omitempty"`
	Retryable  bool                `json:"retryable,omitempty"`
	Summarized bool                `json:"summarized,omitempty"`
	Function   string              `json:"function,omitempty"`
	Rate       *ratelimit.Decision `json:"rate,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_key", userKey, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_key", userKey)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_key", userKey)
		}
	}()
	ws.SetReadLimit(api.DefaultMaxRequestBodySize)

	h.chat.sessions.Register(userKey, ws)
	defer h.chat.sessions.Unregister(userKey, ws)

	h.readLoop(r.Context(), ws, userKey, sessionID)
	slog.Info("Chat socket ended", "user_key", userKey)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userKey, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_key", userKey)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_key", userKey)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.send(ws, wsReply{Type: "error", Content: "invalid message", Code: "bad_request"})
			continue
		}

		switch msg.Type {
		case "message":
			h.send(ws, h.turn(ctx, userKey, sessionID, msg.Content))
		case "ping":
			h.send(ws, wsReply{Type: "pong"})
		default:
			h.send(ws, wsReply{Type: "error", Content: "unknown message type", Code: "bad_request"})
		}
	}
}

func (h *WebSocketHandler) turn(ctx context.Context, userKey, sessionID, text string) wsReply {
	res, err := h.chat.runTurn(ctx, userKey, sessionID, "chat_ws", text, uuid.NewString())
	if err != nil {
		return errorReply(err)
	}
	reply := wsReply{
		Type:       "reply",
		Content:    res.ModelTurn.Text(),
		Summarized: res.Summarized,
		Rate:       &res.Rate,
	}
	if res.FunctionCall != nil {
		reply.Function = res.FunctionCall.Name
	}
	return reply
}

// errorReply reuses the HTTP error taxonomy so both surfaces report the same
// codes and messages.
func errorReply(err error) wsReply {
	status, body := api.ErrorPayload(err)
	typ := "error"
	if status == http.StatusTooManyRequests {
		typ = "rate_limited"
	}
	return wsReply{Type: typ, Content: body.Error, Code: body.Code, Retryable: body.Retryable}
}

func (h *WebSocketHandler) send(ws *websocket.Conn, v wsReply) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal websocket reply", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
