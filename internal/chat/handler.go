package chat

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/identity"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	deleteChatPhrase    = "delete chat"
	deleteSummaryPhrase = "delete summary"
)

// ConversationStore removes persisted conversation data.
type ConversationStore interface {
	DeleteConversation(ctx context.Context, userKey string) error
	DeleteSummary(ctx context.Context, userKey string) error
}

// Handler serves the chat HTTP API.
type Handler struct {
	sessions *Sessions
	driver   *Driver
	store    ConversationStore
	log      ConversationLogger
}

// NewHandler creates a chat handler. A nil logger disables conversation logs.
func NewHandler(sessions *Sessions, driver *Driver, store ConversationStore, log ConversationLogger) *Handler {
	if log == nil {
		log = noopConversationLogger{}
	}
	return &Handler{sessions: sessions, driver: driver, store: store, log: log}
}

// RegisterRoutes registers chat routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/turns", h.HandleTurn)
		r.Get("/messages", h.HandleMessages)
		r.Get("/summary", h.HandleSummary)
		r.Delete("/summary", h.HandleDeleteSummary)
		r.Get("/params", h.HandleGetParams)
		r.Put("/params", h.HandlePutParams)
		r.Delete("/", h.HandleDeleteChat)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

type turnRequest struct {
	Message string `json:"message" validate:"required"`
}

type turnResponse struct {
	Reply string `json:"reply"`
	*TurnResult
}

// HandleTurn handles POST /api/chat/turns.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, err)
		return
	}

	ctx := r.Context()
	res, err := h.runTurn(ctx, identity.UserKeyFromContext(ctx), identity.SessionIDFromContext(ctx),
		"chat_http", req.Message, chiMiddleware.GetReqID(ctx))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, turnResponse{Reply: res.ModelTurn.Text(), TurnResult: res})
}

// runTurn drives one turn on the user's session and records it in the
// conversation log.
func (h *Handler) runTurn(ctx context.Context, userKey, sessionID, channel, text, requestID string) (*TurnResult, error) {
	if userKey == "" {
		return nil, domain.ErrUnauthenticated
	}
	sess, err := h.sessions.Get(ctx, userKey)
	if err != nil {
		return nil, err
	}

	slog.Info("Chat turn request",
		"user_key", userKey,
		"session_id", sessionID,
		"channel", channel,
		"message_length", len(text),
	)
	h.logEvent(userKey, sessionID, channel, "outbound", "chat_user_message", text, map[string]any{
		"request_id": requestID,
	})

	var res *TurnResult
	err = sess.Update(func(model llm.Model, st State) (State, error) {
		next, r, err := h.driver.Turn(ctx, userKey, model, st, text)
		res = r
		return next, err
	})
	if err != nil {
		h.logEvent(userKey, sessionID, channel, "inbound", "chat_turn_error", err.Error(), map[string]any{
			"request_id": requestID,
			"retryable":  IsRetryable(err),
		})
		return nil, err
	}

	meta := map[string]any{
		"request_id": requestID,
		"summarized": res.Summarized,
		"rate_count": res.Rate.Count,
	}
	if res.FunctionCall != nil {
		meta["function"] = res.FunctionCall.Name
	}
	h.logEvent(userKey, sessionID, channel, "inbound", "chat_assistant_message", res.ModelTurn.Text(), meta)
	return res, nil
}

func (h *Handler) logEvent(userKey, sessionID, channel, direction, eventType, content string, meta map[string]any) {
	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserKey:    userKey,
		SessionID:  sessionID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// session returns the caller's session, writing the error response on failure.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return nil, false
	}
	sess, err := h.sessions.Get(r.Context(), userKey)
	if err != nil {
		api.WriteError(w, err)
		return nil, false
	}
	return sess, true
}

// HandleMessages handles GET /api/chat/messages.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	st := sess.Snapshot()
	if st.Display == nil {
		st.Display = []domain.Turn{}
	}
	api.JSON(w, http.StatusOK, map[string]any{"messages": st.Display})
}

// HandleSummary handles GET /api/chat/summary.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"summary": sess.Snapshot().Summary})
}

// HandleGetParams handles GET /api/chat/params.
func (h *Handler) HandleGetParams(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	st := sess.Snapshot()
	api.JSON(w, http.StatusOK, map[string]any{
		"params":   FormatParams(st.Params),
		"complete": st.Params.Complete(),
	})
}

// HandlePutParams handles PUT /api/chat/params.
func (h *Handler) HandlePutParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsPayload
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	params, err := ParseParams(req)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	_ = sess.Update(func(_ llm.Model, st State) (State, error) {
		st.Params = params
		return st, nil
	})
	api.JSON(w, http.StatusOK, map[string]any{
		"params":   FormatParams(params),
		"complete": params.Complete(),
	})
}

type confirmRequest struct {
	Confirm string `json:"confirm" validate:"required"`
}

// HandleDeleteChat handles DELETE /api/chat. The body must carry the
// confirmation phrase.
func (h *Handler) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	h.handleDelete(w, r, deleteChatPhrase, h.store.DeleteConversation)
}

// HandleDeleteSummary handles DELETE /api/chat/summary.
func (h *Handler) HandleDeleteSummary(w http.ResponseWriter, r *http.Request) {
	h.handleDelete(w, r, deleteSummaryPhrase, h.store.DeleteSummary)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, phrase string, del func(context.Context, string) error) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return
	}
	var req confirmRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, err)
		return
	}
	if req.Confirm != phrase {
		api.WriteError(w, api.BadRequest("type %q to confirm", phrase))
		return
	}
	if err := del(r.Context(), userKey); err != nil {
		api.WriteError(w, err)
		return
	}
	h.sessions.Discard(userKey)
	slog.Info("Conversation data deleted", "user_key", userKey, "scope", phrase)
	w.WriteHeader(http.StatusNoContent)
}
