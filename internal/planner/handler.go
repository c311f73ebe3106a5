package planner

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/chat"
	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/identity"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/go-chi/chi/v5"
)

// PlanReader loads the stored plan.
type PlanReader interface {
	GetPlan(ctx context.Context, userKey string) (*domain.PlanRecord, error)
}

// Handler serves plan generation and retrieval.
type Handler struct {
	sessions  *chat.Sessions
	generator *Generator
	plans     PlanReader
}

// NewHandler creates a plan handler.
func NewHandler(sessions *chat.Sessions, generator *Generator, plans PlanReader) *Handler {
	return &Handler{sessions: sessions, generator: generator, plans: plans}
}

// RegisterRoutes registers plan routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/plan", h.HandleGenerate)
	r.Get("/api/plan", h.HandleGet)
}

type planResponse struct {
	Plan      []domain.PlanEntry `json:"plan"`
	Status    domain.PlanStatus  `json:"status"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

type malformedResponse struct {
	api.ErrorBody
	Plan []domain.PlanEntry `json:"plan"`
}

// HandleGenerate handles POST /api/plan.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userKey := identity.UserKeyFromContext(ctx)
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return
	}
	sess, err := h.sessions.Get(ctx, userKey)
	if err != nil {
		api.WriteError(w, err)
		return
	}

	var plan domain.Plan
	err = sess.Update(func(model llm.Model, st chat.State) (chat.State, error) {
		next, p, err := h.generator.Generate(ctx, userKey, model, st)
		plan = p
		return next, err
	})
	if errors.Is(err, domain.ErrMalformedPlan) {
		status, body := api.ErrorPayload(err)
		api.JSON(w, status, malformedResponse{ErrorBody: body, Plan: []domain.PlanEntry{}})
		return
	}
	if err != nil {
		api.WriteError(w, err)
		return
	}

	rec, err := h.plans.GetPlan(ctx, userKey)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, toResponse(plan, rec))
}

// HandleGet handles GET /api/plan.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return
	}
	rec, err := h.plans.GetPlan(r.Context(), userKey)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	var plan domain.Plan
	if rec != nil {
		plan = rec.Plan
	}
	api.JSON(w, http.StatusOK, toResponse(plan, rec))
}

func toResponse(plan domain.Plan, rec *domain.PlanRecord) planResponse {
	entries := plan.Entries
	if entries == nil {
		entries = []domain.PlanEntry{}
	}
	resp := planResponse{Plan: entries, Status: rec.Status()}
	if rec != nil {
		updated := rec.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}
