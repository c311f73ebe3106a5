package gsync

import (
	"net/http"
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/identity"
	"github.com/go-chi/chi/v5"
)

// Handler serves plan sync and task listing.
type Handler struct {
	tasks    *TaskService
	calendar *CalendarSync
}

// NewHandler creates a sync handler.
func NewHandler(tasks *TaskService, calendar *CalendarSync) *Handler {
	return &Handler{tasks: tasks, calendar: calendar}
}

// RegisterRoutes registers sync routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/plan/sync/calendar", h.HandleSyncCalendar)
	r.Post("/api/plan/sync/tasks", h.HandleSyncTasks)
	r.Get("/api/tasks", h.HandleListTasks)
}

type syncResponse struct {
	Results []domain.SyncResult `json:"results"`
	Failed  int                 `json:"failed"`
}

func newSyncResponse(results []domain.SyncResult) syncResponse {
	resp := syncResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []domain.SyncResult{}
	}
	for _, r := range results {
		if r.Error != "" {
			resp.Failed++
		}
	}
	return resp
}

// HandleSyncCalendar handles POST /api/plan/sync/calendar.
func (h *Handler) HandleSyncCalendar(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return
	}
	results, err := h.calendar.SyncPlan(r.Context(), userKey)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, newSyncResponse(results))
}

// HandleSyncTasks handles POST /api/plan/sync/tasks.
func (h *Handler) HandleSyncTasks(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return
	}
	res, err := h.tasks.AddOrUpdateTasks(r.Context(), userKey)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, newSyncResponse(res.Results))
}

// HandleListTasks handles GET /api/tasks?due=YYYY-MM-DD.
func (h *Handler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		api.WriteError(w, domain.ErrUnauthenticated)
		return
	}
	var due *time.Time
	if raw := r.URL.Query().Get("due"); raw != "" {
		d, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			api.WriteError(w, api.BadRequest("due must be YYYY-MM-DD"))
			return
		}
		due = &d
	}
	items, err := h.tasks.FetchTasks(r.Context(), userKey, due)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if items == nil {
		items = []domain.TaskItem{}
	}
	api.JSON(w, http.StatusOK, map[string]any{"tasks": items})
}
