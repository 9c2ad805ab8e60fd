package dashboard

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agent-widgets/internal/api"
	"github.com/ashureev/agent-widgets/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// DiagnosticsHandler exposes recorded conversation events. Mount it in
// development only: events carry raw conversation text.
type DiagnosticsHandler struct {
	repo store.EventRepository
}

// NewDiagnosticsHandler creates a diagnostics handler over repo.
func NewDiagnosticsHandler(repo store.EventRepository) *DiagnosticsHandler {
	return &DiagnosticsHandler{repo: repo}
}

// RegisterRoutes registers the diagnostics routes.
func (h *DiagnosticsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/diagnostics/events", h.RecentEvents)
}

// RecentEvents lists the newest events, optionally for one widget.
func (h *DiagnosticsHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.repo.RecentEvents(r.Context(), r.URL.Query().Get("widget"), limit)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
