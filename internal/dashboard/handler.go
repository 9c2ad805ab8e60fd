package dashboard

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agent-widgets/internal/api"
	"github.com/ashureev/agent-widgets/internal/identity"
	"github.com/ashureev/agent-widgets/internal/middleware"
	"github.com/ashureev/agent-widgets/internal/widget"
)

// WidgetSummary describes a configured widget for the current visitor.
type WidgetSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	StyleClass string `json:"style_class"`
	Open       bool   `json:"open"`
	Maximized  bool   `json:"maximized"`
	Loading    bool   `json:"loading"`
}

// PanelHTML is the rendered fragment of one widget.
type PanelHTML struct {
	WidgetID string `json:"widget_id"`
	HTML     string `json:"html"`
}

// ActionResponse is returned by every widget endpoint.
type ActionResponse struct {
	Snapshot widget.Snapshot `json:"snapshot"`
	Shell    ShellView       `json:"shell"`
	HTML     string          `json:"html"`
	// Panels is set when an action changed other widgets too.
	Panels []PanelHTML `json:"panels,omitempty"`
}

// Handler serves the dashboard page and the widget API.
type Handler struct {
	reg     *Registry
	render  *Renderer
	limiter *middleware.RateLimiter
}

// NewHandler creates a dashboard handler. limiter may be nil.
func NewHandler(reg *Registry, render *Renderer, limiter *middleware.RateLimiter) *Handler {
	return &Handler{reg: reg, render: render, limiter: limiter}
}

// RegisterRoutes registers the dashboard routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Page)
	r.Route("/api/widgets", func(r chi.Router) {
		r.Get("/", h.ListWidgets)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetWidget)
			r.Post("/tour/exit", h.ExitTour)
			r.Post("/reset", h.Reset)
			r.Post("/toggle", h.Toggle)
			r.Post("/maximize", h.Maximize)

			// Routes that reach the remote agent.
			r.Group(func(r chi.Router) {
				if h.limiter != nil {
					r.Use(middleware.RateLimit(h.limiter, visitorKey))
				}
				r.Post("/messages", h.PostMessage)
				r.Post("/quick-actions", h.QuickAction)
				r.Post("/tour/next", h.Next)
				r.Post("/tour/prev", h.Prev)
				r.Post("/tour/steps/{n}", h.SelectStep)
			})
		})
	})
}

func visitorKey(r *http.Request) string {
	return identity.VisitorIDFromContext(r.Context())
}

// Page renders the dashboard with every widget of the visitor.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	visitorID := visitorKey(r)
	if visitorID == "" {
		http.Error(w, "missing visitor identity", http.StatusBadRequest)
		return
	}

	panels, err := h.panels(visitorID)
	if err != nil {
		slog.Error("Failed to build panels", "visitor_id", visitorID, "error", err)
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := h.render.Page(&buf, panels); err != nil {
		slog.Error("Failed to render dashboard", "visitor_id", visitorID, "error", err)
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("Failed to write dashboard", "visitor_id", visitorID, "error", err)
	}
}

// ListWidgets returns the configured widgets and their state for the visitor.
func (h *Handler) ListWidgets(w http.ResponseWriter, r *http.Request) {
	visitorID := visitorKey(r)
	if visitorID == "" {
		api.Error(w, http.StatusBadRequest, "missing visitor identity")
		return
	}

	configs := h.reg.Widgets()
	out := make([]WidgetSummary, 0, len(configs))
	for _, cfg := range configs {
		ctrl, err := h.reg.Controller(visitorID, cfg.ID)
		if err != nil {
			api.Error(w, http.StatusInternalServerError, "failed to load widgets")
			return
		}
		shell := h.reg.Shell(visitorID, cfg.ID)
		out = append(out, WidgetSummary{
			ID:         cfg.ID,
			Title:      cfg.DisplayTitle(),
			StyleClass: cfg.StyleClass,
			Open:       shell.Open,
			Maximized:  shell.Maximized,
			Loading:    ctrl.Loading(),
		})
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{"widgets": out})
}

// GetWidget returns the widget snapshot and its rendered fragment.
func (h *Handler) GetWidget(w http.ResponseWriter, r *http.Request) {
	visitorID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	h.writeWidget(w, http.StatusOK, visitorID, ctrl)
}

// PostMessage submits typed input.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	content, err := api.Field(r, "content")
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.dispatch(w, r, widget.Input{Kind: widget.InputTyped, Text: content})
}

// QuickAction triggers a quick-action button by label.
func (h *Handler) QuickAction(w http.ResponseWriter, r *http.Request) {
	label, err := api.Field(r, "label")
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.dispatch(w, r, widget.Input{Kind: widget.InputQuickAction, Text: label})
}

// Next clicks the tour Next button.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, widget.Input{Kind: widget.InputNext})
}

// Prev clicks the tour Prev button.
func (h *Handler) Prev(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, widget.Input{Kind: widget.InputPrev})
}

// SelectStep clicks a step-selector button.
func (h *Handler) SelectStep(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, widget.ErrInvalidStep.Error())
		return
	}
	h.dispatch(w, r, widget.Input{Kind: widget.InputStep, Step: n})
}

// ExitTour clicks the tour Exit button. No remote call is made.
func (h *Handler) ExitTour(w http.ResponseWriter, r *http.Request) {
	visitorID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.ExitTour()
	h.respond(w, r, http.StatusOK, visitorID, ctrl)
}

// Reset clears the conversation back to the greeting.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	visitorID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.Reset()
	h.respond(w, r, http.StatusOK, visitorID, ctrl)
}

// Toggle opens the widget and closes the others, or closes it.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	visitorID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if _, err := h.reg.Toggle(visitorID, ctrl.Config().ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !api.WantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	resp, err := h.actionResponse(visitorID, ctrl)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to render widget")
		return
	}
	panels, err := h.panels(visitorID)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to render widgets")
		return
	}
	for _, p := range panels {
		html, err := h.render.Widget(p)
		if err != nil {
			api.Error(w, http.StatusInternalServerError, "failed to render widgets")
			return
		}
		resp.Panels = append(resp.Panels, PanelHTML{WidgetID: p.Snapshot.WidgetID, HTML: html})
	}
	api.JSON(w, http.StatusOK, resp)
}

// Maximize flips the maximized state of an open widget.
func (h *Handler) Maximize(w http.ResponseWriter, r *http.Request) {
	visitorID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if _, err := h.reg.ToggleMaximized(visitorID, ctrl.Config().ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, visitorID, ctrl)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, in widget.Input) {
	visitorID, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.Dispatch(in); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusAccepted, visitorID, ctrl)
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (string, *widget.Controller, bool) {
	visitorID := visitorKey(r)
	if visitorID == "" {
		api.Error(w, http.StatusBadRequest, "missing visitor identity")
		return "", nil, false
	}
	ctrl, err := h.reg.Controller(visitorID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return "", nil, false
	}
	return visitorID, ctrl, true
}

// respond redirects plain form posts back to the page and answers scripts with JSON.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, visitorID string, ctrl *widget.Controller) {
	if !api.WantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.writeWidget(w, status, visitorID, ctrl)
}

func (h *Handler) writeWidget(w http.ResponseWriter, status int, visitorID string, ctrl *widget.Controller) {
	resp, err := h.actionResponse(visitorID, ctrl)
	if err != nil {
		slog.Error("Failed to render widget", "visitor_id", visitorID, "widget_id", ctrl.Config().ID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to render widget")
		return
	}
	api.JSON(w, status, resp)
}

func (h *Handler) actionResponse(visitorID string, ctrl *widget.Controller) (ActionResponse, error) {
	p := h.panel(visitorID, ctrl)
	html, err := h.render.Widget(p)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{Snapshot: p.Snapshot, Shell: p.Shell, HTML: html}, nil
}

func (h *Handler) panel(visitorID string, ctrl *widget.Controller) Panel {
	id := ctrl.Config().ID
	return Panel{
		Snapshot: ctrl.Snapshot(),
		Shell:    h.reg.Shell(visitorID, id),
		Position: h.reg.Position(id),
	}
}

func (h *Handler) panels(visitorID string) ([]Panel, error) {
	configs := h.reg.Widgets()
	out := make([]Panel, 0, len(configs))
	for _, cfg := range configs {
		ctrl, err := h.reg.Controller(visitorID, cfg.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, h.panel(visitorID, ctrl))
	}
	return out, nil
}

// writeError maps widget and registry errors to HTTP statuses. Plain form
// posts that were merely refused go back to the page.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownWidget):
		status = http.StatusNotFound
	case errors.Is(err, widget.ErrEmptyInput),
		errors.Is(err, widget.ErrInvalidStep),
		errors.Is(err, widget.ErrUnknownQuickAction):
		status = http.StatusBadRequest
	case errors.Is(err, widget.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, widget.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	if status != http.StatusNotFound && status < http.StatusInternalServerError && !api.WantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if status >= http.StatusInternalServerError {
		slog.Warn("Widget request failed", "visitor_id", visitorKey(r), "path", r.URL.Path, "error", err)
	}
	api.Error(w, status, err.Error())
}
