package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agent-widgets/internal/identity"
	"github.com/ashureev/agent-widgets/internal/widget"
)

const streamWriteTimeout = 10 * time.Second

// streamMessage is the frame exchanged on a widget stream.
type streamMessage struct {
	Type    string `json:"type"`
	HTML    string `json:"html,omitempty"`
	Loading bool   `json:"loading,omitempty"`
	Version uint64 `json:"version,omitempty"`
}

// StreamHandler pushes widget snapshots to the browser over a WebSocket.
type StreamHandler struct {
	reg           *Registry
	render        *Renderer
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewStreamHandler creates a WebSocket handler for /ws/widgets/{id}.
func NewStreamHandler(reg *Registry, render *Renderer, hub *Hub, allowedOrigin string, isDev bool) *StreamHandler {
	return &StreamHandler{
		reg:           reg,
		render:        render,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	widgetID := chi.URLParam(r, "id")
	slog.Info("WebSocket connection request", "visitor_id", visitorID, "widget_id", widgetID, "ip", identity.IPFromRequest(r))
	if visitorID == "" {
		http.Error(w, "missing visitor identity", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ctrl, err := h.reg.Controller(visitorID, widgetID)
	if err != nil {
		if errors.Is(err, ErrUnknownWidget) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to open widget", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()

	h.hub.Register(visitorID, widgetID, ws)
	defer h.hub.Unregister(visitorID, ws)
	slog.Debug("Widget streams open", "visitor_id", visitorID, "count", h.hub.Count(visitorID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: pings from the browser.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, visitorID)
	}()

	// Output loop: controller snapshots -> browser.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, visitorID, snapshots)
	}()

	wg.Wait()
	slog.Debug("Widget stream ended", "visitor_id", visitorID, "widget_id", widgetID)
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
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

func (h *StreamHandler) inputLoop(ctx context.Context, ws *websocket.Conn, visitorID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "visitor_id", visitorID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "visitor_id", visitorID)
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed stream message", "visitor_id", visitorID)
			continue
		}

		// Any frame counts as activity so an open tab keeps its session.
		h.reg.Touch(visitorID)

		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, streamMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *StreamHandler) outputLoop(ctx context.Context, ws *websocket.Conn, visitorID string, snapshots <-chan widget.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				// Controller closed, e.g. the visitor was evicted.
				return
			}
			html, err := h.render.Widget(Panel{
				Snapshot: snap,
				Shell:    h.reg.Shell(visitorID, snap.WidgetID),
				Position: h.reg.Position(snap.WidgetID),
			})
			if err != nil {
				slog.Error("Failed to render widget", "visitor_id", visitorID, "widget_id", snap.WidgetID, "error", err)
				continue
			}
			msg := streamMessage{Type: "snapshot", HTML: html, Loading: snap.Loading, Version: snap.Version}
			if err := writeJSON(ctx, ws, msg); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "visitor_id", visitorID)
				}
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
