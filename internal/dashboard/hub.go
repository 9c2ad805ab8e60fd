package dashboard

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks live WebSocket connections per visitor and widget.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]string // visitorID -> conn -> widgetID
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[*websocket.Conn]string),
	}
}

// Register adds a connection for a visitor's widget.
func (h *Hub) Register(visitorID, widgetID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[visitorID]; !exists {
		h.active[visitorID] = make(map[*websocket.Conn]string)
	}
	h.active[visitorID][conn] = widgetID
	slog.Info("Widget stream registered", "visitor_id", visitorID, "widget_id", widgetID)
}

// Unregister removes a connection.
func (h *Hub) Unregister(visitorID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[visitorID]; ok {
		if widgetID, exists := conns[conn]; exists {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.active, visitorID)
			}
			slog.Info("Widget stream unregistered", "visitor_id", visitorID, "widget_id", widgetID)
		}
	}
}

// Count returns the number of live connections of a visitor.
func (h *Hub) Count(visitorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[visitorID])
}

// CloseVisitor terminates every live connection of a visitor.
func (h *Hub) CloseVisitor(visitorID string) {
	h.mu.Lock()
	conns := h.active[visitorID]
	delete(h.active, visitorID)
	h.mu.Unlock()

	for conn, widgetID := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "session expired")
		slog.Info("Widget stream closed", "visitor_id", visitorID, "widget_id", widgetID)
	}
}
