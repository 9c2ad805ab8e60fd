// Package dashboard hosts widget instances for browser visitors: the
// per-visitor registry, HTTP routes, page rendering and live updates.
package dashboard

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agent-widgets/internal/widget"
)

// ErrUnknownWidget is returned for widget ids that are not configured.
var ErrUnknownWidget = errors.New("unknown widget")

// ControllerFactory builds the controller a visitor uses for one widget.
type ControllerFactory func(cfg widget.Config, visitorID string) *widget.Controller

// visitor holds one browser's widget instances. Only one widget is open at a time.
type visitor struct {
	controllers map[string]*widget.Controller
	shells      map[string]*widget.Shell
	lastSeen    time.Time
}

// ShellView is the window state of one widget for one visitor.
type ShellView struct {
	Open      bool `json:"open"`
	Maximized bool `json:"maximized"`
}

// Registry owns every visitor's widget instances.
type Registry struct {
	configs []widget.Config
	byID    map[string]widget.Config
	order   map[string]int
	factory ControllerFactory
	now     func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRegistry creates a registry for the configured widgets.
func NewRegistry(configs []widget.Config, factory ControllerFactory) *Registry {
	byID := make(map[string]widget.Config, len(configs))
	order := make(map[string]int, len(configs))
	for i, c := range configs {
		byID[c.ID] = c
		order[c.ID] = i
	}
	return &Registry{
		configs:  configs,
		byID:     byID,
		order:    order,
		factory:  factory,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Widgets returns the configured widgets in display order.
func (r *Registry) Widgets() []widget.Config {
	out := make([]widget.Config, len(r.configs))
	copy(out, r.configs)
	return out
}

// Position returns the display slot of widgetID, or -1 if it is unknown.
func (r *Registry) Position(widgetID string) int {
	if i, ok := r.order[widgetID]; ok {
		return i
	}
	return -1
}

// Controller returns the visitor's controller for widgetID, creating it on first use.
func (r *Registry) Controller(visitorID, widgetID string) (*widget.Controller, error) {
	cfg, ok := r.byID[widgetID]
	if !ok {
		return nil, ErrUnknownWidget
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.touchLocked(visitorID)
	c, ok := v.controllers[widgetID]
	if !ok {
		c = r.factory(cfg, visitorID)
		v.controllers[widgetID] = c
		slog.Debug("Widget instance created", "visitor_id", visitorID, "widget_id", widgetID)
	}
	return c, nil
}

// Toggle opens widgetID and closes every other widget of the visitor, or
// closes widgetID if it is already open.
func (r *Registry) Toggle(visitorID, widgetID string) (ShellView, error) {
	if _, ok := r.byID[widgetID]; !ok {
		return ShellView{}, ErrUnknownWidget
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.touchLocked(visitorID)
	target := r.shellLocked(v, widgetID)
	open := !target.Open()
	for id, s := range v.shells {
		if id != widgetID {
			s.SetOpen(false)
		}
	}
	target.SetOpen(open)
	return ShellView{Open: target.Open(), Maximized: target.Maximized()}, nil
}

// ToggleMaximized flips the maximized state of an open widget.
func (r *Registry) ToggleMaximized(visitorID, widgetID string) (ShellView, error) {
	if _, ok := r.byID[widgetID]; !ok {
		return ShellView{}, ErrUnknownWidget
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.shellLocked(r.touchLocked(visitorID), widgetID)
	s.ToggleMaximized()
	return ShellView{Open: s.Open(), Maximized: s.Maximized()}, nil
}

// Shell returns the window state of widgetID for a visitor.
func (r *Registry) Shell(visitorID, widgetID string) ShellView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[visitorID]
	if !ok {
		return ShellView{}
	}
	s, ok := v.shells[widgetID]
	if !ok {
		return ShellView{}
	}
	return ShellView{Open: s.Open(), Maximized: s.Maximized()}
}

// Evict closes every widget instance of a visitor.
func (r *Registry) Evict(visitorID string) {
	r.mu.Lock()
	v, ok := r.visitors[visitorID]
	delete(r.visitors, visitorID)
	r.mu.Unlock()

	if ok {
		closeVisitor(v)
	}
}

// ExpireIdle evicts visitors not seen for ttl and returns their ids.
func (r *Registry) ExpireIdle(ttl time.Duration) []string {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var expired []*visitor
	var ids []string
	for id, v := range r.visitors {
		if v.lastSeen.Before(cutoff) && !v.busy() {
			expired = append(expired, v)
			ids = append(ids, id)
			delete(r.visitors, id)
		}
	}
	r.mu.Unlock()

	for _, v := range expired {
		closeVisitor(v)
	}
	return ids
}

// Len returns the number of tracked visitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// Close evicts every visitor.
func (r *Registry) Close() {
	r.mu.Lock()
	visitors := r.visitors
	r.visitors = make(map[string]*visitor)
	r.mu.Unlock()

	for _, v := range visitors {
		closeVisitor(v)
	}
}

// Touch records activity for a visitor, e.g. from an open WebSocket.
func (r *Registry) Touch(visitorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked(visitorID)
}

func (r *Registry) touchLocked(visitorID string) *visitor {
	v, ok := r.visitors[visitorID]
	if !ok {
		v = &visitor{
			controllers: make(map[string]*widget.Controller),
			shells:      make(map[string]*widget.Shell),
		}
		r.visitors[visitorID] = v
	}
	v.lastSeen = r.now()
	return v
}

func (r *Registry) shellLocked(v *visitor, widgetID string) *widget.Shell {
	s, ok := v.shells[widgetID]
	if !ok {
		s = &widget.Shell{}
		v.shells[widgetID] = s
	}
	return s
}

func (v *visitor) busy() bool {
	for _, c := range v.controllers {
		if c.Loading() {
			return true
		}
	}
	return false
}

func closeVisitor(v *visitor) {
	for _, c := range v.controllers {
		c.Close()
	}
}
