package widget

import (
	"html/template"

	"github.com/ashureev/agent-widgets/internal/domain"
	"github.com/ashureev/agent-widgets/internal/format"
	"github.com/ashureev/agent-widgets/internal/tour"
)

const (
	headingLayout = "Monday, January 2, 2006 | 3:04 PM"
	statusLayout  = "3:04 PM"
)

// MessageView is a rendered message.
type MessageView struct {
	ID      string        `json:"id"`
	Role    domain.Role   `json:"role"`
	Content string        `json:"content"`
	HTML    template.HTML `json:"html"`
	Status  string        `json:"status"`
	// ShowControls marks the message the tour controls attach to.
	ShowControls bool `json:"show_controls,omitempty"`
}

// Snapshot is an immutable view of a widget at one instant.
type Snapshot struct {
	WidgetID     string        `json:"widget_id"`
	Title        string        `json:"title"`
	StyleClass   string        `json:"style_class"`
	Version      uint64        `json:"version"`
	Heading      string        `json:"heading"`
	Messages     []MessageView `json:"messages"`
	Loading      bool          `json:"loading"`
	QuickActions []QuickAction `json:"quick_actions,omitempty"`
	ShowClear    bool          `json:"show_clear"`
	TourMode     string        `json:"tour_mode"`
	TourStep     int           `json:"tour_step,omitempty"`
	Controls     tour.Controls `json:"controls"`
}

// Snapshot renders the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	now := c.now()
	msgs := c.conv.Messages()
	state := c.machine.State()
	loading := c.inFlight > 0

	s := Snapshot{
		WidgetID:   c.cfg.ID,
		Title:      c.cfg.DisplayTitle(),
		StyleClass: c.cfg.StyleClass,
		Version:    c.version,
		Heading:    now.Format(headingLayout),
		Messages:   make([]MessageView, len(msgs)),
		Loading:    loading,
		ShowClear:  len(msgs) > 1,
		TourMode:   state.Mode.String(),
	}
	if state.HasStep {
		s.TourStep = state.Step
	}

	lastAssistant := -1
	for i, m := range msgs {
		v := MessageView{ID: m.ID, Role: m.Role, Content: m.Content}
		if m.IsAssistant() {
			lastAssistant = i
			v.HTML = template.HTML(format.Format(m.Content)) //nolint:gosec // Format escapes before adding markup.
			at := now
			if m.Timestamp != nil {
				at = *m.Timestamp
			}
			v.Status = "Sent " + at.Format(statusLayout)
		} else {
			v.HTML = template.HTML(format.EscapeHTML(m.Content)) //nolint:gosec // Escaped.
			v.Status = "Read " + now.Format(statusLayout)
		}
		s.Messages[i] = v
	}

	if !loading && lastAssistant >= 0 {
		if ctl := state.Controls(); ctl.Any() {
			s.Controls = ctl
			s.Messages[lastAssistant].ShowControls = true
		}
	}

	if c.showQuickActions && quickActionsOffered(msgs) {
		s.QuickActions = append([]QuickAction(nil), QuickActions...)
	}
	return s
}

// quickActionsOffered holds for a fresh conversation or right after a tour exit.
func quickActionsOffered(msgs []domain.Message) bool {
	if len(msgs) == 1 {
		return true
	}
	if n := len(msgs); n > 0 {
		last := msgs[n-1]
		return last.IsAssistant() && last.Content == domain.ExitSentinel
	}
	return false
}

// Subscribe returns a channel that receives a snapshot after every change,
// starting with the current one. Slow readers only see the latest snapshot.
// The channel is closed by the returned cancel func or by Close.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.subMu.Lock()
	ch <- c.Snapshot()
	if c.subsDone {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// publish holds subMu while snapshotting so subscribers never see versions
// out of order.
func (c *Controller) publish() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subs) == 0 {
		return
	}
	snap := c.Snapshot()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot and replace it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
