package domain

// ConversationEvent is one diagnostic record of a chat turn.
// It is written to logs only and never read back into a conversation.
type ConversationEvent struct {
	Timestamp  string         `json:"ts"`
	WidgetID   string         `json:"widget_id"`
	VisitorID  string         `json:"visitor_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}
