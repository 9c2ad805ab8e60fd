package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/agent-widgets/internal/domain"
)

// Service provides agent replies for one widget and records every turn.
type Service struct {
	widgetID  string
	completer Completer
	log       ConversationLogger
}

// NewService creates a service for widgetID backed by completer.
func NewService(widgetID string, completer Completer, log ConversationLogger) *Service {
	if log == nil {
		log = noopConversationLogger{}
	}
	return &Service{
		widgetID:  widgetID,
		completer: completer,
		log:       log,
	}
}

// WidgetID returns the widget this service answers for.
func (s *Service) WidgetID() string {
	return s.widgetID
}

// Session binds the service to one visitor and shell channel.
func (s *Service) Session(visitorID, channel string) *Session {
	return &Session{svc: s, visitorID: visitorID, channel: channel}
}

// Session is a Completer that logs turns under a visitor identity.
type Session struct {
	svc       *Service
	visitorID string
	channel   string
}

// Complete implements Completer.
func (s *Session) Complete(ctx context.Context, history []domain.Message) (string, error) {
	if n := len(history); n > 0 && history[n-1].IsUser() {
		s.record(EventUserMessage, "outbound", history[n-1].Content, map[string]any{
			"history_len": n,
		})
	}

	start := time.Now()
	reply, err := s.svc.completer.Complete(ctx, history)
	elapsed := time.Since(start)

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("Agent call failed",
				"widget_id", s.svc.widgetID,
				"visitor_id", s.visitorID,
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
			)
		}
		s.record(EventAgentError, "inbound", "", map[string]any{
			"error":       err.Error(),
			"unavailable": errors.Is(err, ErrAgentUnavailable),
			"duration_ms": elapsed.Milliseconds(),
		})
		return "", err
	}

	s.record(EventAssistantMessage, "inbound", reply, map[string]any{
		"duration_ms": elapsed.Milliseconds(),
	})
	return reply, nil
}

func (s *Session) record(eventType, direction, content string, meta map[string]any) {
	s.svc.log.Log(domain.ConversationEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		WidgetID:   s.svc.widgetID,
		VisitorID:  s.visitorID,
		Channel:    s.channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
