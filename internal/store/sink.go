package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agent-widgets/internal/domain"
)

// EventSink writes conversation events to a repository from a background
// goroutine. It satisfies agent.ConversationLogger.
type EventSink struct {
	repo   EventRepository
	logger *slog.Logger
	queue  chan domain.ConversationEvent
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewEventSink starts a sink over repo. Close also closes repo.
func NewEventSink(repo EventRepository, queueSize int, logger *slog.Logger) *EventSink {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &EventSink{
		repo:   repo,
		logger: logger,
		queue:  make(chan domain.ConversationEvent, queueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Log queues an event, dropping it when the queue is full.
func (s *EventSink) Log(event domain.ConversationEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = event.ContentRaw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("diagnostic event queue full, dropping event",
			"widget_id", event.WidgetID,
			"event_type", event.EventType,
		)
	}
}

func (s *EventSink) run() {
	defer s.wg.Done()
	for event := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.InsertEvent(ctx, event); err != nil {
			s.logger.Warn("failed to store diagnostic event",
				"widget_id", event.WidgetID,
				"visitor_id", event.VisitorID,
				"error", err,
			)
		}
		cancel()
	}
}

// Close drains the queue and closes the repository.
func (s *EventSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.repo.Close()
}
