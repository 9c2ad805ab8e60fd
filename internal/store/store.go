// Package store persists diagnostic conversation events.
//
// Events are write-mostly and never loaded back into a conversation;
// widgets keep their transcripts in memory only.
package store

import (
	"context"

	"github.com/ashureev/agent-widgets/internal/domain"
)

// EventRepository defines the interface for persisting conversation events.
type EventRepository interface {
	// InsertEvent stores one event.
	InsertEvent(ctx context.Context, event domain.ConversationEvent) error

	// RecentEvents returns up to limit events, newest first. An empty
	// widgetID matches every widget.
	RecentEvents(ctx context.Context, widgetID string, limit int) ([]domain.ConversationEvent, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
