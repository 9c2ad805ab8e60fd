package agent

import (
	"context"

	"github.com/ashureev/agent-widgets/internal/domain"
)

// Completer produces the next assistant reply for a conversation.
// This interface is implemented by the HTTP client and by Session.
type Completer interface {
	// Complete sends the whole history, oldest first, and returns the reply text.
	// Errors wrap ErrAgentUnavailable or ErrUnexpectedResponse, or are the
	// caller's context error when the call was cancelled.
	Complete(ctx context.Context, history []domain.Message) (string, error)
}

// Ensure Client and Session implement Completer.
var (
	_ Completer = (*Client)(nil)
	_ Completer = (*Session)(nil)
)
