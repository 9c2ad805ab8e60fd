// Package domain contains core domain types for the agent widgets.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages typed or triggered by the person using the widget.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the remote agent or the widget itself.
	RoleAssistant Role = "assistant"
)

// Fixed texts used by the widget.
const (
	GreetingText          = "Hello! How can I help you today?"
	ExitSentinel          = "How else can I help you?"
	FallbackUnprocessable = "Sorry, I couldn't process that request."
	FallbackConnection    = "Sorry, there was an error connecting to the agent. Please try again."
)

// Message is a single chat entry. Content is stored raw, formatting happens at render time.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NewUserMessage builds a user message. User messages carry no timestamp.
func NewUserMessage(content string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    RoleUser,
		Content: content,
	}
}

// NewAssistantMessage builds an assistant message stamped with at.
func NewAssistantMessage(content string, at time.Time) Message {
	ts := at
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: &ts,
	}
}

// NewUnstampedAssistantMessage builds an assistant message without a timestamp.
// Used for the connection failure fallback.
func NewUnstampedAssistantMessage(content string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    RoleAssistant,
		Content: content,
	}
}

// IsUser reports whether the message was authored by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant reports whether the message was authored by the assistant.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}
