package domain

import (
	"time"
)

// Conversation is the ordered, append-only message history of one widget instance.
// It is not safe for concurrent use; the owning controller serializes access.
type Conversation struct {
	messages []Message
}

// NewConversation returns a conversation seeded with the assistant greeting.
func NewConversation(now time.Time) *Conversation {
	c := &Conversation{}
	c.Reset(now)
	return c
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
}

// Reset replaces the whole history with a single greeting.
func (c *Conversation) Reset(now time.Time) {
	c.messages = []Message{NewAssistantMessage(GreetingText, now)}
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages returns a copy of the history, oldest first.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}
