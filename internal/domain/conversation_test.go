package domain

import (
	"testing"
	"time"
)

func TestNewConversationSeedsGreeting(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	c := NewConversation(now)

	if c.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", c.Len())
	}
	first, _ := c.Last()
	if first.Role != RoleAssistant || first.Content != GreetingText {
		t.Fatalf("unexpected seed message: %+v", first)
	}
	if first.Timestamp == nil || !first.Timestamp.Equal(now) {
		t.Fatalf("expected greeting stamped at %v, got %v", now, first.Timestamp)
	}
}

func TestConversationMessagesReturnsCopy(t *testing.T) {
	c := NewConversation(time.Now())
	c.Append(NewUserMessage("hi"))

	msgs := c.Messages()
	msgs[0].Content = "mutated"

	again := c.Messages()
	if again[0].Content != GreetingText {
		t.Fatalf("history was mutated through copy: %q", again[0].Content)
	}
}

func TestConversationResetRestoresGreeting(t *testing.T) {
	c := NewConversation(time.Now())
	c.Append(NewUserMessage("Product Tour"))
	c.Append(NewUnstampedAssistantMessage(FallbackConnection))

	c.Reset(time.Now())

	if c.Len() != 1 {
		t.Fatalf("expected reset to leave 1 message, got %d", c.Len())
	}
	last, ok := c.Last()
	if !ok || last.Content != GreetingText {
		t.Fatalf("expected greeting after reset, got %+v", last)
	}
}

func TestUserMessagesHaveNoTimestamp(t *testing.T) {
	m := NewUserMessage("next")
	if m.Timestamp != nil {
		t.Fatalf("user message should not carry a timestamp")
	}
	if m.ID == "" {
		t.Fatal("expected message id")
	}
	if NewUnstampedAssistantMessage("x").Timestamp != nil {
		t.Fatal("unstamped assistant message should not carry a timestamp")
	}
}
