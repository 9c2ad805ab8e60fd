// Package agent talks to the remote hosted conversational agent.
package agent

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrAgentUnavailable covers transport failures, non-2xx answers and undecodable bodies.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrUnexpectedResponse means the agent answered but without choices[0].message.content.
	ErrUnexpectedResponse = errors.New("unexpected agent response")
)

// Event types written to the conversation log.
const (
	EventUserMessage      = "chat_user_message"
	EventAssistantMessage = "chat_assistant_message"
	EventAgentError       = "chat_agent_error"
)

// Channels identify which shell produced a turn.
const (
	ChannelWeb      = "widget_http"
	ChannelTerminal = "widget_tui"
)

// ClientConfig holds the connection settings of one widget's agent.
type ClientConfig struct {
	// Endpoint is the agent base URL; requests go to {Endpoint}/api/v1/chat/completions.
	Endpoint string
	// AccessKey is sent as a bearer token.
	AccessKey string
	// Model is optional. Hosted agents pick their own model, so the key is
	// omitted from the request body when empty.
	Model string
	// Timeout bounds a single call. Zero means no limit.
	Timeout time.Duration
	// HTTPClient overrides the default http.Client.
	HTTPClient *http.Client
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 60 * time.Second,
	}
}
