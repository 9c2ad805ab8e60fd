package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agent-widgets/internal/domain"
)

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "agent",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Step 1: Welcome"}}]
}`

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.Endpoint = srv.URL
	cfg.AccessKey = "test-key"
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func history(texts ...string) []domain.Message {
	msgs := []domain.Message{domain.NewUnstampedAssistantMessage(domain.GreetingText)}
	for _, text := range texts {
		msgs = append(msgs, domain.NewUserMessage(text))
	}
	return msgs
}

func TestClientCompleteSendsExpectedRequest(t *testing.T) {
	t.Parallel()

	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	})

	reply, err := c.Complete(context.Background(), history("Product Tour"))
	require.NoError(t, err)
	assert.Equal(t, "Step 1: Welcome", reply)

	assert.NotContains(t, body, "model")
	assert.Equal(t, false, body["stream"])
	assert.Equal(t, false, body["include_functions_info"])
	assert.Equal(t, false, body["include_retrieval_info"])
	assert.Equal(t, false, body["include_guardrails_info"])

	msgs, ok := body["messages"].([]any)
	require.True(t, ok, "messages should be an array")
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	last := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", first["role"])
	assert.Equal(t, domain.GreetingText, first["content"])
	assert.Equal(t, "user", last["role"])
	assert.Equal(t, "Product Tour", last["content"])
}

func TestClientCompleteIncludesConfiguredModel(t *testing.T) {
	t.Parallel()

	var model any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		model = body["model"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	}, func(cfg *ClientConfig) { cfg.Model = "gpt-4o-mini" })

	_, err := c.Complete(context.Background(), history("hi"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model)
}

func TestClientCompleteErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		ctype   string
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "application/json", `{"error":{"message":"boom"}}`, ErrAgentUnavailable},
		{"unauthorized", http.StatusUnauthorized, "application/json", `{"error":{"message":"bad key"}}`, ErrAgentUnavailable},
		{"html body", http.StatusOK, "application/json", `<html>gateway</html>`, ErrAgentUnavailable},
		{"html body as text", http.StatusOK, "text/html", `<html>gateway</html>`, ErrAgentUnavailable},
		{"wrong shape as text", http.StatusOK, "text/plain", `{"id":"x"}`, ErrUnexpectedResponse},
		{"no choices", http.StatusOK, "application/json", `{"id":"x","choices":[]}`, ErrUnexpectedResponse},
		{"empty content", http.StatusOK, "application/json", `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":""}}]}`, ErrUnexpectedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", tt.ctype)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.Complete(context.Background(), history("hello"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int32(1), calls.Load(), "client must not retry")
		})
	}
}

func TestClientCompleteDecodesSuccessWhateverContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ctype []string
	}{
		{"text plain", []string{"text/plain"}},
		{"no content type", nil},
		{"vendor json", []string{"application/vnd.agent+json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header()["Content-Type"] = tt.ctype
				_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hi"}}]}`)
			})

			reply, err := c.Complete(context.Background(), history("hello"))
			require.NoError(t, err)
			assert.Equal(t, "hi", reply)
		})
	}
}

func TestClientCompleteNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: endpoint, AccessKey: "k"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), history("hello"))
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestClientCompleteTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *ClientConfig) { cfg.Timeout = 50 * time.Millisecond })
	// Registered after the server so it runs before srv.Close.
	t.Cleanup(func() { close(release) })

	_, err := c.Complete(context.Background(), history("hello"))
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestClientCompleteCallerCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Complete(ctx, history("hello"))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.False(t, errors.Is(err, ErrAgentUnavailable))
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientConfig{Endpoint: "not a url", AccessKey: "k"})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{Endpoint: "https://agent.example.com"})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{Endpoint: " https://agent.example.com/ ", AccessKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://agent.example.com", c.Endpoint())
}
