package agent

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/agent-widgets/internal/domain"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const completionsBasePath = "/api/v1/"

// Client calls the agent's OpenAI-compatible chat completions endpoint.
type Client struct {
	client   openai.Client
	endpoint string
	model    string
	cfg      ClientConfig
}

// NewClient creates a client for one agent endpoint. No network I/O happens here.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid agent endpoint %q", cfg.Endpoint)
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("agent endpoint %s has no access key", endpoint)
	}

	opts := []option.RequestOption{
		option.WithBaseURL(endpoint + completionsBasePath),
		option.WithAPIKey(cfg.AccessKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(jsonSuccessBody),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:   openai.NewClient(opts...),
		endpoint: endpoint,
		model:    cfg.Model,
		cfg:      cfg,
	}, nil
}

// jsonSuccessBody marks every 2xx body as JSON so it is decoded whatever
// Content-Type the agent sent. A body that is not JSON still fails to decode.
func jsonSuccessBody(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp == nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, err
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
		resp.Header.Set("Content-Type", "application/json")
	}
	return resp, nil
}

// Endpoint returns the normalized base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Complete implements Completer. It makes exactly one attempt.
func (c *Client) Complete(ctx context.Context, history []domain.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return "", fmt.Errorf("complete: unsupported role %q", msg.Role)
		}
	}

	request := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}

	reqOpts := []option.RequestOption{
		option.WithJSONSet("stream", false),
		option.WithJSONSet("include_functions_info", false),
		option.WithJSONSet("include_retrieval_info", false),
		option.WithJSONSet("include_guardrails_info", false),
	}
	if c.model == "" {
		reqOpts = append(reqOpts, option.WithJSONDel("model"))
	}

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.client.Chat.Completions.New(callCtx, request, reqOpts...)
	if err != nil {
		// The caller gave up (widget closed); that is not an agent failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: status %d: %w", ErrAgentUnavailable, apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrUnexpectedResponse)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("%w: empty message content", ErrUnexpectedResponse)
	}
	return content, nil
}
