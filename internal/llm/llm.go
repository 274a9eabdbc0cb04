package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/prguard/internal/models"
)

// DefaultMaxTokens caps the completion length of a single call.
const DefaultMaxTokens = 4096

// Client wraps the Anthropic API for diff analysis and patch generation.
type Client struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	maxTokens int64
	request   []option.RequestOption
}

// WithMaxTokens sets the completion cap. Values <= 0 keep the default.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = int64(n)
		}
	}
}

// WithRequestOptions passes options through to the Anthropic SDK, for
// example a base URL or retry policy.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(o *clientOptions) {
		o.request = append(o.request, opts...)
	}
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string, opts ...Option) *Client {
	co := clientOptions{maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(&co)
	}
	reqOpts := []option.RequestOption{}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	reqOpts = append(reqOpts, co.request...)
	client := anthropic.NewClient(reqOpts...)
	return &Client{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: co.maxTokens,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return string(c.model)
}

// APIError is a failed Messages API call. It exposes the HTTP status so cost
// attribution can classify the failure.
type APIError struct {
	Status int
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return "anthropic API call: " + e.Err.Error()
	}
	return fmt.Sprintf("anthropic API call (HTTP %d): %v", e.Status, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatus returns the response status, or 0 when no response was received.
func (e *APIError) HTTPStatus() int { return e.Status }

// completion is the text and usage of one Messages call.
type completion struct {
	text  string
	model string
	usage models.Usage
}

func (c *Client) complete(ctx context.Context, system, user string) (completion, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		apiErr := &APIError{Err: err}
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			apiErr.Status = sdkErr.StatusCode
		}
		return completion{}, apiErr
	}

	out := completion{
		model: string(msg.Model),
		usage: models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
	out.usage.TotalTokens = out.usage.PromptTokens + out.usage.CompletionTokens
	if out.model == "" {
		out.model = string(c.model)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			out.text = block.Text
			break
		}
	}
	if out.text == "" {
		return out, fmt.Errorf("no text content in API response")
	}
	out.text = stripFences(out.text)
	return out, nil
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
