// Package genai provides the reasoning provider client used by the decision
// pipeline, backed by the OpenAI chat completions API.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/civicrelay/civicrelay/internal/models"
)

// DefaultDecisionTimeout bounds every reasoning call. Callers receive the
// context deadline error when the provider does not answer in time.
const DefaultDecisionTimeout = 30 * time.Second

// DefaultModel is the chat model used when no override is configured.
const DefaultModel = openai.ChatModelGPT4o

// completions is the minimal chat completions surface, extracted so tests can
// substitute a scripted implementation.
type completions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ClientInterface is the reasoning provider contract consumed by the flow and
// messaging layers.
type ClientInterface interface {
	// GenerateWithMessages produces a completion for an already-assembled
	// message sequence and returns the raw assistant text.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	// AnalyzeMedia describes an attached media item in the context of the
	// given instruction.
	AnalyzeMedia(ctx context.Context, instruction string, media models.MediaDescriptor) (string, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout overrides the per-call deadline applied to reasoning requests.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completions service.
type Client struct {
	chat    completions
	model   string
	timeout time.Duration
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not set via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI.NewClient: API key not set")
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDecisionTimeout
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI.NewClient: client created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// GenerateWithMessages produces a completion for the given message sequence.
// The call is bounded by the configured timeout on top of the caller context.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slog.Debug("GenAI.GenerateWithMessages: sending request", "model", c.model, "messageCount", len(messages))
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("GenAI.GenerateWithMessages: request failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI.GenerateWithMessages: no choices returned")
		return "", fmt.Errorf("no choices returned")
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("GenAI.GenerateWithMessages: received response", "responseLength", len(content))
	return content, nil
}

// AnalyzeMedia describes an attached media item using the vision-capable
// chat endpoint. The media reference must be a fetchable URL.
func (c *Client) AnalyzeMedia(ctx context.Context, instruction string, media models.MediaDescriptor) (string, error) {
	if media.Reference == "" {
		return "", fmt.Errorf("media reference is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(instruction),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: media.Reference}),
	}

	slog.Debug("GenAI.AnalyzeMedia: sending request", "model", c.model, "mediaType", media.Type)
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	})
	if err != nil {
		slog.Error("GenAI.AnalyzeMedia: request failed", "error", err)
		return "", fmt.Errorf("media analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI.AnalyzeMedia: no choices returned")
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
