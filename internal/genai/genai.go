// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// It wraps chat completion, streaming completion, and JSON-schema
// structured extraction behind a small interface so flows can be tested
// against fakes.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// ClientInterface defines the text-generation backend contract used by the
// stage orchestration engine: free-form reply generation (streaming and
// not), plus a structured-extraction call that returns a JSON object
// conforming to a caller-supplied schema.
type ClientInterface interface {
	// GenerateWithMessages generates a reply for the given message history.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)

	// GenerateStream streams a reply, invoking onDelta for each text chunk,
	// and returns the full accumulated reply.
	GenerateStream(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(delta string) error) (string, error)

	// ExtractStructured performs a structured-extraction call against the
	// given JSON schema and returns the raw conforming object. Callers own
	// strict decoding of the payload.
	ExtractStructured(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema map[string]any) (json.RawMessage, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	client openai.Client
	model  string
}

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// NewClient initializes a new GenAI client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Error("genai.NewClient: API key not set")
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	slog.Debug("genai.NewClient: creating client", "model", model)
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
	}, nil
}

// GenerateWithMessages generates a reply for the given message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	slog.Debug("genai.GenerateWithMessages: requesting completion", "messageCount", len(messages))
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.model),
	})
	if err != nil {
		slog.Error("genai.GenerateWithMessages: completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateWithMessages: no choices returned")
		return "", fmt.Errorf("no choices returned")
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("genai.GenerateWithMessages: completion succeeded", "responseLength", len(content))
	return content, nil
}

// GenerateStream streams a reply, invoking onDelta for each text chunk.
func (c *Client) GenerateStream(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(delta string) error) (string, error) {
	slog.Debug("genai.GenerateStream: starting streaming completion", "messageCount", len(messages))
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.model),
	})
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var full []byte
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full = append(full, delta...)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				slog.Warn("genai.GenerateStream: delta callback aborted stream", "error", err)
				return string(full), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		slog.Error("genai.GenerateStream: stream failed", "error", err)
		return string(full), fmt.Errorf("streaming completion failed: %w", err)
	}
	slog.Debug("genai.GenerateStream: stream finished", "responseLength", len(full))
	return string(full), nil
}

// ExtractStructured performs a structured-extraction call against the given
// JSON schema and returns the raw conforming object.
func (c *Client) ExtractStructured(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema map[string]any) (json.RawMessage, error) {
	slog.Debug("genai.ExtractStructured: requesting structured completion", "schema", schemaName)
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Model: openai.ChatModel(c.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		slog.Error("genai.ExtractStructured: completion failed", "error", err, "schema", schemaName)
		return nil, fmt.Errorf("structured extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.ExtractStructured: no choices returned", "schema", schemaName)
		return nil, fmt.Errorf("no choices returned")
	}
	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		slog.Error("genai.ExtractStructured: response is not valid JSON", "schema", schemaName)
		return nil, fmt.Errorf("structured extraction returned invalid JSON")
	}
	slog.Debug("genai.ExtractStructured: completion succeeded", "schema", schemaName, "responseLength", len(content))
	return json.RawMessage(content), nil
}
