// Package completion talks to an OpenAI-compatible chat-completions API.
package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hyperops/ecopay-chat/internal/prompt"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

// Request is a single chat completion call
type Request struct {
	APIKey      string
	Model       string
	Messages    []prompt.Message
	Temperature float64
	MaxTokens   int
}

// Client sends a chat completion request and returns the first choice's content.
//
// Errors are either *UpstreamError (the API answered with a non-2xx status and a
// JSON object body), ErrNoChoices, ErrMalformedChoice, or a transport/decoding
// failure.
type Client interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// OpenAIClient implements Client with the official OpenAI Go SDK.
type OpenAIClient struct {
	client openai.Client
}

// Option configures an OpenAIClient.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// WithBaseURL points the client at a custom OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithTimeout sets the per-request timeout. Zero leaves it unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// NewOpenAIClient creates an OpenAIClient. Retries are disabled: every
// Complete call issues exactly one HTTP request.
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	cfg := clientConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(cfg.timeout))
	}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &OpenAIClient{client: openai.NewClient(clientOpts...)}
}

// Complete sends the request and returns choices[0].message.content.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	}

	var raw *http.Response
	completion, err := c.client.Chat.Completions.New(ctx, params,
		option.WithAPIKey(req.APIKey),
		option.WithResponseInto(&raw),
	)
	if err != nil {
		return "", decodeError(err, raw)
	}

	if len(completion.Choices) == 0 {
		return "", ErrNoChoices
	}
	// The SDK decoder does not enforce required fields.
	if !completion.Choices[0].JSON.Message.Valid() {
		return "", ErrMalformedChoice
	}
	return completion.Choices[0].Message.Content, nil
}

// decodeError separates an upstream-reported error from transport and parse
// failures. The SDK only yields *openai.Error when the body carries an "error"
// object, so the raw response is inspected for everything else.
func decodeError(err error, raw *http.Response) error {
	var payload []byte
	if raw != nil && raw.Body != nil && raw.StatusCode >= 400 {
		payload, _ = io.ReadAll(raw.Body)
	}

	var apiErr *openai.Error
	isAPIErr := errors.As(err, &apiErr)
	if isAPIErr && len(payload) == 0 {
		payload = []byte(apiErr.RawJSON())
	}

	if len(payload) == 0 || !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return fmt.Errorf("completion request failed: %w", err)
	}

	upErr := &UpstreamError{Payload: string(payload)}
	if isAPIErr {
		upErr.StatusCode = apiErr.StatusCode
		upErr.Message = apiErr.Message
	} else {
		upErr.StatusCode = raw.StatusCode
	}
	if upErr.Message == "" {
		if msg := gjson.GetBytes(payload, "error.message"); msg.Type == gjson.String {
			upErr.Message = msg.Str
		}
	}
	return upErr
}

func toOpenAIMessages(msgs []prompt.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case prompt.RoleSystem:
			out[i] = openai.SystemMessage(m.Content)
		default:
			out[i] = openai.UserMessage(m.Content)
		}
	}
	return out
}
