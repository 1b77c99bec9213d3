// Package llm implements ports.Provider over OpenAI-compatible chat
// completion endpoints. Every supported backend (qwen, deepseek, hunyuan,
// kimi, and self-hosted gateways) speaks this dialect, so one client covers
// the whole provider set; only base URL, model, and credentials differ.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/mindspring/palette/pkg/ports"
)

const chatCompletionsEndpoint = "/chat/completions"

// maxErrorBodySize caps error body reads to prevent unbounded allocation.
const maxErrorBodySize int64 = 10 * 1024 * 1024

// ErrMissingAPIKey is returned when a client is used without credentials.
var ErrMissingAPIKey = errors.New("llm: api key is not set")

// Client is a streaming chat-completions client for one provider endpoint.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a provider client. name labels nodes and metrics; baseURL
// points at the API root (e.g. "https://api.deepseek.com/v1").
func NewClient(name, baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 0}, // per-request deadlines come from ctx
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements ports.Provider.
func (c *Client) Name() string { return c.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements ports.Provider. It opens a streaming completion and
// returns an iterator over content deltas. The response body is closed when
// the iterator finishes or the caller stops consuming.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (iter.Seq2[string, error], error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	resp, err := c.doPostStream(ctx, chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	scanner := newSSEScanner(resp.Body)

	return func(yield func(string, error) bool) {
		defer resp.Body.Close()

		for {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}

			payload, sseErr := scanner.Next()
			if sseErr == io.EOF {
				return
			}
			if sseErr != nil {
				yield("", fmt.Errorf("SSE read error: %w", sseErr))
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				yield("", fmt.Errorf("failed to parse streaming chunk: %w", err))
				return
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !yield(choice.Delta.Content, nil) {
						return
					}
				}
			}
		}
	}, nil
}

// doPostStream performs the POST and returns the response with the body left
// open for SSE reading. On error paths the body is consumed and closed.
func (c *Client) doPostStream(ctx context.Context, body chatRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling body: %w", err)
	}

	url := c.baseURL + chatCompletionsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending stream request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errorBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if readErr != nil {
			return nil, fmt.Errorf("non-2xx status %d (failed to read body: %v)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("non-2xx status %d after %s: %s", resp.StatusCode, time.Since(started).Round(time.Millisecond), string(errorBody))
	}

	return resp, nil
}
