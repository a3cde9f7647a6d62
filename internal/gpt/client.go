// Package gpt provides the chat-completion and tokenizer client used by the
// chat operation.
package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"speechkit-bot/internal/metrics"
)

const (
	OpComplete           = "gpt"
	OpTokenize           = "tokenize"
	OpTokenizeCompletion = "tokenize_completion"
)

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat-completion message.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// payload is the request body of the completion and tokenizeCompletion endpoints.
type payload struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []Message         `json:"messages"`
}

type textPayload struct {
	ModelURI string `json:"modelUri"`
	Text     string `json:"text"`
}

type apiResponse struct {
	Result struct {
		Alternatives []struct {
			Message Message `json:"message"`
			Status  string  `json:"status"`
		} `json:"alternatives"`
	} `json:"result"`
}

type tokensResponse struct {
	Tokens []json.RawMessage `json:"tokens"`
}

// UpstreamError is a failed call to the LLM API. StatusCode 0 means no
// usable response arrived; Err then holds the cause.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gpt: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gpt: %s failed with status %d", e.Op, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) { c.maxTokens = n }
}

// WithHTTPTimeout sets the HTTP client timeout.
func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithFolderID sets the x-folder-id header.
func WithFolderID(id string) ClientOption {
	return func(c *Client) { c.folderID = id }
}

// Endpoints are the URLs of the three LLM resources.
type Endpoints struct {
	Completion         string
	Tokenize           string
	TokenizeCompletion string
}

// Client talks to the foundation-models API.
type Client struct {
	endpoints   Endpoints
	folderID    string
	temperature float64
	maxTokens   int
	http        *http.Client
	log         *slog.Logger
}

func NewClient(endpoints Endpoints, log *slog.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		endpoints:   endpoints,
		temperature: 0.6,
		maxTokens:   100,
		http:        &http.Client{Timeout: 30 * time.Second},
		log:         log.With("component", "gpt"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MaxTokens returns the response token limit sent with every completion.
func (c *Client) MaxTokens() int {
	return c.maxTokens
}

func (c *Client) payload(modelURI string, messages []Message) payload {
	return payload{
		ModelURI: modelURI,
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		},
		Messages: messages,
	}
}

// Complete sends a chat-completion request and returns the assistant's reply.
func (c *Client) Complete(ctx context.Context, token, modelURI string, messages []Message) (string, error) {
	var result apiResponse
	if err := c.post(ctx, OpComplete, c.endpoints.Completion, token, c.payload(modelURI, messages), &result); err != nil {
		return "", err
	}
	if len(result.Result.Alternatives) == 0 {
		c.log.ErrorContext(ctx, "malformed upstream response", "op", OpComplete, "error", "no alternatives")
		return "", &UpstreamError{Op: OpComplete, Err: errors.New("empty response (no alternatives)")}
	}

	reply := result.Result.Alternatives[0].Message.Text
	c.log.DebugContext(ctx, "reply", "chars", len([]rune(reply)))
	return reply, nil
}

// CountCompletion returns the token count of a full completion request.
func (c *Client) CountCompletion(ctx context.Context, token, modelURI string, messages []Message) (int, error) {
	var result tokensResponse
	if err := c.post(ctx, OpTokenizeCompletion, c.endpoints.TokenizeCompletion, token, c.payload(modelURI, messages), &result); err != nil {
		return 0, err
	}
	return len(result.Tokens), nil
}

// CountText returns the token count of a plain text.
func (c *Client) CountText(ctx context.Context, token, modelURI, text string) (int, error) {
	var result tokensResponse
	if err := c.post(ctx, OpTokenize, c.endpoints.Tokenize, token, textPayload{ModelURI: modelURI, Text: text}, &result); err != nil {
		return 0, err
	}
	return len(result.Tokens), nil
}

func (c *Client) post(ctx context.Context, op, endpoint, token string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gpt: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("gpt: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.folderID != "" {
		req.Header.Set("x-folder-id", c.folderID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveUpstream(op, 0, time.Since(start))
		c.log.ErrorContext(ctx, "upstream request failed", "op", op, "error", err)
		return &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.ObserveUpstream(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return &UpstreamError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.log.ErrorContext(ctx, "upstream failure", "op", op, "status", resp.StatusCode, "body", string(respBody))
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		c.log.ErrorContext(ctx, "malformed upstream response", "op", op, "error", err)
		return &UpstreamError{Op: op, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}
