// Package speechkit talks to the cloud speech synthesis and recognition APIs.
package speechkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"speechkit-bot/internal/metrics"
)

const (
	OpSynthesize = "tts"
	OpRecognize  = "stt"
)

// UpstreamError is a failed call to SpeechKit. StatusCode is the HTTP status,
// Code the error_code of the response body when there is one. StatusCode 0
// means no usable response arrived; Err then holds the cause.
type UpstreamError struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speechkit: %s failed: %v", e.Op, e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("speechkit: %s failed with status %d (%s)", e.Op, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("speechkit: %s failed with status %d", e.Op, e.StatusCode)
}

// Option configures the Client.
type Option func(*Client)

// WithLanguage sets the lang parameter of both operations.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.lang = lang }
}

// WithTopic sets the recognition model topic.
func WithTopic(topic string) Option {
	return func(c *Client) { c.topic = topic }
}

// WithHTTPTimeout sets the HTTP client timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// Client calls the synthesis and recognition endpoints.
type Client struct {
	ttsURL   string
	sttURL   string
	folderID string
	lang     string
	topic    string
	http     *http.Client
	log      *slog.Logger
}

func NewClient(ttsURL, sttURL, folderID string, log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		ttsURL:   ttsURL,
		sttURL:   sttURL,
		folderID: folderID,
		lang:     "ru-RU",
		topic:    "general",
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log.With("component", "speechkit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Voice holds the synthesis settings of one request.
type Voice struct {
	Name    string
	Emotion string
	Speed   float64
}

// Synthesize converts text to OGG audio.
func (c *Client) Synthesize(ctx context.Context, token, text string, voice Voice) ([]byte, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("lang", c.lang)
	form.Set("voice", voice.Name)
	form.Set("emotion", voice.Emotion)
	form.Set("speed", strconv.FormatFloat(voice.Speed, 'f', -1, 64))
	form.Set("folderId", c.folderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ttsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("speechkit: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.log.DebugContext(ctx, "synthesizing", "chars", len([]rune(text)), "voice", voice.Name)

	body, status, err := c.do(req, OpSynthesize)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		c.log.ErrorContext(ctx, "upstream failure", "op", OpSynthesize, "status", status, "body", string(body))
		return nil, &UpstreamError{Op: OpSynthesize, StatusCode: status}
	}
	return body, nil
}

type recognitionResponse struct {
	Result       string `json:"result"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Recognize transcribes an OGG clip.
func (c *Client) Recognize(ctx context.Context, token string, audio []byte) (string, error) {
	params := url.Values{}
	params.Set("topic", c.topic)
	params.Set("folderId", c.folderID)
	params.Set("lang", c.lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sttURL+"?"+params.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("speechkit: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	c.log.DebugContext(ctx, "recognizing", "bytes", len(audio))

	body, status, err := c.do(req, OpRecognize)
	if err != nil {
		return "", err
	}

	var result recognitionResponse
	decodeErr := json.Unmarshal(body, &result)

	if status != http.StatusOK || result.ErrorCode != "" {
		c.log.ErrorContext(ctx, "upstream failure", "op", OpRecognize, "status", status,
			"error_code", result.ErrorCode, "error_message", result.ErrorMessage)
		return "", &UpstreamError{Op: OpRecognize, StatusCode: status, Code: result.ErrorCode}
	}
	if decodeErr != nil {
		c.log.ErrorContext(ctx, "malformed upstream response", "op", OpRecognize, "error", decodeErr)
		return "", &UpstreamError{Op: OpRecognize, Err: fmt.Errorf("parse response: %w", decodeErr)}
	}
	return result.Result, nil
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (c *Client) do(req *http.Request, op string) ([]byte, int, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveUpstream(op, 0, time.Since(start))
		c.log.ErrorContext(req.Context(), "upstream request failed", "op", op, "error", err)
		return nil, 0, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveUpstream(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, resp.StatusCode, &UpstreamError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	return body, resp.StatusCode, nil
}
