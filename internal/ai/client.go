package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("ai client is not configured")
	// ErrServiceFailure covers transport errors, timeouts and bad responses
	ErrServiceFailure = errors.New("ai service failure")
)

const systemPrompt = "You are a helpful assistant, a teacher."

// Config configures the completion client
type Config struct {
	APIKey  string
	URL     string
	Model   string
	Timeout time.Duration
}

// Recorder receives the outcome of every completion
type Recorder interface {
	RecordAIRequest(ok bool)
}

// Client talks to an OpenAI compatible chat completions endpoint
type Client struct {
	http     *resty.Client
	url      string
	apiKey   string
	model    string
	timeout  time.Duration
	recorder Recorder
}

// Message represents a message in the conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to the completions API
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// ChatResponse represents a response from the completions API
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates a completion client
func New(cfg Config, recorder Recorder) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		recorder: recorder,
	}
}

// Enabled reports whether an API key is configured
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Complete sends prompt with an optional context preamble and returns the
// model's answer
func (c *Client) Complete(ctx context.Context, prompt, contextText string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}

	answer, err := c.complete(ctx, prompt, contextText)
	if c.recorder != nil {
		c.recorder.RecordAIRequest(err == nil)
	}
	return answer, err
}

func (c *Client) complete(ctx context.Context, prompt, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request := ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: strings.TrimSpace(contextText + "\n\n" + prompt)},
		},
	}

	var response ChatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post(c.url)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send request: %w", ErrServiceFailure, err)
	}

	if resp.IsError() {
		msg := resp.Status()
		if response.Error != nil {
			msg = response.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrServiceFailure, resp.StatusCode(), msg)
	}

	if response.Error != nil {
		return "", fmt.Errorf("%w: API error: %s", ErrServiceFailure, response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices returned", ErrServiceFailure)
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
