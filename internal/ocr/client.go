// Package ocr extracts text from photos with the OCR.space API.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnavailable means no text could be recognised, either because the
// client is not configured or because the service failed
var ErrUnavailable = errors.New("ocr unavailable")

// Config configures the OCR client
type Config struct {
	APIKey   string
	URL      string
	Language string
	Timeout  time.Duration
}

// Client sends images to OCR.space
type Client struct {
	http     *resty.Client
	url      string
	apiKey   string
	language string
}

type parseResponse struct {
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	ParsedResults         []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
}

// New creates an OCR client
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http:     resty.New().SetTimeout(cfg.Timeout),
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
	}
}

// Enabled reports whether an API key is configured
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Recognize returns the text found in image. Blank results count as a
// failure.
func (c *Client) Recognize(ctx context.Context, image []byte) (string, error) {
	if !c.Enabled() {
		return "", ErrUnavailable
	}

	var result parseResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"apikey":            c.apiKey,
			"language":          c.language,
			"isOverlayRequired": "false",
		}).
		SetFileReader("file", "image.jpg", bytes.NewReader(image)).
		ForceContentType("application/json").
		SetResult(&result).
		Post(c.url)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	if result.IsErroredOnProcessing {
		return "", fmt.Errorf("%w: processing error: %s", ErrUnavailable, resp.String())
	}

	parts := make([]string, 0, len(result.ParsedResults))
	for _, p := range result.ParsedResults {
		parts = append(parts, p.ParsedText)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return "", fmt.Errorf("%w: no text found", ErrUnavailable)
	}
	return text, nil
}
