package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/RichardoC/Pad-i/internal/models"
)

type conversationRequest struct {
	Message     string               `json:"message"`
	History     []models.ChatMessage `json:"history"`
	MaxLength   int                  `json:"max_length"`
	Temperature float64              `json:"temperature"`
	TopP        float64              `json:"top_p"`
}

type conversationResponse struct {
	Response string `json:"response"`
}

// HTTPChatBackend talks to a self-hosted model server exposing
// POST {base}/chat/conversation. The window travels as structured history.
type HTTPChatBackend struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

type HTTPChatOption func(*HTTPChatBackend)

func WithHTTPClient(c *http.Client) HTTPChatOption {
	return func(b *HTTPChatBackend) {
		if c != nil {
			b.httpClient = c
		}
	}
}

// NewHTTPChatBackend returns a back end for baseURL. An empty baseURL yields
// a back end that reports itself unavailable.
func NewHTTPChatBackend(name, baseURL string, opts ...HTTPChatOption) *HTTPChatBackend {
	b := &HTTPChatBackend{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		// Attempts are bounded by the caller's context.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *HTTPChatBackend) Name() string { return b.name }

func (b *HTTPChatBackend) Available() bool { return b.baseURL != "" }

func conversationURL(baseURL string) string {
	return baseURL + "/chat/conversation"
}

func (b *HTTPChatBackend) Attempt(ctx context.Context, window []models.ChatMessage, newMessage string, params GenerationParams) (string, error) {
	if !b.Available() {
		return "", ErrNotConfigured
	}

	history := window
	if history == nil {
		history = []models.ChatMessage{}
	}
	body, err := json.Marshal(conversationRequest{
		Message:     newMessage,
		History:     history,
		MaxLength:   params.MaxLength,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", b.name, err)
	}

	url := conversationURL(b.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", b.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: request failed: %w", b.name, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload conversationResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", b.name, err)
	}
	if strings.TrimSpace(payload.Response) == "" {
		return "", errors.Join(ErrEmptyResponse, fmt.Errorf("%s: no response field", b.name))
	}
	return payload.Response, nil
}
