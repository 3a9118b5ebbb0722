package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/RichardoC/Pad-i/internal/models"
)

// ChatBackend sends the window as a structured role/content list to a
// langchaingo chat model.
type ChatBackend struct {
	name         string
	model        llms.Model
	systemPrompt string
}

// NewChatBackend wraps model. A nil model yields a back end that reports
// itself unavailable.
func NewChatBackend(name string, model llms.Model, systemPrompt string) *ChatBackend {
	return &ChatBackend{name: name, model: model, systemPrompt: systemPrompt}
}

func (b *ChatBackend) Name() string { return b.name }

func (b *ChatBackend) Available() bool { return b.model != nil }

func (b *ChatBackend) Attempt(ctx context.Context, window []models.ChatMessage, newMessage string, params GenerationParams) (string, error) {
	if b.model == nil {
		return "", ErrNotConfigured
	}

	resp, err := b.model.GenerateContent(ctx, chatMessages(b.systemPrompt, window, newMessage), callOptions(params)...)
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", b.name, mapProviderError(b.name, err))
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func chatMessages(systemPrompt string, window []models.ChatMessage, newMessage string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(window)+2)
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	for _, m := range window {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, newMessage))
}

func callOptions(params GenerationParams) []llms.CallOption {
	var opts []llms.CallOption
	if params.MaxLength > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxLength))
	}
	if params.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(params.Temperature))
	}
	if params.TopP > 0 {
		opts = append(opts, llms.WithTopP(params.TopP))
	}
	return opts
}
