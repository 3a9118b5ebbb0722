package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/RichardoC/Pad-i/internal/models"
)

// TranscriptFormat selects how a window is flattened into a single prompt.
type TranscriptFormat string

const (
	// FormatPlain renders "User: ..." and "Assistant: ..." lines and ends
	// with a bare "Assistant:" marker.
	FormatPlain TranscriptFormat = "plain"
	// FormatMistral renders user turns as "[INST] ... [/INST]"; the closing
	// tag of the new message is the assistant-turn marker.
	FormatMistral TranscriptFormat = "mistral"
)

const mistralMarker = "[/INST]"

func (f TranscriptFormat) Valid() bool {
	return f == FormatPlain || f == FormatMistral
}

// Render builds the prompt for the window followed by newMessage.
func (f TranscriptFormat) Render(systemPrompt string, window []models.ChatMessage, newMessage string) string {
	var b strings.Builder
	switch f {
	case FormatMistral:
		// The system prompt rides along with the first instruction.
		pending := systemPrompt
		inst := func(content string) string {
			if pending != "" {
				content = pending + "\n\n" + content
				pending = ""
			}
			return "[INST] " + content + " " + mistralMarker
		}
		parts := make([]string, 0, len(window)+1)
		for _, m := range window {
			if m.Role == models.RoleUser {
				parts = append(parts, inst(m.Content))
			} else {
				parts = append(parts, m.Content)
			}
		}
		parts = append(parts, inst(newMessage))
		b.WriteString(strings.Join(parts, " "))
	default:
		if systemPrompt != "" {
			b.WriteString(systemPrompt)
			b.WriteString("\n\n")
		}
		for _, m := range window {
			if m.Role == models.RoleAssistant {
				b.WriteString("Assistant: ")
			} else {
				b.WriteString("User: ")
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("User: ")
		b.WriteString(newMessage)
		b.WriteString("\nAssistant:")
	}
	return b.String()
}

// Extract strips an echoed prompt from a completion. Models served without a
// chat template often repeat the prompt before answering.
func (f TranscriptFormat) Extract(completion string) string {
	if f == FormatMistral {
		if i := strings.LastIndex(completion, mistralMarker); i >= 0 {
			completion = completion[i+len(mistralMarker):]
		}
	}
	return strings.TrimSpace(completion)
}

// TranscriptBackend concatenates the window into one prompt string and sends
// it as a single completion request.
type TranscriptBackend struct {
	name         string
	model        llms.Model
	format       TranscriptFormat
	systemPrompt string
}

func NewTranscriptBackend(name string, model llms.Model, format TranscriptFormat, systemPrompt string) *TranscriptBackend {
	if !format.Valid() {
		format = FormatPlain
	}
	return &TranscriptBackend{name: name, model: model, format: format, systemPrompt: systemPrompt}
}

func (b *TranscriptBackend) Name() string { return b.name }

func (b *TranscriptBackend) Available() bool { return b.model != nil }

func (b *TranscriptBackend) Attempt(ctx context.Context, window []models.ChatMessage, newMessage string, params GenerationParams) (string, error) {
	if b.model == nil {
		return "", ErrNotConfigured
	}

	prompt := b.format.Render(b.systemPrompt, window, newMessage)
	completion, err := llms.GenerateFromSinglePrompt(ctx, b.model, prompt, callOptions(params)...)
	if err != nil {
		return "", fmt.Errorf("%s: generate: %w", b.name, mapProviderError(b.name, err))
	}
	return b.format.Extract(completion), nil
}
