package chat

import (
	"context"

	"github.com/RichardoC/Pad-i/internal/models"
)

// DefaultMaxContextMessages bounds how many prior messages are sent with a new one.
const DefaultMaxContextMessages = 20

// MessageLister reads a conversation's full history, oldest first.
type MessageLister interface {
	ListMessages(ctx context.Context, convID string) ([]models.Message, error)
}

// WindowBuilder selects the tail of a conversation's history for the next
// model request. The window is recomputed on every call.
type WindowBuilder struct {
	messages MessageLister
}

func NewWindowBuilder(messages MessageLister) *WindowBuilder {
	return &WindowBuilder{messages: messages}
}

// Build returns the last maxMessages messages of the conversation as role
// tagged pairs, oldest first. maxMessages of 0 yields an empty window. The
// message being sent is never part of the window; callers append it.
func (b *WindowBuilder) Build(ctx context.Context, convID string, maxMessages int) ([]models.ChatMessage, error) {
	if maxMessages <= 0 {
		return []models.ChatMessage{}, nil
	}

	history, err := b.messages.ListMessages(ctx, convID)
	if err != nil {
		return nil, newError(ErrorStorage, "history_read_failed", err)
	}

	return toChatMessages(tail(history, maxMessages)), nil
}

// tail keeps the most recent n messages.
func tail(messages []models.Message, n int) []models.Message {
	if n <= 0 {
		return nil
	}
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func toChatMessages(messages []models.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, models.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
