package chat

import "strings"

const (
	// DefaultTitle is the placeholder a conversation carries until its first turn.
	DefaultTitle = "New Chat"

	titleRunes    = 30
	maxTitleRunes = 255
)

// titleFromText derives a conversation title from the first user message:
// the first 30 characters, with "..." appended when the text was longer.
func titleFromText(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= titleRunes {
		return text
	}
	return string(runes[:titleRunes]) + "..."
}
