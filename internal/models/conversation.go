package models

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Message struct {
	ID        string    `json:"id"`
	ConvID    string    `json:"conversation_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is a backend-agnostic role/content pair sent to a model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is a user message together with the assistant message answering it.
type Turn struct {
	UserMessage      Message `json:"user_message"`
	AssistantMessage Message `json:"assistant_message"`
}
