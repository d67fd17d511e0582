package domain

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ConversationTurn is one stored exchange half. Appended after every pipeline
// run (user input and final assistant output both persist); never mutated.
// Embedding is nil when the embedding call failed at append time; such turns
// still participate in lexical search.
type ConversationTurn struct {
	ID        string
	Role      string
	Content   string
	Source    string // originating channel, e.g. "telegram"
	Embedding []float32
	CreatedAt time.Time
}
