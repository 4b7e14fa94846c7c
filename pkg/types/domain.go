package types

// Message roles understood by every model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons reported on a choice.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// ChatMessage is one turn of a conversation. Two messages are the same turn
// when both role and content are equal.
type ChatMessage struct {
	// Speaker of the turn: system, user or assistant.
	// example: user
	Role string `json:"role" validate:"required" example:"user"`
	// Text of the turn.
	// example: Tell me about foxes.
	Content string `json:"content" example:"Tell me about foxes."`
}
