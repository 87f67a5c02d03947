// Package models contains request/response models and business domain types.
package models

// Role identifies who produced a message in a survey conversation.
type Role string

const (
	RoleSystem    Role = "SYSTEM"
	RoleHuman     Role = "HUMAN"
	RoleAssistant Role = "ASSISTANT"
)

// Message is one entry in a conversation transcript.
//
// Extra carries auxiliary attributes. It may hold arbitrary runtime values
// (the state serializer drops anything that is not plain data), so code must
// never rely on Extra surviving a checkpoint round-trip.
type Message struct {
	Role    Role           `json:"role"`
	Content string         `json:"content"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewSystemMessage builds a SYSTEM message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewHumanMessage builds a HUMAN message.
func NewHumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// NewAssistantMessage builds an ASSISTANT message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
