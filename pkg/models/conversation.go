package models

import "time"

// ConversationSummary is one row of the chat history listing.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	TemplateID     string    `json:"template_id"`
	Timestamp      string    `json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
	MessageCount   int       `json:"message_count"`
}

// TranscriptMessage is one persisted chat message as exposed by the
// history detail endpoint. SYSTEM messages are filtered out before this
// type is ever populated.
type TranscriptMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"timestamp"`
}

// ConversationDetail is the full history of one conversation.
type ConversationDetail struct {
	ConversationID string              `json:"conversation_id"`
	TemplateID     string              `json:"template_id"`
	Timestamp      string              `json:"timestamp"`
	CreatedAt      time.Time           `json:"created_at"`
	MessageCount   int                 `json:"message_count"`
	Messages       []TranscriptMessage `json:"messages"`
}
