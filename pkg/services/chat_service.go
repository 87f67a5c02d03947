// Package services contains the business logic service layer.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/surveyease/surveyease/pkg/models"
)

// timestampLayout is the compact timestamp exposed by the history API and
// used in chat log file names.
const timestampLayout = "20060102150405"

// ChatService persists conversations and their transcripts.
type ChatService struct {
	db *sql.DB
}

// NewChatService creates a new ChatService.
func NewChatService(db *sql.DB) *ChatService {
	return &ChatService{db: db}
}

// CreateConversation registers a conversation when a session starts. Calling
// it again with the same id is a no-op, so resumed sessions are safe.
func (s *ChatService) CreateConversation(httpCtx context.Context, conversationID, templateID string) error {
	if conversationID == "" {
		return NewValidationError("conversation_id", "required")
	}
	if templateID == "" {
		return NewValidationError("template_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_conversation (conversation_id, template_id)
		 VALUES ($1, $2)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		conversationID, templateID)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// SaveTranscript replaces the stored transcript with the final one. Earlier
// rows written for the same conversation are soft-deleted first, so repeated
// completions never duplicate messages.
func (s *ChatService) SaveTranscript(httpCtx context.Context, conversationID string, messages []models.Message) error {
	if conversationID == "" {
		return NewValidationError("conversation_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 15*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE ai_chat_message SET is_deleted = TRUE
		 WHERE conversation_id = $1 AND is_deleted = FALSE`,
		conversationID); err != nil {
		return fmt.Errorf("failed to clear previous transcript: %w", err)
	}

	for i, msg := range messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ai_chat_message (conversation_id, message_type, content, message_order)
			 VALUES ($1, $2, $3, $4)`,
			conversationID, string(msg.Role), msg.Content, i); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ai_conversation SET message_count = $2, updated_at = NOW()
		 WHERE conversation_id = $1`,
		conversationID, len(messages)); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	return nil
}

// ListConversations returns conversation summaries, newest first. An empty
// templateID lists across all templates.
func (s *ChatService) ListConversations(httpCtx context.Context, templateID string, limit, offset int) ([]models.ConversationSummary, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT conversation_id, template_id, message_count, created_at
		 FROM ai_conversation
		 WHERE is_deleted = FALSE`
	args := []any{}
	if templateID != "" {
		query += ` AND template_id = $1`
		args = append(args, templateID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var c models.ConversationSummary
		if err := rows.Scan(&c.ConversationID, &c.TemplateID, &c.MessageCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.Timestamp = c.CreatedAt.Format(timestampLayout)
		summaries = append(summaries, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return summaries, nil
}

// GetConversationDetail returns one conversation with its transcript.
// SYSTEM messages are internal prompt plumbing and are excluded.
func (s *ChatService) GetConversationDetail(httpCtx context.Context, conversationID string) (*models.ConversationDetail, error) {
	if conversationID == "" {
		return nil, NewValidationError("conversation_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	var detail models.ConversationDetail
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, template_id, message_count, created_at
		 FROM ai_conversation
		 WHERE conversation_id = $1 AND is_deleted = FALSE`,
		conversationID).Scan(&detail.ConversationID, &detail.TemplateID, &detail.MessageCount, &detail.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	detail.Timestamp = detail.CreatedAt.Format(timestampLayout)

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_type, content, message_order, created_at
		 FROM ai_chat_message
		 WHERE conversation_id = $1 AND is_deleted = FALSE AND message_type <> $2
		 ORDER BY message_order`,
		conversationID, string(models.RoleSystem))
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.TranscriptMessage
		if err := rows.Scan(&m.Type, &m.Content, &m.Order, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		detail.Messages = append(detail.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return &detail, nil
}

// DeleteConversation soft-deletes a conversation and its messages.
func (s *ChatService) DeleteConversation(httpCtx context.Context, conversationID string) error {
	if conversationID == "" {
		return NewValidationError("conversation_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_conversation SET is_deleted = TRUE, updated_at = NOW()
		 WHERE conversation_id = $1 AND is_deleted = FALSE`,
		conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE ai_chat_message SET is_deleted = TRUE
		 WHERE conversation_id = $1 AND is_deleted = FALSE`,
		conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
