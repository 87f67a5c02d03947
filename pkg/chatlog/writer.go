// Package chatlog writes completed survey transcripts to JSON files.
package chatlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/surveyease/surveyease/pkg/models"
)

// Entry is the on-disk form of one completed conversation.
type Entry struct {
	ConversationID string           `json:"conversation_id"`
	Timestamp      string           `json:"timestamp"`
	CreatedAt      time.Time        `json:"created_at"`
	MessageCount   int              `json:"message_count"`
	Messages       []models.Message `json:"messages"`
}

// Writer appends final transcripts to a directory, one file per
// conversation, named chat_{conversation_id}_{yyyymmddHHMMSS}.json.
type Writer struct {
	dir string
}

// NewWriter creates the log directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("chat log directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chat log directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Write stores the transcript and returns the file path.
func (w *Writer) Write(conversationID string, messages []models.Message) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("conversation_id is required")
	}

	now := time.Now()
	entry := Entry{
		ConversationID: conversationID,
		Timestamp:      now.Format("20060102150405"),
		CreatedAt:      now.UTC(),
		MessageCount:   len(messages),
		Messages:       messages,
	}

	data, err := json.MarshalIndent(&entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode chat log: %w", err)
	}

	name := fmt.Sprintf("chat_%s_%s.json", conversationID, entry.Timestamp)
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write chat log %s: %w", path, err)
	}
	return path, nil
}
