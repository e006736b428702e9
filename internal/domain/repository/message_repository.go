package repository

import (
	"context"

	"github.com/atelier-ai/atelier/internal/domain/entity"
)

// MessageRepository persists dialogue messages. Message ids are assigned by
// the store and strictly increase within a session.
type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	Get(ctx context.Context, sessionID string, id int64) (*entity.Message, error)
	// ListAfter returns dialogue messages (user/assistant) with id > afterID
	// in ascending id order. afterID == 0 returns the full history.
	ListAfter(ctx context.Context, sessionID string, afterID int64) ([]*entity.Message, error)
	// ListBetween returns dialogue messages with fromID <= id <= toID.
	ListBetween(ctx context.Context, sessionID string, fromID, toID int64) ([]*entity.Message, error)
	UpdateContent(ctx context.Context, sessionID string, id int64, content string) error
	// DeleteFrom removes all messages with id >= fromID and their children.
	DeleteFrom(ctx context.Context, sessionID string, fromID int64) error
	Count(ctx context.Context, sessionID string) (int64, error)
}

// StepRepository persists non-delta agent steps.
type StepRepository interface {
	Create(ctx context.Context, step *entity.AgentStep) error
	// ListForMessages returns persisted steps for the given assistant
	// messages ordered by (message_id, sequence).
	ListForMessages(ctx context.Context, sessionID string, messageIDs []int64) ([]*entity.AgentStep, error)
}

// ToolCallRepository persists tool call rows.
type ToolCallRepository interface {
	Create(ctx context.Context, call *entity.ToolCall) error
	UpdateOutput(ctx context.Context, id int64, output string) error
	ListForMessage(ctx context.Context, messageID int64) ([]*entity.ToolCall, error)
}
