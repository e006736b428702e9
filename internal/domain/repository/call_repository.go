package repository

import (
	"context"

	"github.com/atelier-ai/atelier/internal/domain/entity"
)

// LLMCallRepository records model invocations, ordered by id.
type LLMCallRepository interface {
	Create(ctx context.Context, call *entity.LLMCall) error
	// ListAfter returns calls with id > afterID in ascending id order.
	ListAfter(ctx context.Context, sessionID string, afterID int64) ([]*entity.LLMCall, error)
	// MaxMessageID returns the largest message id owned by calls with
	// id <= callID, or 0 when none exist.
	MaxMessageID(ctx context.Context, sessionID string, callID int64) (int64, error)
}
