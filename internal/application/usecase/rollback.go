package usecase

import (
	"context"
	"fmt"

	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/infrastructure/snapshot"
	"go.uber.org/zap"
)

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	SessionID        string `json:"session_id"`
	MessageID        int64  `json:"message_id"`
	SnapshotRestored bool   `json:"snapshot_restored"`
	DeletedMessages  bool   `json:"deleted_messages"`
}

// RollbackUseCase restores the workspace to the snapshot taken before the
// target message's turn, then deletes the dialogue from the target onward.
// Restore comes first: when it fails, the dialogue is left untouched and the
// error is surfaced.
type RollbackUseCase struct {
	messages  repository.MessageRepository
	snapshots *snapshot.Store
	logger    *zap.Logger
}

// NewRollbackUseCase creates the rollback use case.
func NewRollbackUseCase(messages repository.MessageRepository, snapshots *snapshot.Store, logger *zap.Logger) *RollbackUseCase {
	return &RollbackUseCase{messages: messages, snapshots: snapshots, logger: logger}
}

// Execute rolls a session back to just before messageID.
func (uc *RollbackUseCase) Execute(ctx context.Context, sessionID string, messageID int64) (*RollbackResult, error) {
	result := &RollbackResult{SessionID: sessionID, MessageID: messageID}

	snap, err := uc.snapshots.FirstFrom(ctx, sessionID, messageID)
	if err == nil && snap != nil {
		if err := uc.snapshots.Restore(ctx, snap); err != nil {
			return nil, fmt.Errorf("snapshot restore failed, dialogue not rolled back: %w", err)
		}
		result.SnapshotRestored = true
	}

	if err := uc.messages.DeleteFrom(ctx, sessionID, messageID); err != nil {
		return nil, err
	}
	result.DeletedMessages = true

	if err := uc.snapshots.DeleteFrom(ctx, sessionID, messageID); err != nil {
		uc.logger.Warn("Failed to delete superseded snapshots", zap.Error(err))
	}

	uc.logger.Info("Session rolled back",
		zap.String("session_id", sessionID),
		zap.Int64("message_id", messageID),
		zap.Bool("snapshot_restored", result.SnapshotRestored),
	)
	return result, nil
}
