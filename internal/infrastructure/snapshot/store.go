package snapshot

import (
	"context"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	domainErrors "github.com/atelier-ai/atelier/pkg/errors"
	"go.uber.org/zap"
)

// Store pairs the archiver with the snapshot records, providing the
// ensure/restore operations the session runtime uses.
type Store struct {
	archiver *Archiver
	records  repository.SnapshotRepository
	logger   *zap.Logger
}

// NewStore creates a snapshot store.
func NewStore(archiver *Archiver, records repository.SnapshotRepository, logger *zap.Logger) *Store {
	return &Store{archiver: archiver, records: records, logger: logger}
}

// EnsureSnapshot takes a workspace snapshot for the assistant message unless
// one already exists, and persists the (session, message, tree, path) tuple.
func (s *Store) EnsureSnapshot(ctx context.Context, sessionID string, messageID int64, workPath string) (string, error) {
	if sessionID == "" || messageID == 0 || workPath == "" {
		return "", nil
	}
	if existing, err := s.records.GetForMessage(ctx, sessionID, messageID); err == nil {
		return existing.TreeHash, nil
	} else if !domainErrors.IsNotFound(err) {
		return "", err
	}

	treeHash, err := s.archiver.CreateTree(workPath)
	if err != nil {
		return "", err
	}
	snap := &entity.Snapshot{
		SessionID: sessionID,
		MessageID: messageID,
		TreeHash:  treeHash,
		WorkPath:  workPath,
	}
	if err := s.records.Create(ctx, snap); err != nil {
		return "", err
	}
	return treeHash, nil
}

// SnapshotFor returns the snapshot record taken before the given message.
func (s *Store) SnapshotFor(ctx context.Context, sessionID string, messageID int64) (*entity.Snapshot, error) {
	return s.records.GetForMessage(ctx, sessionID, messageID)
}

// FirstFrom returns the earliest snapshot at or after the given message,
// i.e. the workspace state before that turn began.
func (s *Store) FirstFrom(ctx context.Context, sessionID string, fromMessageID int64) (*entity.Snapshot, error) {
	return s.records.GetFirstFrom(ctx, sessionID, fromMessageID)
}

// Restore materializes a snapshot back into its workspace.
func (s *Store) Restore(ctx context.Context, snap *entity.Snapshot) error {
	return s.archiver.RestoreTree(snap.TreeHash, snap.WorkPath)
}

// DeleteFrom discards snapshot records at or after the given message, used
// after a rollback restore.
func (s *Store) DeleteFrom(ctx context.Context, sessionID string, fromMessageID int64) error {
	return s.records.DeleteFrom(ctx, sessionID, fromMessageID)
}
