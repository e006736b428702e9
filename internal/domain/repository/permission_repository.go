package repository

import (
	"context"

	"github.com/atelier-ai/atelier/internal/domain/entity"
)

// PermissionRepository stores permission requests. Reads are lock-free
// snapshots so that an approver in another process is observed within one
// polling interval.
type PermissionRepository interface {
	Create(ctx context.Context, req *entity.PermissionRequest) error
	Get(ctx context.Context, id int64) (*entity.PermissionRequest, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	ListPending(ctx context.Context, sessionID string) ([]*entity.PermissionRequest, error)
}

// SnapshotRepository stores workspace snapshot records.
type SnapshotRepository interface {
	Create(ctx context.Context, snap *entity.Snapshot) error
	GetForMessage(ctx context.Context, sessionID string, messageID int64) (*entity.Snapshot, error)
	// GetFirstFrom returns the earliest snapshot whose message id >= fromID,
	// i.e. the state captured before the turn containing fromID began.
	GetFirstFrom(ctx context.Context, sessionID string, fromID int64) (*entity.Snapshot, error)
	// DeleteFrom removes snapshot rows for messages with id >= fromID.
	DeleteFrom(ctx context.Context, sessionID string, fromID int64) error
}
