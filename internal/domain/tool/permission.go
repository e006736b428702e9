package tool

import (
	"context"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often a waiting tool re-reads its request.
// Polling rather than signaling is deliberate: the approver may be a
// separate process reading the same database.
const DefaultPollInterval = 500 * time.Millisecond

// PermissionBroker is the process-wide queue of permission requests.
type PermissionBroker struct {
	repo     repository.PermissionRepository
	interval time.Duration
	logger   *zap.Logger
}

// NewPermissionBroker creates a broker over the given repository.
func NewPermissionBroker(repo repository.PermissionRepository, logger *zap.Logger) *PermissionBroker {
	return &PermissionBroker{
		repo:     repo,
		interval: DefaultPollInterval,
		logger:   logger,
	}
}

// Create files a new pending request and returns its id.
func (b *PermissionBroker) Create(ctx context.Context, req *entity.PermissionRequest) (int64, error) {
	req.Status = entity.PermissionPending
	if err := b.repo.Create(ctx, req); err != nil {
		return 0, err
	}
	b.logger.Info("Permission request filed",
		zap.Int64("request_id", req.ID),
		zap.String("tool", req.ToolName),
		zap.String("action", req.Action),
		zap.String("reason", req.Reason),
	)
	return req.ID, nil
}

// Get returns the current snapshot of a request.
func (b *PermissionBroker) Get(ctx context.Context, id int64) (*entity.PermissionRequest, error) {
	return b.repo.Get(ctx, id)
}

// Update transitions a request to a terminal status.
func (b *PermissionBroker) Update(ctx context.Context, id int64, status string) error {
	return b.repo.UpdateStatus(ctx, id, status)
}

// ListPending returns the pending requests for a session so callers can
// surface them to an operator UI.
func (b *PermissionBroker) ListPending(ctx context.Context, sessionID string) ([]*entity.PermissionRequest, error) {
	return b.repo.ListPending(ctx, sessionID)
}

// Await polls the request until it reaches a terminal status or the deadline
// elapses. On deadline the request itself is transitioned to timeout. The
// caller holds no repository locks while waiting.
func (b *PermissionBroker) Await(ctx context.Context, id int64, timeout time.Duration) string {
	if id == 0 {
		return entity.PermissionDenied
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		record, err := b.repo.Get(ctx, id)
		if err == nil && record != nil && record.Status != entity.PermissionPending {
			return record.Status
		}

		if timeout > 0 && !time.Now().Before(deadline) {
			if err := b.repo.UpdateStatus(ctx, id, entity.PermissionTimeout); err != nil {
				b.logger.Warn("Failed to mark permission request timed out",
					zap.Int64("request_id", id), zap.Error(err))
			}
			return entity.PermissionTimeout
		}

		select {
		case <-ctx.Done():
			return entity.PermissionTimeout
		case <-ticker.C:
		}
	}
}
