package persistence

import (
	"context"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/infrastructure/persistence/models"
	domainErrors "github.com/atelier-ai/atelier/pkg/errors"
	"gorm.io/gorm"
)

// GormToolCallRepository is the gorm-backed tool call store.
type GormToolCallRepository struct {
	db *gorm.DB
}

// NewGormToolCallRepository creates a tool call repository.
func NewGormToolCallRepository(db *gorm.DB) repository.ToolCallRepository {
	return &GormToolCallRepository{db: db}
}

func (r *GormToolCallRepository) Create(ctx context.Context, call *entity.ToolCall) error {
	model := &models.ToolCallModel{
		MessageID: call.MessageID,
		SessionID: call.SessionID,
		ToolName:  call.ToolName,
		Input:     call.Input,
		Output:    call.Output,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create tool call", err)
	}
	call.ID = model.ID
	return nil
}

func (r *GormToolCallRepository) UpdateOutput(ctx context.Context, id int64, output string) error {
	result := r.db.WithContext(ctx).Model(&models.ToolCallModel{}).
		Where("id = ?", id).
		Update("output", output)
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update tool call", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("tool call not found")
	}
	return nil
}

func (r *GormToolCallRepository) ListForMessage(ctx context.Context, messageID int64) ([]*entity.ToolCall, error) {
	var rows []models.ToolCallModel
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list tool calls", err)
	}
	calls := make([]*entity.ToolCall, 0, len(rows))
	for i := range rows {
		m := rows[i]
		calls = append(calls, &entity.ToolCall{
			ID:        m.ID,
			MessageID: m.MessageID,
			SessionID: m.SessionID,
			ToolName:  m.ToolName,
			Input:     m.Input,
			Output:    m.Output,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return calls, nil
}

// GormLLMCallRepository is the gorm-backed model call store.
type GormLLMCallRepository struct {
	db *gorm.DB
}

// NewGormLLMCallRepository creates a model call repository.
func NewGormLLMCallRepository(db *gorm.DB) repository.LLMCallRepository {
	return &GormLLMCallRepository{db: db}
}

func (r *GormLLMCallRepository) Create(ctx context.Context, call *entity.LLMCall) error {
	model := &models.LLMCallModel{
		SessionID:       call.SessionID,
		MessageID:       call.MessageID,
		Iteration:       call.Iteration,
		Streaming:       call.Streaming,
		Profile:         call.Profile,
		Format:          call.Format,
		RequestPayload:  call.RequestPayload,
		ResponsePayload: call.ResponsePayload,
		ExtractedText:   call.ExtractedText,
		ProcessedText:   call.ProcessedText,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create llm call", err)
	}
	call.ID = model.ID
	return nil
}

func (r *GormLLMCallRepository) ListAfter(ctx context.Context, sessionID string, afterID int64) ([]*entity.LLMCall, error) {
	var rows []models.LLMCallModel
	err := r.db.WithContext(ctx).
		Select("id", "session_id", "message_id", "iteration", "streaming").
		Where("session_id = ? AND id > ?", sessionID, afterID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list llm calls", err)
	}
	calls := make([]*entity.LLMCall, 0, len(rows))
	for i := range rows {
		m := rows[i]
		calls = append(calls, &entity.LLMCall{
			ID:        m.ID,
			SessionID: m.SessionID,
			MessageID: m.MessageID,
			Iteration: m.Iteration,
			Streaming: m.Streaming,
		})
	}
	return calls, nil
}

func (r *GormLLMCallRepository) MaxMessageID(ctx context.Context, sessionID string, callID int64) (int64, error) {
	var maxID *int64
	err := r.db.WithContext(ctx).Model(&models.LLMCallModel{}).
		Select("MAX(message_id)").
		Where("session_id = ? AND id <= ?", sessionID, callID).
		Scan(&maxID).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to resolve boundary message", err)
	}
	if maxID == nil {
		return 0, nil
	}
	return *maxID, nil
}

// GormPermissionRepository is the gorm-backed permission request store.
type GormPermissionRepository struct {
	db *gorm.DB
}

// NewGormPermissionRepository creates a permission repository.
func NewGormPermissionRepository(db *gorm.DB) repository.PermissionRepository {
	return &GormPermissionRepository{db: db}
}

func (r *GormPermissionRepository) Create(ctx context.Context, req *entity.PermissionRequest) error {
	model := &models.PermissionRequestModel{
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
		Action:    req.Action,
		Path:      req.Path,
		Reason:    req.Reason,
		Status:    req.Status,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create permission request", err)
	}
	req.ID = model.ID
	req.CreatedAt = model.CreatedAt
	return nil
}

func (r *GormPermissionRepository) Get(ctx context.Context, id int64) (*entity.PermissionRequest, error) {
	var model models.PermissionRequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domainErrors.NewNotFoundError("permission request not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find permission request", err)
	}
	return permissionToEntity(&model), nil
}

// UpdateStatus transitions a request. Only pending requests move: a decision
// that races with the timeout keeps whichever status landed first.
func (r *GormPermissionRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	result := r.db.WithContext(ctx).Model(&models.PermissionRequestModel{}).
		Where("id = ? AND status = ?", id, entity.PermissionPending).
		Update("status", status)
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update permission request", result.Error)
	}
	if result.RowsAffected == 0 {
		var model models.PermissionRequestModel
		if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
			return domainErrors.NewNotFoundError("permission request not found")
		}
	}
	return nil
}

func (r *GormPermissionRepository) ListPending(ctx context.Context, sessionID string) ([]*entity.PermissionRequest, error) {
	query := r.db.WithContext(ctx).Where("status = ?", entity.PermissionPending)
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}
	var rows []models.PermissionRequestModel
	if err := query.Order("id asc").Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list permission requests", err)
	}
	out := make([]*entity.PermissionRequest, 0, len(rows))
	for i := range rows {
		out = append(out, permissionToEntity(&rows[i]))
	}
	return out, nil
}

func permissionToEntity(m *models.PermissionRequestModel) *entity.PermissionRequest {
	return &entity.PermissionRequest{
		ID:        m.ID,
		SessionID: m.SessionID,
		ToolName:  m.ToolName,
		Action:    m.Action,
		Path:      m.Path,
		Reason:    m.Reason,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// GormSnapshotRepository is the gorm-backed snapshot record store.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a snapshot repository.
func NewGormSnapshotRepository(db *gorm.DB) repository.SnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

func (r *GormSnapshotRepository) Create(ctx context.Context, snap *entity.Snapshot) error {
	model := &models.SnapshotModel{
		SessionID: snap.SessionID,
		MessageID: snap.MessageID,
		TreeHash:  snap.TreeHash,
		WorkPath:  snap.WorkPath,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create snapshot", err)
	}
	snap.ID = model.ID
	return nil
}

func (r *GormSnapshotRepository) GetForMessage(ctx context.Context, sessionID string, messageID int64) (*entity.Snapshot, error) {
	var model models.SnapshotModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND message_id = ?", sessionID, messageID).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domainErrors.NewNotFoundError("snapshot not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find snapshot", err)
	}
	return &entity.Snapshot{
		ID:        model.ID,
		SessionID: model.SessionID,
		MessageID: model.MessageID,
		TreeHash:  model.TreeHash,
		WorkPath:  model.WorkPath,
		CreatedAt: model.CreatedAt,
	}, nil
}

func (r *GormSnapshotRepository) GetFirstFrom(ctx context.Context, sessionID string, fromID int64) (*entity.Snapshot, error) {
	var model models.SnapshotModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND message_id >= ?", sessionID, fromID).
		Order("message_id asc").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domainErrors.NewNotFoundError("snapshot not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find snapshot", err)
	}
	return &entity.Snapshot{
		ID:        model.ID,
		SessionID: model.SessionID,
		MessageID: model.MessageID,
		TreeHash:  model.TreeHash,
		WorkPath:  model.WorkPath,
		CreatedAt: model.CreatedAt,
	}, nil
}

func (r *GormSnapshotRepository) DeleteFrom(ctx context.Context, sessionID string, fromID int64) error {
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND message_id >= ?", sessionID, fromID).
		Delete(&models.SnapshotModel{}).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to delete snapshots", err)
	}
	return nil
}
