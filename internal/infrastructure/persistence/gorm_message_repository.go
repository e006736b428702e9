package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/infrastructure/persistence/models"
	domainErrors "github.com/atelier-ai/atelier/pkg/errors"
	"gorm.io/gorm"
)

// GormMessageRepository is the gorm-backed message store.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a message repository.
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	model := &models.MessageModel{
		SessionID:   message.SessionID,
		Role:        message.Role,
		Content:     message.Content,
		RawRequest:  message.RawRequest,
		RawResponse: message.RawResponse,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		for i := range message.Attachments {
			att := &models.AttachmentModel{
				MessageID: model.ID,
				SessionID: message.SessionID,
				Kind:      message.Attachments[i].Kind,
				MimeType:  message.Attachments[i].MimeType,
				Data:      message.Attachments[i].Data,
				Width:     message.Attachments[i].Width,
				Height:    message.Attachments[i].Height,
				SizeBytes: message.Attachments[i].SizeBytes,
			}
			if err := tx.Create(att).Error; err != nil {
				return err
			}
			message.Attachments[i].ID = att.ID
			message.Attachments[i].MessageID = model.ID
		}
		return nil
	})
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create message", err)
	}
	message.ID = model.ID
	message.CreatedAt = model.CreatedAt
	message.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormMessageRepository) Get(ctx context.Context, sessionID string, id int64) (*entity.Message, error) {
	var model models.MessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND id = ?", sessionID, id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("message not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find message", err)
	}
	return messageToEntity(&model), nil
}

func (r *GormMessageRepository) ListAfter(ctx context.Context, sessionID string, afterID int64) ([]*entity.Message, error) {
	var rows []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND id > ? AND role IN ?", sessionID, afterID,
			[]string{entity.RoleUser, entity.RoleAssistant}).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list messages", err)
	}
	return messagesToEntities(rows), nil
}

func (r *GormMessageRepository) ListBetween(ctx context.Context, sessionID string, fromID, toID int64) ([]*entity.Message, error) {
	var rows []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND id >= ? AND id <= ? AND role IN ?", sessionID, fromID, toID,
			[]string{entity.RoleUser, entity.RoleAssistant}).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list messages", err)
	}
	return messagesToEntities(rows), nil
}

func (r *GormMessageRepository) UpdateContent(ctx context.Context, sessionID string, id int64, content string) error {
	result := r.db.WithContext(ctx).Model(&models.MessageModel{}).
		Where("session_id = ? AND id = ?", sessionID, id).
		Updates(map[string]interface{}{
			"content":    content,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update message", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("message not found")
	}
	return nil
}

// DeleteFrom removes messages with id >= fromID and their child rows.
func (r *GormMessageRepository) DeleteFrom(ctx context.Context, sessionID string, fromID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cond := "session_id = ? AND message_id >= ?"
		for _, child := range []interface{}{
			&models.AgentStepModel{},
			&models.ToolCallModel{},
			&models.AttachmentModel{},
		} {
			if err := tx.Where(cond, sessionID, fromID).Delete(child).Error; err != nil {
				return domainErrors.NewInternalErrorWithCause("failed to delete message children", err)
			}
		}
		if err := tx.Where(cond, sessionID, fromID).Delete(&models.LLMCallModel{}).Error; err != nil {
			return domainErrors.NewInternalErrorWithCause("failed to delete llm calls", err)
		}
		if err := tx.Where("session_id = ? AND id >= ?", sessionID, fromID).
			Delete(&models.MessageModel{}).Error; err != nil {
			return domainErrors.NewInternalErrorWithCause("failed to delete messages", err)
		}
		return nil
	})
}

func (r *GormMessageRepository) Count(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.MessageModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count messages", err)
	}
	return count, nil
}

func messagesToEntities(rows []models.MessageModel) []*entity.Message {
	out := make([]*entity.Message, 0, len(rows))
	for i := range rows {
		out = append(out, messageToEntity(&rows[i]))
	}
	return out
}

func messageToEntity(m *models.MessageModel) *entity.Message {
	return &entity.Message{
		ID:          m.ID,
		SessionID:   m.SessionID,
		Role:        m.Role,
		Content:     m.Content,
		RawRequest:  m.RawRequest,
		RawResponse: m.RawResponse,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// GormStepRepository is the gorm-backed agent step store.
type GormStepRepository struct {
	db *gorm.DB
}

// NewGormStepRepository creates a step repository.
func NewGormStepRepository(db *gorm.DB) repository.StepRepository {
	return &GormStepRepository{db: db}
}

func (r *GormStepRepository) Create(ctx context.Context, step *entity.AgentStep) error {
	metadata := ""
	if step.Metadata != nil {
		if data, err := json.Marshal(step.Metadata); err == nil {
			metadata = string(data)
		}
	}
	var sessionID string
	// The session id is denormalized onto steps for windowed queries.
	if err := r.db.WithContext(ctx).Model(&models.MessageModel{}).
		Select("session_id").Where("id = ?", step.MessageID).
		Scan(&sessionID).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to resolve step session", err)
	}
	model := &models.AgentStepModel{
		MessageID: step.MessageID,
		SessionID: sessionID,
		StepType:  string(step.Type),
		Content:   step.Content,
		Sequence:  step.Sequence,
		Metadata:  metadata,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create step", err)
	}
	step.ID = model.ID
	return nil
}

func (r *GormStepRepository) ListForMessages(ctx context.Context, sessionID string, messageIDs []int64) ([]*entity.AgentStep, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var rows []models.AgentStepModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND message_id IN ?", sessionID, messageIDs).
		Order("message_id asc, sequence asc").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list steps", err)
	}
	steps := make([]*entity.AgentStep, 0, len(rows))
	for i := range rows {
		steps = append(steps, stepToEntity(&rows[i]))
	}
	return steps, nil
}

func stepToEntity(m *models.AgentStepModel) *entity.AgentStep {
	var metadata map[string]interface{}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			metadata = map[string]interface{}{}
		}
	}
	return &entity.AgentStep{
		ID:        m.ID,
		MessageID: m.MessageID,
		Type:      entity.StepType(m.StepType),
		Content:   m.Content,
		Sequence:  m.Sequence,
		Metadata:  metadata,
		CreatedAt: m.CreatedAt,
	}
}
