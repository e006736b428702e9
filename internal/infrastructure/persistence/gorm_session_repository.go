package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/infrastructure/persistence/models"
	domainErrors "github.com/atelier-ai/atelier/pkg/errors"
	"gorm.io/gorm"
)

// GormSessionRepository is the gorm-backed session store.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a session repository.
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) Create(ctx context.Context, session *entity.Session) error {
	model := sessionToModel(session)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create session", err)
	}
	session.CreatedAt = model.CreatedAt
	session.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormSessionRepository) Get(ctx context.Context, id string) (*entity.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("session not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find session", err)
	}
	return sessionToEntity(&model), nil
}

func (r *GormSessionRepository) List(ctx context.Context) ([]*entity.Session, error) {
	var rows []models.SessionModel
	if err := r.db.WithContext(ctx).Order("updated_at desc").Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list sessions", err)
	}
	sessions := make([]*entity.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, sessionToEntity(&rows[i]))
	}
	return sessions, nil
}

func (r *GormSessionRepository) Update(ctx context.Context, session *entity.Session) error {
	model := sessionToModel(session)
	model.UpdatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update session", err)
	}
	return nil
}

func (r *GormSessionRepository) UpdateCompression(ctx context.Context, id string, summary string, lastCompressedCallID int64) error {
	result := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"summary":                 summary,
			"last_compressed_call_id": lastCompressedCallID,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update compression state", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("session not found")
	}
	return nil
}

// Delete removes the session and all its child rows in one transaction.
func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []interface{}{
			&models.AgentStepModel{},
			&models.ToolCallModel{},
			&models.LLMCallModel{},
			&models.AttachmentModel{},
			&models.PermissionRequestModel{},
			&models.SnapshotModel{},
			&models.MessageModel{},
		} {
			if err := tx.Where("session_id = ?", id).Delete(child).Error; err != nil {
				return domainErrors.NewInternalErrorWithCause("failed to delete session children", err)
			}
		}
		result := tx.Delete(&models.SessionModel{}, "id = ?", id)
		if result.Error != nil {
			return domainErrors.NewInternalErrorWithCause("failed to delete session", result.Error)
		}
		if result.RowsAffected == 0 {
			return domainErrors.NewNotFoundError("session not found")
		}
		return nil
	})
}

func sessionToModel(s *entity.Session) *models.SessionModel {
	return &models.SessionModel{
		ID:                   s.ID,
		Title:                s.Title,
		ConfigID:             s.ConfigID,
		WorkPath:             s.WorkPath,
		AgentMode:            s.AgentMode,
		Summary:              s.Summary,
		LastCompressedCallID: s.LastCompressedCallID,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func sessionToEntity(m *models.SessionModel) *entity.Session {
	return &entity.Session{
		ID:                   m.ID,
		Title:                m.Title,
		ConfigID:             m.ConfigID,
		WorkPath:             m.WorkPath,
		AgentMode:            m.AgentMode,
		Summary:              m.Summary,
		LastCompressedCallID: m.LastCompressedCallID,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// GormConfigRepository is the gorm-backed model config store.
type GormConfigRepository struct {
	db *gorm.DB
}

// NewGormConfigRepository creates a model config repository.
func NewGormConfigRepository(db *gorm.DB) repository.ConfigRepository {
	return &GormConfigRepository{db: db}
}

func (r *GormConfigRepository) Create(ctx context.Context, cfg *entity.ModelConfig) error {
	model := configToModel(cfg)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create config", err)
	}
	return nil
}

func (r *GormConfigRepository) Get(ctx context.Context, id string) (*entity.ModelConfig, error) {
	var model models.ModelConfigModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("config not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find config", err)
	}
	return configToEntity(&model), nil
}

func (r *GormConfigRepository) GetDefault(ctx context.Context) (*entity.ModelConfig, error) {
	var model models.ModelConfigModel
	if err := r.db.WithContext(ctx).Where("is_default = ?", true).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("no default config")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find default config", err)
	}
	return configToEntity(&model), nil
}

func (r *GormConfigRepository) List(ctx context.Context) ([]*entity.ModelConfig, error) {
	var rows []models.ModelConfigModel
	if err := r.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list configs", err)
	}
	configs := make([]*entity.ModelConfig, 0, len(rows))
	for i := range rows {
		configs = append(configs, configToEntity(&rows[i]))
	}
	return configs, nil
}

func (r *GormConfigRepository) Update(ctx context.Context, cfg *entity.ModelConfig) error {
	if err := r.db.WithContext(ctx).Save(configToModel(cfg)).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update config", err)
	}
	return nil
}

func (r *GormConfigRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.ModelConfigModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to delete config", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("config not found")
	}
	return nil
}

func configToModel(c *entity.ModelConfig) *models.ModelConfigModel {
	return &models.ModelConfigModel{
		ID:               c.ID,
		Name:             c.Name,
		APIType:          c.APIType,
		APIKey:           c.APIKey,
		BaseURL:          c.BaseURL,
		Model:            c.Model,
		Temperature:      c.Temperature,
		MaxTokens:        c.MaxTokens,
		MaxContextTokens: c.MaxContextTokens,
		IsDefault:        c.IsDefault,
		CreatedAt:        c.CreatedAt,
	}
}

func configToEntity(m *models.ModelConfigModel) *entity.ModelConfig {
	return &entity.ModelConfig{
		ID:               m.ID,
		Name:             m.Name,
		APIType:          m.APIType,
		APIKey:           m.APIKey,
		BaseURL:          m.BaseURL,
		Model:            m.Model,
		Temperature:      m.Temperature,
		MaxTokens:        m.MaxTokens,
		MaxContextTokens: m.MaxContextTokens,
		IsDefault:        m.IsDefault,
		CreatedAt:        m.CreatedAt,
	}
}
