package repository

import (
	"context"

	"github.com/atelier-ai/atelier/internal/domain/entity"
)

// SessionRepository persists sessions and their bound model configs.
type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	Get(ctx context.Context, id string) (*entity.Session, error)
	List(ctx context.Context) ([]*entity.Session, error)
	Update(ctx context.Context, session *entity.Session) error
	// UpdateCompression persists the compressor's result on the session.
	UpdateCompression(ctx context.Context, id string, summary string, lastCompressedCallID int64) error
	// Delete removes the session and cascades to all child rows.
	Delete(ctx context.Context, id string) error
}

// ConfigRepository persists model configs.
type ConfigRepository interface {
	Create(ctx context.Context, cfg *entity.ModelConfig) error
	Get(ctx context.Context, id string) (*entity.ModelConfig, error)
	GetDefault(ctx context.Context) (*entity.ModelConfig, error)
	List(ctx context.Context) ([]*entity.ModelConfig, error)
	Update(ctx context.Context, cfg *entity.ModelConfig) error
	Delete(ctx context.Context, id string) error
}
