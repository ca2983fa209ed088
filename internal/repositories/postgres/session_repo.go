package postgres

import (
	"context"
	"errors"

	"github.com/roomcast/transcript-relay/internal/models"
	"github.com/roomcast/transcript-relay/internal/utils"
	"gorm.io/gorm"
)

type SessionRepo interface {
	GetBySlug(ctx context.Context, slug string) (*models.Session, error)
	UpdateTitle(ctx context.Context, sessionID, title string) error
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) GetBySlug(ctx context.Context, slug string) (*models.Session, error) {
	var row models.Session
	err := r.db.WithContext(ctx).Where("slug = ?", slug).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *sessionRepo) UpdateTitle(ctx context.Context, sessionID, title string) error {
	return r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("title", title).Error
}
