package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/roomcast/transcript-relay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ParticipantRepo interface {
	GetOrCreate(ctx context.Context, sessionID, identity string) (*models.Participant, error)
}

type participantRepo struct {
	db *gorm.DB
}

func NewParticipantRepo(db *gorm.DB) ParticipantRepo {
	return &participantRepo{db: db}
}

func (r *participantRepo) GetOrCreate(ctx context.Context, sessionID, identity string) (*models.Participant, error) {
	row := &models.Participant{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Identity:  identity,
		CreatedAt: time.Now().UTC(),
	}
	// Insert-if-absent, then read back so concurrent callers converge on one row.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "identity"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}

	var out models.Participant
	err = r.db.WithContext(ctx).
		Where("session_id = ? AND identity = ?", sessionID, identity).
		Take(&out).Error
	return &out, err
}
