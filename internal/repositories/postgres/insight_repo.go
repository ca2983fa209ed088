package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/roomcast/transcript-relay/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InsightRepo interface {
	Upsert(ctx context.Context, sessionID string, p *models.InsightPayload) error
	Get(ctx context.Context, sessionID string) (*models.SessionInsight, error)
}

type insightRepo struct {
	db *gorm.DB
}

func NewInsightRepo(db *gorm.DB) InsightRepo {
	return &insightRepo{db: db}
}

func (r *insightRepo) Upsert(ctx context.Context, sessionID string, p *models.InsightPayload) error {
	topics, err := json.Marshal(p.Topics)
	if err != nil {
		return err
	}
	row := &models.SessionInsight{
		SessionID:              sessionID,
		AiTitle:                p.AiTitle,
		AiTitleConfidence:      p.AiTitleConfidence,
		ShouldUpdateTitle:      p.ShouldUpdateTitle,
		CurrentTopic:           p.CurrentTopic,
		CurrentTopicConfidence: p.CurrentTopicConfidence,
		Topics:                 datatypes.JSON(topics),
		TopicChanged:           p.TopicChanged,
		UpdatedAt:              time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(row).Error
}

func (r *insightRepo) Get(ctx context.Context, sessionID string) (*models.SessionInsight, error) {
	var row models.SessionInsight
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	return &row, err
}
