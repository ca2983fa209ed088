package postgres

import (
	"context"

	"github.com/roomcast/transcript-relay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TranscriptRepo interface {
	// UpsertBatch writes one multi-row statement keyed by
	// (session_id, utterance_id). Re-writes update text/ended_at; is_final
	// can only move false -> true.
	UpsertBatch(ctx context.Context, rows []models.TranscriptSegment) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.TranscriptSegment, error)
}

type transcriptRepo struct {
	db *gorm.DB
}

func NewTranscriptRepo(db *gorm.DB) TranscriptRepo {
	return &transcriptRepo{db: db}
}

func (r *transcriptRepo) UpsertBatch(ctx context.Context, rows []models.TranscriptSegment) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "utterance_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"text":     gorm.Expr("excluded.text"),
				"ended_at": gorm.Expr("excluded.ended_at"),
				"is_final": gorm.Expr("transcript_segments.is_final OR excluded.is_final"),
			}),
		}).
		Create(&rows).Error
}

func (r *transcriptRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.TranscriptSegment, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []models.TranscriptSegment
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("started_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
