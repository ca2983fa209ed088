package postgres

import (
	"context"

	"github.com/roomcast/transcript-relay/internal/models"
)

// InsightSaver persists insight payloads and applies AI title updates to the
// owning session.
type InsightSaver struct {
	sessions SessionRepo
	insights InsightRepo
}

func NewInsightSaver(sessions SessionRepo, insights InsightRepo) *InsightSaver {
	return &InsightSaver{sessions: sessions, insights: insights}
}

func (s *InsightSaver) SaveInsights(ctx context.Context, slug string, p *models.InsightPayload) error {
	sess, err := s.sessions.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.insights.Upsert(ctx, sess.ID, p); err != nil {
		return err
	}
	if p.ShouldUpdateTitle && p.AiTitle != "" {
		return s.sessions.UpdateTitle(ctx, sess.ID, p.AiTitle)
	}
	return nil
}
