package llm

import (
	"context"

	"github.com/roomcast/transcript-relay/internal/models"
)

type Provider interface {
	// SessionInsights summarizes the windowed transcript, given the previous
	// insight payload as context (nil on the first call for a session).
	SessionInsights(ctx context.Context, transcript string, prev *models.InsightPayload) (*models.InsightPayload, error)
	Close() error
}
