package registry

import (
	"time"

	"github.com/roomcast/transcript-relay/internal/models"
)

// Frame types sent to subscriber channels.
const (
	FrameConnected          = "connected"
	FrameTranscription      = "transcription"
	FrameTranscriptionError = "transcription_error"
	FrameAIInsights         = "ai_insights"
)

// WebSocket close codes used by the relay.
const (
	CloseCodeUnauthorized     = 4001
	CloseCodeHeartbeatTimeout = 4008
)

type ConnectedFrame struct {
	Type        string `json:"type"`
	SessionSlug string `json:"sessionSlug"`
}

func NewConnectedFrame(slug string) ConnectedFrame {
	return ConnectedFrame{Type: FrameConnected, SessionSlug: slug}
}

type TranscriptFrame struct {
	Type                string     `json:"type"`
	SessionSlug         string     `json:"sessionSlug"`
	UtteranceID         string     `json:"utteranceId"`
	Text                string     `json:"text"`
	IsFinal             bool       `json:"isFinal"`
	ParticipantIdentity string     `json:"participantIdentity,omitempty"`
	StartedAt           time.Time  `json:"startedAt"`
	EndedAt             *time.Time `json:"endedAt,omitempty"`
}

type ErrorFrame struct {
	Type        string `json:"type"`
	SessionSlug string `json:"sessionSlug"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

type InsightsFrame struct {
	Type        string                 `json:"type"`
	SessionSlug string                 `json:"sessionSlug"`
	Insights    *models.InsightPayload `json:"insights"`
}

func NewInsightsFrame(slug string, p *models.InsightPayload) InsightsFrame {
	return InsightsFrame{Type: FrameAIInsights, SessionSlug: slug, Insights: p}
}
