package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/roomcast/transcript-relay/internal/batch"
	"github.com/roomcast/transcript-relay/internal/insight"
	"github.com/roomcast/transcript-relay/internal/registry"
	"github.com/roomcast/transcript-relay/internal/utils"
)

// TranscriptHandler accepts transcript events pushed by an external
// transcriber and feeds them through the same fan-out, persistence and
// insight paths the in-process ingest uses.
type TranscriptHandler struct {
	hub      *registry.Hub
	queue    *batch.Queue
	insights *insight.Coordinator
	log      *logrus.Logger
}

func NewTranscriptHandler(hub *registry.Hub, queue *batch.Queue, insights *insight.Coordinator, log *logrus.Logger) *TranscriptHandler {
	return &TranscriptHandler{hub: hub, queue: queue, insights: insights, log: log}
}

type transcriptRequest struct {
	SessionSlug         string     `json:"sessionSlug" binding:"required"`
	UtteranceID         string     `json:"utteranceId" binding:"required"`
	Text                string     `json:"text" binding:"required"`
	IsFinal             bool       `json:"isFinal"`
	StartedAt           time.Time  `json:"startedAt" binding:"required"`
	EndedAt             *time.Time `json:"endedAt"`
	ParticipantIdentity string     `json:"participantIdentity"`
}

// Ingest handles POST /api/transcripts.
func (h *TranscriptHandler) Ingest(c *gin.Context) {
	const op = "TranscriptHandler.Ingest"

	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid transcript payload", err))
		return
	}

	h.hub.Broadcast(req.SessionSlug, registry.TranscriptFrame{
		Type:                registry.FrameTranscription,
		SessionSlug:         req.SessionSlug,
		UtteranceID:         req.UtteranceID,
		Text:                req.Text,
		IsFinal:             req.IsFinal,
		ParticipantIdentity: req.ParticipantIdentity,
		StartedAt:           req.StartedAt,
		EndedAt:             req.EndedAt,
	})

	if req.IsFinal {
		h.queue.Enqueue(batch.PendingSegment{
			SessionSlug:         req.SessionSlug,
			ParticipantIdentity: req.ParticipantIdentity,
			UtteranceID:         req.UtteranceID,
			Text:                req.Text,
			StartedAt:           req.StartedAt,
			EndedAt:             req.EndedAt,
		})
		h.insights.OnFinalTranscript(req.SessionSlug, req.Text, req.UtteranceID)
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
