package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/roomcast/transcript-relay/internal/ingest"
	"github.com/roomcast/transcript-relay/internal/repositories/postgres"
	"github.com/roomcast/transcript-relay/internal/utils"
)

// ControlHandler starts and stops in-process transcription pipelines.
type ControlHandler struct {
	manager  *ingest.Manager
	sessions postgres.SessionRepo
	log      *logrus.Logger
}

func NewControlHandler(manager *ingest.Manager, sessions postgres.SessionRepo, log *logrus.Logger) *ControlHandler {
	return &ControlHandler{manager: manager, sessions: sessions, log: log}
}

type controlRequest struct {
	SessionSlug string `json:"sessionSlug" binding:"required"`
}

// Start handles POST /api/transcription/start. Pipeline setup runs
// asynchronously; the 202 means the request was accepted, not that the
// vendor stream is live.
func (h *ControlHandler) Start(c *gin.Context) {
	const op = "ControlHandler.Start"

	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid start request", err))
		return
	}

	sess, err := h.sessions.GetBySlug(c.Request.Context(), req.SessionSlug)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			writeError(c, utils.E(utils.CodeNotFound, op, "session not found", err))
			return
		}
		writeError(c, utils.E(utils.CodeInternal, op, "session lookup failed", err))
		return
	}

	if err := h.manager.Start(sess.ID, sess.Slug); err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "transcription could not be started", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"sessionSlug": sess.Slug, "status": "starting"})
}

// Stop handles POST /api/transcription/stop. Stopping a session with no
// running pipeline is a no-op.
func (h *ControlHandler) Stop(c *gin.Context) {
	const op = "ControlHandler.Stop"

	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid stop request", err))
		return
	}

	h.manager.StopBySlug(req.SessionSlug)
	c.JSON(http.StatusOK, gin.H{"sessionSlug": req.SessionSlug, "status": "stopped"})
}
