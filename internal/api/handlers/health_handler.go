package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roomcast/transcript-relay/internal/batch"
	"github.com/roomcast/transcript-relay/internal/ingest"
	"github.com/roomcast/transcript-relay/internal/insight"
	"github.com/roomcast/transcript-relay/internal/registry"
)

// HealthHandler exposes liveness and the relay's operational counters.
type HealthHandler struct {
	hub      *registry.Hub
	queue    *batch.Queue
	insights *insight.Coordinator
	manager  *ingest.Manager
}

func NewHealthHandler(hub *registry.Hub, queue *batch.Queue, insights *insight.Coordinator, manager *ingest.Manager) *HealthHandler {
	return &HealthHandler{hub: hub, queue: queue, insights: insights, manager: manager}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"batchDepth": h.queue.Depth(),
	})
}

// Metrics handles GET /metrics with a JSON snapshot of every subsystem's
// counters.
func (h *HealthHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fanout":   h.hub.Stats(),
		"batch":    h.queue.Stats(),
		"insights": h.insights.Stats(),
		"ingest":   h.manager.Stats(),
	})
}
