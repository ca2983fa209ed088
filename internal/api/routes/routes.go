package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/roomcast/transcript-relay/internal/api/handlers"
	"github.com/roomcast/transcript-relay/internal/api/middleware"
	"github.com/roomcast/transcript-relay/internal/batch"
	"github.com/roomcast/transcript-relay/internal/ingest"
	"github.com/roomcast/transcript-relay/internal/insight"
	"github.com/roomcast/transcript-relay/internal/registry"
	"github.com/roomcast/transcript-relay/internal/repositories/postgres"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Hub      *registry.Hub
	Queue    *batch.Queue
	Insights *insight.Coordinator
	Manager  *ingest.Manager
	Sessions postgres.SessionRepo

	JWTSecret   string
	RelaySecret string

	Log *logrus.Logger
}

// Setup wires all routes onto the engine.
func Setup(r *gin.Engine, d Deps) {
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(gin.Recovery())

	health := handlers.NewHealthHandler(d.Hub, d.Queue, d.Insights, d.Manager)
	ws := handlers.NewWSHandler(d.Hub, d.JWTSecret, d.Log)
	transcripts := handlers.NewTranscriptHandler(d.Hub, d.Queue, d.Insights, d.Log)
	control := handlers.NewControlHandler(d.Manager, d.Sessions, d.Log)

	r.GET("/health", health.Health)
	r.GET("/metrics", health.Metrics)
	r.GET("/ws/sessions/:slug", ws.Subscribe)

	api := r.Group("/api")
	api.Use(middleware.SharedSecretAuth(d.RelaySecret))
	{
		api.POST("/transcripts", transcripts.Ingest)
		api.POST("/transcription/start", control.Start)
		api.POST("/transcription/stop", control.Stop)
	}
}
