package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/roomcast/transcript-relay/config"
	"github.com/roomcast/transcript-relay/internal/api/routes"
	"github.com/roomcast/transcript-relay/internal/batch"
	"github.com/roomcast/transcript-relay/internal/cache"
	"github.com/roomcast/transcript-relay/internal/ingest"
	"github.com/roomcast/transcript-relay/internal/insight"
	"github.com/roomcast/transcript-relay/internal/logger"
	"github.com/roomcast/transcript-relay/internal/models"
	"github.com/roomcast/transcript-relay/internal/providers/llm"
	"github.com/roomcast/transcript-relay/internal/providers/stt"
	"github.com/roomcast/transcript-relay/internal/registry"
	"github.com/roomcast/transcript-relay/internal/repositories/postgres"
	"github.com/roomcast/transcript-relay/internal/storage"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.LoadApp()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("postgres connection failed")
	}
	var shared cache.Cache
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("redis unavailable, resolution caching disabled")
	} else {
		shared = cache.NewRedisCache(config.RedisClient)
	}

	db := config.PostgresDB
	if err := db.AutoMigrate(
		&models.Session{},
		&models.Participant{},
		&models.TranscriptSegment{},
		&models.SessionInsight{},
	); err != nil {
		log.WithError(err).Fatal("schema migration failed")
	}

	sessionRepo := postgres.NewSessionRepo(db)
	participantRepo := postgres.NewParticipantRepo(db)
	transcriptRepo := postgres.NewTranscriptRepo(db)
	insightRepo := postgres.NewInsightRepo(db)

	store := postgres.NewStore(sessionRepo, participantRepo, transcriptRepo)
	resolver := batch.NewResolver(store, shared)
	queue := batch.NewQueue(batch.QueueConfig{
		Capacity:      cfg.BatchCap,
		MaxBatchSize:  cfg.MaxBatchSize,
		FlushInterval: cfg.FlushInterval,
	}, store, resolver, log)

	hub := registry.NewHub(registry.HubConfig{
		MaxQueueSize:   cfg.MaxQueueSize,
		DedupCap:       cfg.DedupCap,
		PingInterval:   cfg.PingInterval,
		MaxMissedPongs: cfg.MaxMissedPongs,
	}, log)

	ctx := context.Background()

	var sttProvider stt.Provider
	switch cfg.STTProvider {
	case "google":
		sttProvider, err = stt.NewGoogleSpeech(ctx, log)
		if err != nil {
			log.WithError(err).Fatal("google speech client init failed")
		}
	default:
		sttProvider = stt.NewRealtime(cfg.STTAPIKey, cfg.STTSessionURL, log)
	}

	llmProvider, err := llm.NewVertexGemini(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
	if err != nil {
		log.WithError(err).Fatal("vertex client init failed")
	}

	saver := postgres.NewInsightSaver(sessionRepo, insightRepo)
	coordinator := insight.NewCoordinator(insight.Config{
		Window:        cfg.InsightWindow,
		MinChars:      cfg.InsightMinChars,
		DebounceChars: cfg.InsightDebounce,
		BurstChars:    cfg.InsightBurst,
		Throttle:      cfg.InsightThrottle,
	}, llmProvider, hub, saver, log)

	var recorder storage.Uploader
	if cfg.RecordingBucket != "" {
		gcsUploader, err := storage.NewGCSUploader(ctx, cfg.RecordingBucket)
		if err != nil {
			log.WithError(err).Fatal("recording bucket init failed")
		}
		defer gcsUploader.Close()
		recorder = gcsUploader
	}

	manager := ingest.NewManager(ingest.Config{
		Mode:            cfg.IngestMode,
		DecoderPath:     cfg.DecoderPath,
		StreamBaseURL:   cfg.StreamBaseURL,
		StreamRetryWait: cfg.StreamRetryWait,
		MixInterval:     cfg.MixInterval,
		RoomURL:         cfg.RoomURL,
		RoomAPIKey:      cfg.RoomAPIKey,
		RoomAPISecret:   cfg.RoomAPISecret,
		Language:        cfg.STTLanguage,
	}, sttProvider, hub, queue, coordinator, recorder, log)

	// When the last subscriber leaves, the session's fan-out state is gone;
	// drop the insight window with it. Pipelines keep running until an
	// explicit stop so transcripts are still persisted.
	hub.OnSessionEmpty(coordinator.DropSession)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	routes.Setup(engine, routes.Deps{
		Hub:         hub,
		Queue:       queue,
		Insights:    coordinator,
		Manager:     manager,
		Sessions:    sessionRepo,
		JWTSecret:   cfg.ChannelTokenSecret,
		RelaySecret: cfg.IngestSharedSecret,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("relay server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	// Stop producing first, then disconnect subscribers, then drain the
	// persistence queue so nothing accepted before the signal is lost.
	manager.Shutdown()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	queue.FlushAll(shutdownCtx)

	if err := llmProvider.Close(); err != nil {
		log.WithError(err).Warn("llm client close failed")
	}
	if err := sttProvider.Close(); err != nil {
		log.WithError(err).Warn("stt client close failed")
	}
	log.Info("shutdown complete")
}
