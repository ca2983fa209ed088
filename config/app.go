package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Ingest pipeline modes.
const (
	IngestModeStream = "stream" // single mixed media stream decoded by an external process
	IngestModeEgress = "egress" // per-track room egress, decoded and mixed in-process
)

// App holds process-level configuration for the relay. Everything is
// env-driven; Load applies defaults and validates the fields required by the
// selected ingest mode.
type App struct {
	Port string

	// Auth secrets
	ChannelTokenSecret string // HS256 secret for subscriber channel tokens
	IngestSharedSecret string // bearer secret for inter-service callbacks

	// Ingest pipeline
	IngestMode      string
	DecoderPath     string        // external decoder binary (ffmpeg-compatible)
	StreamBaseURL   string        // rtmp://host/app; session slug is appended
	StreamRetryWait time.Duration // wait between connect attempts while no audio
	MixInterval     time.Duration // egress mode mix/flush tick

	// Media room (egress mode)
	RoomURL       string
	RoomAPIKey    string
	RoomAPISecret string

	// STT vendor
	STTProvider   string // "realtime" | "google"
	STTAPIKey     string
	STTSessionURL string // session-init endpoint for the realtime vendor
	STTLanguage   string

	// AI insights
	VertexProject  string
	VertexLocation string
	VertexModel    string

	// Optional session audio recording
	RecordingBucket string

	// Tunables
	MaxQueueSize     int           // per-session fan-out queue bound
	DedupCap         int           // per-session seen-final set bound
	BatchCap         int           // pending segment queue bound
	MaxBatchSize     int           // segments per flush step
	FlushInterval    time.Duration // batch flush tick
	PingInterval     time.Duration // subscriber heartbeat ping
	MaxMissedPongs   int
	ShutdownTimeout  time.Duration
	InsightWindow    int           // sliding window size (final chunks)
	InsightMinChars  int           // windowed text minimum
	InsightDebounce  int           // new chars required since last call
	InsightBurst     int           // new chars that bypass the time throttle
	InsightThrottle  time.Duration // min interval between calls otherwise
}

func LoadApp() (*App, error) {
	cfg := &App{
		Port:            getEnv("PORT", "8080"),
		IngestMode:      getEnv("INGEST_MODE", IngestModeStream),
		DecoderPath:     getEnv("DECODER_PATH", "ffmpeg"),
		StreamBaseURL:   getEnv("STREAM_BASE_URL", ""),
		StreamRetryWait: getDuration("STREAM_RETRY_WAIT", 2*time.Second),
		MixInterval:     getDuration("MIX_INTERVAL", 200*time.Millisecond),

		RoomURL:       getEnv("ROOM_URL", ""),
		RoomAPIKey:    getEnv("ROOM_API_KEY", ""),
		RoomAPISecret: getEnv("ROOM_API_SECRET", ""),

		STTProvider:   getEnv("STT_PROVIDER", "realtime"),
		STTAPIKey:     getEnv("STT_API_KEY", ""),
		STTSessionURL: getEnv("STT_SESSION_URL", ""),
		STTLanguage:   getEnv("STT_LANGUAGE", "en-US"),

		VertexProject:  getEnv("VERTEX_PROJECT", ""),
		VertexLocation: getEnv("VERTEX_LOCATION", "us-central1"),
		VertexModel:    getEnv("VERTEX_MODEL", "gemini-1.5-flash"),

		RecordingBucket: getEnv("RECORDING_BUCKET", ""),

		MaxQueueSize:    getInt("MAX_QUEUE_SIZE", 1000),
		DedupCap:        getInt("DEDUP_CAP", 1000),
		BatchCap:        getInt("BATCH_CAP", 1000),
		MaxBatchSize:    getInt("MAX_BATCH_SIZE", 100),
		FlushInterval:   getDuration("FLUSH_INTERVAL", 300*time.Millisecond),
		PingInterval:    getDuration("PING_INTERVAL", 30*time.Second),
		MaxMissedPongs:  getInt("MAX_MISSED_PONGS", 3),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		InsightWindow:   getInt("INSIGHT_WINDOW", 10),
		InsightMinChars: getInt("INSIGHT_MIN_CHARS", 120),
		InsightDebounce: getInt("INSIGHT_DEBOUNCE_CHARS", 120),
		InsightBurst:    getInt("INSIGHT_BURST_CHARS", 500),
		InsightThrottle: getDuration("INSIGHT_THROTTLE", 3*time.Second),
	}

	cfg.ChannelTokenSecret = getEnv("CHANNEL_TOKEN_SECRET", "")
	cfg.IngestSharedSecret = getEnv("INGEST_SHARED_SECRET", "")

	if cfg.ChannelTokenSecret == "" {
		return nil, fmt.Errorf("CHANNEL_TOKEN_SECRET is required")
	}
	if cfg.IngestSharedSecret == "" {
		return nil, fmt.Errorf("INGEST_SHARED_SECRET is required")
	}

	switch cfg.IngestMode {
	case IngestModeStream:
		if cfg.StreamBaseURL == "" {
			return nil, fmt.Errorf("STREAM_BASE_URL is required in stream mode")
		}
	case IngestModeEgress:
		if cfg.RoomURL == "" || cfg.RoomAPIKey == "" || cfg.RoomAPISecret == "" {
			return nil, fmt.Errorf("ROOM_URL, ROOM_API_KEY and ROOM_API_SECRET are required in egress mode")
		}
	default:
		return nil, fmt.Errorf("invalid ingest mode: %s (must be stream or egress)", cfg.IngestMode)
	}

	switch cfg.STTProvider {
	case "realtime":
		if cfg.STTAPIKey == "" || cfg.STTSessionURL == "" {
			return nil, fmt.Errorf("STT_API_KEY and STT_SESSION_URL are required for the realtime provider")
		}
	case "google":
		// credentials come from the ambient environment
	default:
		return nil, fmt.Errorf("invalid STT provider: %s (must be realtime or google)", cfg.STTProvider)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
