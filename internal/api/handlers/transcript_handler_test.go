package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/transcript-relay/internal/batch"
	"github.com/roomcast/transcript-relay/internal/insight"
	"github.com/roomcast/transcript-relay/internal/models"
	"github.com/roomcast/transcript-relay/internal/registry"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type nullStore struct{}

func (nullStore) SessionIDBySlug(ctx context.Context, slug string) (string, error) {
	return "sid-" + slug, nil
}
func (nullStore) ParticipantID(ctx context.Context, sessionID, identity string) (string, error) {
	return "pid-" + identity, nil
}
func (nullStore) UpsertSegments(ctx context.Context, rows []models.TranscriptSegment) error {
	return nil
}

type nullLLM struct{}

func (nullLLM) SessionInsights(ctx context.Context, transcript string, prev *models.InsightPayload) (*models.InsightPayload, error) {
	return &models.InsightPayload{}, nil
}
func (nullLLM) Close() error { return nil }

type nullSaver struct{}

func (nullSaver) SaveInsights(ctx context.Context, slug string, p *models.InsightPayload) error {
	return nil
}

type recordingWire struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *recordingWire) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	w.frames = append(w.frames, cp)
	return nil
}
func (w *recordingWire) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}
func (w *recordingWire) SetWriteDeadline(t time.Time) error { return nil }
func (w *recordingWire) Close() error                       { return nil }

func (w *recordingWire) frameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func newTranscriptRouter(t *testing.T) (*gin.Engine, *registry.Hub, *batch.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := testLogger()

	hub := registry.NewHub(registry.HubConfig{}, log)
	t.Cleanup(hub.Close)

	store := nullStore{}
	queue := batch.NewQueue(batch.QueueConfig{FlushInterval: time.Hour}, store, batch.NewResolver(store, nil), log)
	insights := insight.NewCoordinator(insight.Config{}, nullLLM{}, hub, nullSaver{}, log)

	r := gin.New()
	r.POST("/api/transcripts", NewTranscriptHandler(hub, queue, insights, log).Ingest)
	return r, hub, queue
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestAcceptsAndFansOut(t *testing.T) {
	r, hub, queue := newTranscriptRouter(t)

	wire := &recordingWire{}
	hub.Register("demo", registry.NewClient("demo", "viewer", wire))

	w := postJSON(r, "/api/transcripts", `{
		"sessionSlug": "demo",
		"utteranceId": "utt-1",
		"text": "hello world",
		"isFinal": true,
		"startedAt": "2026-08-28T10:00:00Z"
	}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return wire.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, string(wire.frames[0]), `"utteranceId":"utt-1"`)
	assert.Equal(t, 1, queue.Depth())
}

func TestIngestPartialSkipsPersistence(t *testing.T) {
	r, hub, queue := newTranscriptRouter(t)

	wire := &recordingWire{}
	hub.Register("demo", registry.NewClient("demo", "viewer", wire))

	w := postJSON(r, "/api/transcripts", `{
		"sessionSlug": "demo",
		"utteranceId": "utt-1",
		"text": "hel",
		"isFinal": false,
		"startedAt": "2026-08-28T10:00:00Z"
	}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return wire.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, queue.Depth())
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	r, _, queue := newTranscriptRouter(t)

	w := postJSON(r, "/api/transcripts", `{"sessionSlug": "demo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_ARGUMENT")
	assert.Equal(t, 0, queue.Depth())
}
