package insight

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/transcript-relay/internal/models"
	"github.com/roomcast/transcript-relay/internal/registry"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeLLM records calls and can block until released.
type fakeLLM struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	prevs   []*models.InsightPayload
	payload *models.InsightPayload
	err     error
	block   chan struct{} // when set, SessionInsights waits on it
}

func (f *fakeLLM) SessionInsights(ctx context.Context, transcript string, prev *models.InsightPayload) (*models.InsightPayload, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, transcript)
	f.prevs = append(f.prevs, prev)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	p := *f.payload
	return &p, nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHub struct {
	mu     sync.Mutex
	frames []any
	errs   []string
}

func (h *fakeHub) Broadcast(slug string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, payload)
}

func (h *fakeHub) SendError(slug, code, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, code)
}

func (h *fakeHub) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []*models.InsightPayload
	err   error
}

func (s *fakeSaver) SaveInsights(ctx context.Context, slug string, p *models.InsightPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, p)
	return s.err
}

func (s *fakeSaver) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func basePayload() *models.InsightPayload {
	return &models.InsightPayload{
		AiTitle:           "Quarterly planning",
		AiTitleConfidence: 0.9,
		CurrentTopic:      "budget",
		Topics:            []models.TopicEntry{{ID: "t1", Label: "budget", StartedAtSec: 1}},
	}
}

func newTestCoordinator(llmp *fakeLLM, hub *fakeHub, saver *fakeSaver) *Coordinator {
	return NewCoordinator(Config{
		Window:        10,
		MinChars:      120,
		DebounceChars: 120,
		BurstChars:    500,
		Throttle:      3 * time.Second,
	}, llmp, hub, saver, testLogger())
}

func inFlight(c *Coordinator, slug string) bool {
	c.mu.Lock()
	st, ok := c.sessions[slug]
	c.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inFlight
}

func TestNoCallBelowMinChars(t *testing.T) {
	llmp := &fakeLLM{payload: basePayload()}
	hub := &fakeHub{}
	c := newTestCoordinator(llmp, hub, &fakeSaver{})

	c.OnFinalTranscript("demo", strings.Repeat("a", 119), "u1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, llmp.callCount())
}

func TestCallAtThreshold(t *testing.T) {
	llmp := &fakeLLM{payload: basePayload()}
	hub := &fakeHub{}
	saver := &fakeSaver{}
	c := newTestCoordinator(llmp, hub, saver)

	c.OnFinalTranscript("demo", strings.Repeat("a", 120), "u1")

	require.Eventually(t, func() bool { return llmp.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hub.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return saver.savedCount() == 1 }, time.Second, 5*time.Millisecond)

	frame, ok := hub.frames[0].(registry.InsightsFrame)
	require.True(t, ok)
	assert.Equal(t, registry.FrameAIInsights, frame.Type)
	assert.Equal(t, "Quarterly planning", frame.Insights.AiTitle)

	// First call carries no previous payload.
	assert.Nil(t, llmp.prevs[0])
}

func TestThrottleBlocksSecondCallUntilBurst(t *testing.T) {
	llmp := &fakeLLM{payload: basePayload()}
	hub := &fakeHub{}
	c := newTestCoordinator(llmp, hub, &fakeSaver{})

	c.OnFinalTranscript("demo", strings.Repeat("a", 200), "u1")
	require.Eventually(t, func() bool { return llmp.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// 150 new chars clears the debounce but not the 3s throttle.
	c.OnFinalTranscript("demo", strings.Repeat("b", 150), "u2")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, llmp.callCount())

	// A burst of new text bypasses the time throttle.
	c.OnFinalTranscript("demo", strings.Repeat("c", 500), "u3")
	require.Eventually(t, func() bool { return llmp.callCount() == 2 }, time.Second, 5*time.Millisecond)

	// The second call sees the first call's payload as previous context.
	require.Eventually(t, func() bool {
		llmp.mu.Lock()
		defer llmp.mu.Unlock()
		return len(llmp.prevs) == 2 && llmp.prevs[1] != nil
	}, time.Second, 5*time.Millisecond)
}

func TestSingleFlight(t *testing.T) {
	llmp := &fakeLLM{payload: basePayload(), block: make(chan struct{})}
	hub := &fakeHub{}
	c := newTestCoordinator(llmp, hub, &fakeSaver{})

	c.OnFinalTranscript("demo", strings.Repeat("a", 600), "u1")
	require.Eventually(t, func() bool { return llmp.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// Burst-sized input while the first call is still in flight must not
	// start a second one.
	c.OnFinalTranscript("demo", strings.Repeat("b", 600), "u2")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, llmp.callCount())

	close(llmp.block)
	require.Eventually(t, func() bool { return hub.frameCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFailedCallEmitsErrorFrame(t *testing.T) {
	llmp := &fakeLLM{err: errors.New("model unavailable")}
	hub := &fakeHub{}
	saver := &fakeSaver{}
	c := newTestCoordinator(llmp, hub, saver)

	c.OnFinalTranscript("demo", strings.Repeat("a", 200), "u1")

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.errs) == 1 && hub.errs[0] == "ai_failed"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.frameCount())
	assert.Equal(t, 0, saver.savedCount())
	assert.Equal(t, int64(1), c.Stats().CallFailures)
}

func TestWindowSlides(t *testing.T) {
	llmp := &fakeLLM{payload: basePayload()}
	hub := &fakeHub{}
	c := NewCoordinator(Config{
		Window:        3,
		MinChars:      1,
		DebounceChars: 1,
		BurstChars:    1,
	}, llmp, hub, &fakeSaver{}, testLogger())

	for _, text := range []string{"one", "two", "three", "four"} {
		c.OnFinalTranscript("demo", text, text)
		require.Eventually(t, func() bool {
			return !inFlight(c, "demo")
		}, time.Second, time.Millisecond)
	}

	llmp.mu.Lock()
	last := llmp.prompts[len(llmp.prompts)-1]
	llmp.mu.Unlock()
	assert.Equal(t, "two\nthree\nfour", last)
}

func TestRetransmittedFinalNotRecounted(t *testing.T) {
	llmp := &fakeLLM{payload: basePayload()}
	hub := &fakeHub{}
	c := newTestCoordinator(llmp, hub, &fakeSaver{})

	// 70 chars is below every threshold; a recounted retransmit would push
	// the window past MinChars and fire a call.
	text := strings.Repeat("a", 70)
	c.OnFinalTranscript("demo", text, "u1")
	c.OnFinalTranscript("demo", text, "u1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, llmp.callCount())

	c.OnFinalTranscript("demo", strings.Repeat("b", 60), "u2")
	require.Eventually(t, func() bool { return llmp.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// The duplicate chunk appears once in the window.
	llmp.mu.Lock()
	prompt := llmp.prompts[0]
	llmp.mu.Unlock()
	assert.Equal(t, 1, strings.Count(prompt, text))
}

func TestDropSessionClearsState(t *testing.T) {
	llmp := &fakeLLM{payload: basePayload()}
	c := newTestCoordinator(llmp, &fakeHub{}, &fakeSaver{})

	c.OnFinalTranscript("demo", "hello there", "u1")
	require.True(t, c.HasSession("demo"))

	c.DropSession("demo")
	assert.False(t, c.HasSession("demo"))
	assert.Equal(t, 0, c.Stats().ActiveSessions)
}

func TestRepairTopicsAppendsMissingCurrent(t *testing.T) {
	p := &models.InsightPayload{
		CurrentTopic: "roadmap",
		Topics:       []models.TopicEntry{{ID: "t1", Label: "budget"}},
	}
	RepairTopics(p)

	require.Len(t, p.Topics, 2)
	assert.Equal(t, "roadmap", p.Topics[1].Label)
	assert.NotEmpty(t, p.Topics[1].ID)
}

func TestRepairTopicsLeavesValidPayloadAlone(t *testing.T) {
	p := basePayload()
	RepairTopics(p)
	assert.Len(t, p.Topics, 1)

	empty := &models.InsightPayload{}
	RepairTopics(empty)
	assert.Empty(t, empty.Topics)

	RepairTopics(nil)
}
