package registry

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// stubWire records everything written through it.
type stubWire struct {
	mu        sync.Mutex
	frames    [][]byte
	failWrite bool
	closed    bool
	closeCode int
	pings     int
}

func (w *stubWire) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWrite {
		return io.ErrClosedPipe
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	w.frames = append(w.frames, cp)
	return nil
}

func (w *stubWire) WriteControl(messageType int, data []byte, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if messageType == websocket.PingMessage {
		w.pings++
	}
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		w.closeCode = int(binary.BigEndian.Uint16(data[:2]))
	}
	return nil
}

func (w *stubWire) SetWriteDeadline(t time.Time) error { return nil }

func (w *stubWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *stubWire) frameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func (w *stubWire) lastFrame() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		return nil
	}
	return w.frames[len(w.frames)-1]
}

// blockingWire parks the drain goroutine inside a write until released.
type blockingWire struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingWire() *blockingWire {
	return &blockingWire{started: make(chan struct{}), release: make(chan struct{})}
}

func (w *blockingWire) WriteMessage(messageType int, data []byte) error {
	w.once.Do(func() { close(w.started) })
	<-w.release
	return nil
}

func (w *blockingWire) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}
func (w *blockingWire) SetWriteDeadline(t time.Time) error { return nil }
func (w *blockingWire) Close() error                       { return nil }

func finalFrame(slug, utteranceID, text string) TranscriptFrame {
	return TranscriptFrame{
		Type:        FrameTranscription,
		SessionSlug: slug,
		UtteranceID: utteranceID,
		Text:        text,
		IsFinal:     true,
		StartedAt:   time.Now().UTC(),
	}
}

func TestBroadcastFansOutToAllSubscribers(t *testing.T) {
	h := NewHub(HubConfig{}, testLogger())
	defer h.Close()

	w1, w2 := &stubWire{}, &stubWire{}
	c1 := NewClient("demo", "u1", w1)
	c2 := NewClient("demo", "u2", w2)
	h.Register("demo", c1)
	h.Register("demo", c2)

	h.Broadcast("demo", finalFrame("demo", "utt-1", "hello"))

	require.Eventually(t, func() bool {
		return w1.frameCount() == 1 && w2.frameCount() == 1
	}, time.Second, 5*time.Millisecond)

	var got TranscriptFrame
	require.NoError(t, json.Unmarshal(w1.lastFrame(), &got))
	assert.Equal(t, FrameTranscription, got.Type)
	assert.Equal(t, "utt-1", got.UtteranceID)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.IsFinal)
}

func TestBroadcastSkipsDuplicateFinals(t *testing.T) {
	h := NewHub(HubConfig{}, testLogger())
	defer h.Close()

	w := &stubWire{}
	c := NewClient("demo", "u1", w)
	h.Register("demo", c)

	h.Broadcast("demo", finalFrame("demo", "utt-1", "hello"))
	h.Broadcast("demo", finalFrame("demo", "utt-1", "hello"))
	h.Broadcast("demo", finalFrame("demo", "utt-1", "hello"))

	require.Eventually(t, func() bool { return w.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, w.frameCount())
	assert.Equal(t, int64(2), h.Stats().DuplicatesSkipped)
}

func TestBroadcastDoesNotDedupPartials(t *testing.T) {
	h := NewHub(HubConfig{}, testLogger())
	defer h.Close()

	w := &stubWire{}
	h.Register("demo", NewClient("demo", "u1", w))

	partial := finalFrame("demo", "utt-1", "hel")
	partial.IsFinal = false
	h.Broadcast("demo", partial)
	partial.Text = "hello"
	h.Broadcast("demo", partial)

	require.Eventually(t, func() bool { return w.frameCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastQueueDropsOldestOnOverflow(t *testing.T) {
	const maxQueue = 5
	h := NewHub(HubConfig{MaxQueueSize: maxQueue}, testLogger())
	defer h.Close()

	w := newBlockingWire()
	h.Register("demo", NewClient("demo", "u1", w))

	// Park the drain goroutine on the first write, then overfill the queue.
	h.Broadcast("demo", finalFrame("demo", "utt-0", "first"))
	<-w.started

	for i := 0; i < maxQueue+3; i++ {
		partial := finalFrame("demo", "", "x")
		partial.IsFinal = false
		h.Broadcast("demo", partial)
	}

	st := h.Stats()
	assert.Equal(t, maxQueue, st.QueueDepth)
	assert.Equal(t, int64(3), st.Dropped)
	close(w.release)
}

func TestLastUnregisterDeletesSessionState(t *testing.T) {
	h := NewHub(HubConfig{}, testLogger())
	defer h.Close()

	emptied := make(chan string, 1)
	h.OnSessionEmpty(func(slug string) { emptied <- slug })

	w := &stubWire{}
	c := NewClient("demo", "u1", w)
	h.Register("demo", c)
	require.True(t, h.HasSession("demo"))

	h.Unregister("demo", c)
	assert.False(t, h.HasSession("demo"))

	select {
	case slug := <-emptied:
		assert.Equal(t, "demo", slug)
	case <-time.After(time.Second):
		t.Fatal("empty hook never fired")
	}

	// Broadcasting into the torn-down session is a no-op.
	h.Broadcast("demo", finalFrame("demo", "utt-9", "late"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, w.frameCount())
}

func TestDeadSubscriberEvictedOnWriteFailure(t *testing.T) {
	h := NewHub(HubConfig{}, testLogger())
	defer h.Close()

	healthy := &stubWire{}
	dead := &stubWire{failWrite: true}
	h.Register("demo", NewClient("demo", "ok", healthy))
	h.Register("demo", NewClient("demo", "gone", dead))

	h.Broadcast("demo", finalFrame("demo", "utt-1", "hello"))

	require.Eventually(t, func() bool {
		return healthy.frameCount() == 1 && h.Stats().DeadEvicted == 1
	}, time.Second, 5*time.Millisecond)

	// The healthy subscriber keeps the session alive.
	assert.True(t, h.HasSession("demo"))
	assert.Equal(t, 1, h.Stats().ActiveSubscribers)
}

func TestHeartbeatClosesSilentSubscriber(t *testing.T) {
	h := NewHub(HubConfig{PingInterval: 10 * time.Millisecond, MaxMissedPongs: 3}, testLogger())
	defer h.Close()

	w := &stubWire{}
	c := NewClient("demo", "u1", w)
	h.Register("demo", c)

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.closed && w.closeCode == CloseCodeHeartbeatTimeout
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.HasSession("demo"))

	// Closure lands on the MaxMissedPongs-th silent interval, so only the
	// intervals before it carry a ping.
	w.mu.Lock()
	pings := w.pings
	w.mu.Unlock()
	assert.Equal(t, 2, pings)
}

func TestHeartbeatPongResetsCounter(t *testing.T) {
	h := NewHub(HubConfig{PingInterval: 10 * time.Millisecond, MaxMissedPongs: 2}, testLogger())
	defer h.Close()

	w := &stubWire{}
	c := NewClient("demo", "u1", w)
	h.Register("demo", c)

	// Keep answering pings; the subscriber must stay registered well past the
	// timeout horizon.
	stop := time.After(100 * time.Millisecond)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			assert.True(t, h.HasSession("demo"))
			return
		case <-tick.C:
			c.MarkPong()
		}
	}
}

func TestCloseDisconnectsEverything(t *testing.T) {
	h := NewHub(HubConfig{}, testLogger())

	w := &stubWire{}
	h.Register("demo", NewClient("demo", "u1", w))

	h.Close()

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	assert.True(t, closed)
	assert.False(t, h.HasSession("demo"))

	// Registering after close refuses the subscriber.
	w2 := &stubWire{}
	h.Register("demo", NewClient("demo", "u2", w2))
	assert.False(t, h.HasSession("demo"))
}
