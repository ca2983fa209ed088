package insight

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/roomcast/transcript-relay/internal/models"
	"github.com/roomcast/transcript-relay/internal/providers/llm"
	"github.com/roomcast/transcript-relay/internal/registry"
)

// Broadcaster is the slice of the registry hub the coordinator publishes
// through.
type Broadcaster interface {
	Broadcast(slug string, payload any)
	SendError(slug, code, message string)
}

// Saver persists the latest insights for a session. Failures are logged
// only; they never fail the broadcast.
type Saver interface {
	SaveInsights(ctx context.Context, slug string, p *models.InsightPayload) error
}

// Config carries the throttle thresholds.
type Config struct {
	Window        int           // sliding window size in final chunks
	MinChars      int           // windowed text minimum before any call
	DebounceChars int           // new chars required since the last call
	BurstChars    int           // new chars that bypass the time throttle
	Throttle      time.Duration // otherwise, minimum interval between calls
	CallTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 10
	}
	if c.MinChars <= 0 {
		c.MinChars = 120
	}
	if c.DebounceChars <= 0 {
		c.DebounceChars = 120
	}
	if c.BurstChars <= 0 {
		c.BurstChars = 500
	}
	if c.Throttle <= 0 {
		c.Throttle = 3 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
}

// seenFinalsCap bounds the per-session set of counted utterance ids.
const seenFinalsCap = 1000

// sessionState accumulates final transcripts for one session between
// summarization calls. The inFlight flag is the per-session single-flight
// lock. seenIDs keeps vendor retransmits of a final from recounting toward
// the call thresholds.
type sessionState struct {
	mu         sync.Mutex
	window     []string
	seenIDs    map[string]struct{}
	seenOrder  []string
	last       *models.InsightPayload
	lastCallAt time.Time
	newChars   int
	inFlight   bool
}

// observe records the utterance id and reports whether it was already
// counted. Caller holds st.mu.
func (st *sessionState) observe(utteranceID string) bool {
	if utteranceID == "" {
		return false
	}
	if _, dup := st.seenIDs[utteranceID]; dup {
		return true
	}
	if st.seenIDs == nil {
		st.seenIDs = make(map[string]struct{})
	}
	if len(st.seenOrder) >= seenFinalsCap {
		delete(st.seenIDs, st.seenOrder[0])
		st.seenOrder = st.seenOrder[1:]
	}
	st.seenIDs[utteranceID] = struct{}{}
	st.seenOrder = append(st.seenOrder, utteranceID)
	return false
}

// Coordinator watches final transcripts per session, throttles, and drives
// the summarization pass. State is created lazily and deleted when the
// session loses its last subscriber.
type Coordinator struct {
	cfg   Config
	llm   llm.Provider
	hub   Broadcaster
	saver Saver
	log   *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*sessionState

	calls     atomic.Int64
	callFails atomic.Int64
}

func NewCoordinator(cfg Config, provider llm.Provider, hub Broadcaster, saver Saver, log *logrus.Logger) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:      cfg,
		llm:      provider,
		hub:      hub,
		saver:    saver,
		log:      log.WithField("component", "insight"),
		sessions: make(map[string]*sessionState),
	}
}

// OnFinalTranscript accepts one finalized chunk. It appends to the sliding
// window and triggers a summarization call once all thresholds hold and no
// call is in flight.
func (c *Coordinator) OnFinalTranscript(slug, text, utteranceID string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	c.mu.Lock()
	st, ok := c.sessions[slug]
	if !ok {
		st = &sessionState{}
		c.sessions[slug] = st
	}
	c.mu.Unlock()

	st.mu.Lock()
	if st.observe(utteranceID) {
		st.mu.Unlock()
		return
	}
	st.window = append(st.window, text)
	if len(st.window) > c.cfg.Window {
		st.window = st.window[len(st.window)-c.cfg.Window:]
	}
	st.newChars += len(text)

	windowText := strings.Join(st.window, "\n")
	trigger := len(windowText) >= c.cfg.MinChars &&
		st.newChars >= c.cfg.DebounceChars &&
		(st.newChars >= c.cfg.BurstChars || st.lastCallAt.IsZero() || time.Since(st.lastCallAt) >= c.cfg.Throttle) &&
		!st.inFlight
	var prev *models.InsightPayload
	if trigger {
		st.inFlight = true
		st.newChars = 0
		st.lastCallAt = time.Now()
		prev = st.last
	}
	st.mu.Unlock()

	if trigger {
		go c.call(slug, st, windowText, prev)
	}
}

func (c *Coordinator) call(slug string, st *sessionState, windowText string, prev *models.InsightPayload) {
	defer func() {
		st.mu.Lock()
		st.inFlight = false
		st.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	c.calls.Add(1)
	insights, err := c.llm.SessionInsights(ctx, windowText, prev)
	if err != nil {
		c.callFails.Add(1)
		c.log.WithError(err).WithField("session", slug).Error("insight call failed")
		c.hub.SendError(slug, "ai_failed", "insight generation failed")
		return
	}

	RepairTopics(insights)

	st.mu.Lock()
	st.last = insights
	st.mu.Unlock()

	c.hub.Broadcast(slug, registry.NewInsightsFrame(slug, insights))

	go func() {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		defer saveCancel()
		if err := c.saver.SaveInsights(saveCtx, slug, insights); err != nil {
			c.log.WithError(err).WithField("session", slug).Error("insight save failed")
		}
	}()
}

// DropSession deletes a session's accumulated state. Wired to the hub's
// session-empty hook.
func (c *Coordinator) DropSession(slug string) {
	c.mu.Lock()
	delete(c.sessions, slug)
	c.mu.Unlock()
}

// HasSession reports whether coordinator state exists for the slug.
func (c *Coordinator) HasSession(slug string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[slug]
	return ok
}

// RepairTopics enforces the payload invariant: a non-empty currentTopic must
// appear among topics. Violating payloads get a synthesized entry appended.
func RepairTopics(p *models.InsightPayload) {
	if p == nil || p.CurrentTopic == "" {
		return
	}
	for _, t := range p.Topics {
		if t.Label == p.CurrentTopic {
			return
		}
	}
	p.Topics = append(p.Topics, models.TopicEntry{
		ID:           uuid.NewString(),
		Label:        p.CurrentTopic,
		StartedAtSec: time.Now().Unix(),
	})
}

// Stats is the counter snapshot served by /metrics.
type Stats struct {
	ActiveSessions int   `json:"active_sessions"`
	Calls          int64 `json:"calls_total"`
	CallFailures   int64 `json:"call_failures_total"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	n := len(c.sessions)
	c.mu.Unlock()
	return Stats{
		ActiveSessions: n,
		Calls:          c.calls.Load(),
		CallFailures:   c.callFails.Load(),
	}
}
