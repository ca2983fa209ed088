package registry

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// HubConfig carries the registry tunables.
type HubConfig struct {
	MaxQueueSize   int           // per-session fan-out queue bound
	DedupCap       int           // per-session seen-final set bound
	PingInterval   time.Duration // heartbeat ping interval
	MaxMissedPongs int           // missed pongs before forced closure
}

func (c *HubConfig) applyDefaults() {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.DedupCap <= 0 {
		c.DedupCap = 1000
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = 3
	}
}

// session is the per-slug fan-out state: the live subscribers, the bounded
// FIFO payload queue, and the seen-final set. It exists only while the
// session has at least one subscriber.
type session struct {
	slug    string
	clients map[*Client]struct{}
	queue   []any
	seen    *seenSet
	wake    chan struct{}
	done    chan struct{}
}

// Hub maps session slugs to live subscriber channels and runs the
// per-session fan-out queues. All map state is guarded by mu; payload
// delivery happens on a per-session drain goroutine so Broadcast never
// blocks the event source.
type Hub struct {
	cfg HubConfig
	log *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	onEmpty []func(slug string)

	delivered   atomic.Int64
	dropped     atomic.Int64
	dupSkipped  atomic.Int64
	deadEvicted atomic.Int64
}

func NewHub(cfg HubConfig, log *logrus.Logger) *Hub {
	cfg.applyDefaults()
	return &Hub{
		cfg:      cfg,
		log:      log.WithField("component", "registry"),
		sessions: make(map[string]*session),
	}
}

// OnSessionEmpty registers a hook fired (asynchronously) after the last
// subscriber of a session is unregistered. Must be called before the hub is
// serving traffic.
func (h *Hub) OnSessionEmpty(fn func(slug string)) {
	h.onEmpty = append(h.onEmpty, fn)
}

// Register adds a subscriber channel to a session, creating the session's
// fan-out state on first subscribe. The hub owns the client until
// Unregister.
func (h *Hub) Register(slug string, c *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.CloseWithCode(websocket.CloseGoingAway, "shutting down")
		return
	}
	s, ok := h.sessions[slug]
	if !ok {
		s = &session{
			slug:    slug,
			clients: make(map[*Client]struct{}),
			seen:    newSeenSet(h.cfg.DedupCap),
			wake:    make(chan struct{}, 1),
			done:    make(chan struct{}),
		}
		h.sessions[slug] = s
		go h.drainLoop(s)
	}
	s.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.heartbeat(slug, c)
	h.log.WithFields(logrus.Fields{"session": slug, "user_id": c.UserID}).Info("subscriber registered")
}

// Unregister removes a subscriber. Removing the last subscriber deletes the
// session's queue and dedup set and fires the empty hooks.
func (h *Hub) Unregister(slug string, c *Client) {
	h.mu.Lock()
	s, ok := h.sessions[slug]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := s.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(s.clients, c)
	empty := len(s.clients) == 0
	if empty {
		delete(h.sessions, slug)
		close(s.done)
	}
	h.mu.Unlock()

	c.CloseWithCode(websocket.CloseNormalClosure, "")

	if empty {
		h.log.WithField("session", slug).Info("last subscriber left, session state deleted")
		for _, fn := range h.onEmpty {
			go fn(slug)
		}
	}
}

// Broadcast queues a payload for every subscriber of the session. It never
// blocks: final transcripts already seen are dropped, the queue is bounded
// with drop-oldest overflow, and delivery happens on the session's drain
// goroutine. Broadcasting to a session with no subscribers is a no-op.
func (h *Hub) Broadcast(slug string, payload any) {
	h.mu.Lock()
	s, ok := h.sessions[slug]
	if !ok {
		h.mu.Unlock()
		return
	}

	if tf, ok := payload.(TranscriptFrame); ok && tf.IsFinal {
		if s.seen.observe(tf.UtteranceID) {
			h.mu.Unlock()
			h.dupSkipped.Add(1)
			return
		}
	}

	s.queue = append(s.queue, payload)
	if len(s.queue) > h.cfg.MaxQueueSize {
		over := len(s.queue) - h.cfg.MaxQueueSize
		s.queue = s.queue[over:]
		h.dropped.Add(int64(over))
	}
	h.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SendError fans out a typed transcription_error frame.
func (h *Hub) SendError(slug, code, message string) {
	h.Broadcast(slug, ErrorFrame{
		Type:        FrameTranscriptionError,
		SessionSlug: slug,
		Code:        code,
		Message:     message,
	})
}

// drainLoop delivers queued payloads one at a time: pop, serialize once,
// write to every subscriber. A failed write marks only that subscriber
// dead; dead subscribers are unregistered after the pass.
func (h *Hub) drainLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			select {
			case <-s.done:
				return
			default:
			}

			h.mu.Lock()
			if len(s.queue) == 0 {
				h.mu.Unlock()
				break
			}
			payload := s.queue[0]
			s.queue = s.queue[1:]
			targets := make([]*Client, 0, len(s.clients))
			for c := range s.clients {
				targets = append(targets, c)
			}
			h.mu.Unlock()

			data, err := json.Marshal(payload)
			if err != nil {
				h.log.WithError(err).WithField("session", s.slug).Warn("unserializable payload dropped")
				continue
			}

			var dead []*Client
			for _, c := range targets {
				if err := c.send(data); err != nil {
					dead = append(dead, c)
					continue
				}
				h.delivered.Add(1)
			}
			for _, c := range dead {
				h.deadEvicted.Add(1)
				h.log.WithFields(logrus.Fields{"session": s.slug, "user_id": c.UserID}).Warn("dead subscriber evicted after write failure")
				h.Unregister(s.slug, c)
			}
		}
	}
}

// heartbeat pings the client on a fixed interval and forces closure after
// MaxMissedPongs consecutive silent intervals.
func (h *Hub) heartbeat(slug string, c *Client) {
	t := time.NewTicker(h.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if int(c.missedPongs.Add(1)) >= h.cfg.MaxMissedPongs {
				c.CloseWithCode(CloseCodeHeartbeatTimeout, "heartbeat timeout")
				h.Unregister(slug, c)
				return
			}
			if err := c.ping(); err != nil {
				h.Unregister(slug, c)
				return
			}
		}
	}
}

// Close tears down every session and subscriber, used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		close(s.done)
		for c := range s.clients {
			c.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
		}
	}
}

// Stats is the counter snapshot served by /metrics.
type Stats struct {
	ActiveSessions    int   `json:"active_sessions"`
	ActiveSubscribers int   `json:"active_subscribers"`
	QueueDepth        int   `json:"queue_depth"`
	Delivered         int64 `json:"delivered_total"`
	Dropped           int64 `json:"dropped_total"`
	DuplicatesSkipped int64 `json:"duplicates_skipped_total"`
	DeadEvicted       int64 `json:"dead_evicted_total"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	st := Stats{ActiveSessions: len(h.sessions)}
	for _, s := range h.sessions {
		st.ActiveSubscribers += len(s.clients)
		st.QueueDepth += len(s.queue)
	}
	h.mu.Unlock()

	st.Delivered = h.delivered.Load()
	st.Dropped = h.dropped.Load()
	st.DuplicatesSkipped = h.dupSkipped.Load()
	st.DeadEvicted = h.deadEvicted.Load()
	return st
}

// HasSession reports whether the slug currently has fan-out state (i.e. at
// least one subscriber).
func (h *Hub) HasSession(slug string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[slug]
	return ok
}
