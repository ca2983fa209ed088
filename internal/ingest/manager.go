package ingest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomcast/transcript-relay/internal/batch"
	"github.com/roomcast/transcript-relay/internal/providers/stt"
	"github.com/roomcast/transcript-relay/internal/registry"
	"github.com/roomcast/transcript-relay/internal/storage"
)

const (
	sampleRate  = 16000
	maxRecBytes = 64 << 20 // recording buffer cap per session
)

// Error codes surfaced to subscribers as transcription_error frames.
const (
	ErrCodeTranscriberUnavailable = "transcriber_unavailable"
	ErrCodeVendorFailed           = "stt_vendor_failed"
)

// Modes.
const (
	ModeStream = "stream"
	ModeEgress = "egress"
)

type Config struct {
	Mode            string
	DecoderPath     string        // external decoder binary (stream mode)
	StreamBaseURL   string        // rtmp base; the session slug is appended
	StreamRetryWait time.Duration // wait between connect attempts while no audio
	MixInterval     time.Duration // egress mix/flush tick
	RoomURL         string
	RoomAPIKey      string
	RoomAPISecret   string
	Language        string
}

// Broadcaster is the slice of the registry hub the pipeline publishes
// through.
type Broadcaster interface {
	Broadcast(slug string, payload any)
	SendError(slug, code, message string)
}

// Enqueuer is the durable-write side.
type Enqueuer interface {
	Enqueue(seg batch.PendingSegment)
}

// FinalObserver receives finalized transcripts (the AI coordinator).
type FinalObserver interface {
	OnFinalTranscript(slug, text, utteranceID string)
}

// pipeline is one session's ingest state: the audio producer, the vendor
// stream and the event pump.
type pipeline struct {
	sessionID string
	slug      string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	stream stt.Stream

	recMu  sync.Mutex
	recBuf bytes.Buffer
}

func (p *pipeline) record(pcm []byte) {
	p.recMu.Lock()
	if p.recBuf.Len()+len(pcm) <= maxRecBytes {
		p.recBuf.Write(pcm)
	}
	p.recMu.Unlock()
}

// Manager owns one pipeline per active session. Start is asynchronous and
// idempotent; Stop tears the decode process / room connection and the
// vendor stream down before the session's resources are considered
// released.
type Manager struct {
	cfg      Config
	provider stt.Provider
	hub      Broadcaster
	queue    Enqueuer
	insights FinalObserver
	recorder storage.Uploader // optional
	log      *logrus.Entry

	mu        sync.Mutex
	pipelines map[string]*pipeline // keyed by session id
	accepting atomic.Bool

	started atomic.Int64
	stopped atomic.Int64
	failed  atomic.Int64
}

func NewManager(cfg Config, provider stt.Provider, hub Broadcaster, queue Enqueuer, insights FinalObserver, recorder storage.Uploader, log *logrus.Logger) *Manager {
	if cfg.StreamRetryWait <= 0 {
		cfg.StreamRetryWait = 2 * time.Second
	}
	if cfg.MixInterval <= 0 {
		cfg.MixInterval = 200 * time.Millisecond
	}
	m := &Manager{
		cfg:       cfg,
		provider:  provider,
		hub:       hub,
		queue:     queue,
		insights:  insights,
		recorder:  recorder,
		log:       log.WithField("component", "ingest"),
		pipelines: make(map[string]*pipeline),
	}
	m.accepting.Store(true)
	return m
}

// Start sets up the session's pipeline asynchronously. Calling it for a
// session that already has one is a no-op.
func (m *Manager) Start(sessionID, slug string) error {
	if !m.accepting.Load() {
		return fmt.Errorf("ingest is shutting down")
	}

	m.mu.Lock()
	if _, ok := m.pipelines[sessionID]; ok {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{sessionID: sessionID, slug: slug, ctx: ctx, cancel: cancel}
	m.pipelines[sessionID] = p
	m.mu.Unlock()

	m.started.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		m.setup(p)
	}()
	return nil
}

func (m *Manager) setup(p *pipeline) {
	log := m.log.WithFields(logrus.Fields{"session": p.slug, "session_id": p.sessionID})

	stream, err := m.provider.OpenStream(p.ctx, stt.StreamConfig{
		SessionSlug: p.slug,
		SampleRate:  sampleRate,
		Language:    m.cfg.Language,
	})
	if err != nil {
		m.failed.Add(1)
		log.WithError(err).Error("vendor stream open failed")
		m.hub.SendError(p.slug, ErrCodeVendorFailed, "transcription is unavailable for this session")
		return
	}
	p.stream = stream

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		m.pumpEvents(p)
	}()

	switch m.cfg.Mode {
	case ModeEgress:
		m.runEgressMode(p, log)
	default:
		m.runStreamMode(p, log)
	}
}

// pumpEvents fans vendor events out and feeds the durable queue and the AI
// coordinator. It exits when the vendor closes the stream.
func (m *Manager) pumpEvents(p *pipeline) {
	events := p.stream.Events()
	errs := p.stream.Errs()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.hub.Broadcast(p.slug, registry.TranscriptFrame{
				Type:        registry.FrameTranscription,
				SessionSlug: p.slug,
				UtteranceID: ev.UtteranceID,
				Text:        ev.Text,
				IsFinal:     ev.IsFinal,
				StartedAt:   ev.StartedAt,
				EndedAt:     ev.EndedAt,
			})
			if ev.IsFinal {
				m.queue.Enqueue(batch.PendingSegment{
					SessionSlug: p.slug,
					UtteranceID: ev.UtteranceID,
					Text:        ev.Text,
					StartedAt:   ev.StartedAt,
					EndedAt:     ev.EndedAt,
				})
				m.insights.OnFinalTranscript(p.slug, ev.Text, ev.UtteranceID)
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			m.log.WithError(err).WithField("session", p.slug).Warn("vendor reported error")
			m.hub.SendError(p.slug, ErrCodeVendorFailed, err.Error())
		case <-p.ctx.Done():
			return
		}
	}
}

// Stop tears a session's pipeline down. Idempotent.
func (m *Manager) Stop(sessionID string) {
	m.mu.Lock()
	p, ok := m.pipelines[sessionID]
	if ok {
		delete(m.pipelines, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.stopped.Add(1)
	p.cancel()
	if p.stream != nil {
		_ = p.stream.Close()
	}
	p.wg.Wait()
	m.uploadRecording(p)
	m.log.WithField("session", p.slug).Info("pipeline stopped")
}

// StopBySlug stops whatever pipeline serves the slug. Wired to the hub's
// session-empty hook.
func (m *Manager) StopBySlug(slug string) {
	m.mu.Lock()
	var id string
	for sessionID, p := range m.pipelines {
		if p.slug == slug {
			id = sessionID
			break
		}
	}
	m.mu.Unlock()
	if id != "" {
		m.Stop(id)
	}
}

// Shutdown stops accepting new sessions and tears down every pipeline.
func (m *Manager) Shutdown() {
	m.accepting.Store(false)

	m.mu.Lock()
	ids := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

func (m *Manager) uploadRecording(p *pipeline) {
	if m.recorder == nil {
		return
	}
	p.recMu.Lock()
	data := p.recBuf.Bytes()
	p.recMu.Unlock()
	if len(data) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	name := fmt.Sprintf("recordings/%s/%s.pcm", p.slug, p.sessionID)
	if _, err := m.recorder.Upload(ctx, name, "application/octet-stream", bytes.NewReader(data)); err != nil {
		m.log.WithError(err).WithField("session", p.slug).Error("recording upload failed")
		return
	}
	m.log.WithFields(logrus.Fields{"session": p.slug, "bytes": len(data)}).Info("recording uploaded")
}

// Stats is the counter snapshot served by /metrics.
type Stats struct {
	ActivePipelines int   `json:"active_pipelines"`
	Started         int64 `json:"started_total"`
	Stopped         int64 `json:"stopped_total"`
	Failed          int64 `json:"failed_total"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	n := len(m.pipelines)
	m.mu.Unlock()
	return Stats{
		ActivePipelines: n,
		Started:         m.started.Load(),
		Stopped:         m.stopped.Load(),
		Failed:          m.failed.Load(),
	}
}
