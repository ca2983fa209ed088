package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Realtime talks to the streaming vendor: an HTTP call initiates a session
// and returns a streaming endpoint, then one persistent websocket per
// session carries PCM up and transcript events down.
type Realtime struct {
	apiKey     string
	sessionURL string
	httpc      *http.Client
	log        *logrus.Entry
}

func NewRealtime(apiKey, sessionURL string, log *logrus.Logger) *Realtime {
	return &Realtime{
		apiKey:     apiKey,
		sessionURL: sessionURL,
		httpc:      &http.Client{Timeout: 15 * time.Second},
		log:        log.WithField("component", "stt"),
	}
}

func (p *Realtime) Close() error { return nil }

type sessionInitRequest struct {
	Session        string `json:"session"`
	Encoding       string `json:"encoding"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	EnablePartials bool   `json:"enable_partials"`
	Language       string `json:"language,omitempty"`
}

type sessionInitResponse struct {
	StreamURL string `json:"stream_url"`
	Token     string `json:"token"`
}

func (p *Realtime) OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	body, _ := json.Marshal(sessionInitRequest{
		Session:        cfg.SessionSlug,
		Encoding:       "pcm_s16le",
		SampleRate:     cfg.SampleRate,
		Channels:       1,
		EnablePartials: true,
		Language:       cfg.Language,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sessionURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stt session init: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("stt session init: status %d: %s", resp.StatusCode, string(b))
	}

	var init sessionInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&init); err != nil {
		return nil, fmt.Errorf("stt session init: decode: %w", err)
	}
	if init.StreamURL == "" {
		return nil, fmt.Errorf("stt session init: empty stream url")
	}

	header := http.Header{}
	if init.Token != "" {
		header.Set("Authorization", "Bearer "+init.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, init.StreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("stt stream dial: %w", err)
	}

	s := &realtimeStream{
		conn:   conn,
		events: make(chan TranscriptEvent, 64),
		errs:   make(chan error, 8),
		log:    p.log.WithField("session", cfg.SessionSlug),
	}
	go s.readLoop()
	return s, nil
}

type realtimeStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	events    chan TranscriptEvent
	errs      chan error
	log       *logrus.Entry
	closeOnce sync.Once
}

func (s *realtimeStream) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *realtimeStream) Events() <-chan TranscriptEvent { return s.events }
func (s *realtimeStream) Errs() <-chan error             { return s.errs }

func (s *realtimeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"message_type":"terminate"}`))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// vendorMessage is the tagged envelope the vendor sends. Finality has been
// observed both top-level and nested under metadata, depending on message
// shape; decodeFinality treats any ambiguity as non-final.
type vendorMessage struct {
	MessageType string `json:"message_type"`
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
	IsFinal     *bool  `json:"is_final"`
	Metadata    *struct {
		Final *bool `json:"final"`
	} `json:"metadata"`
	AudioStartMs int64  `json:"audio_start_ms"`
	AudioEndMs   int64  `json:"audio_end_ms"`
	Error        string `json:"error"`
}

func (s *realtimeStream) readLoop() {
	defer close(s.events)
	defer close(s.errs)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// normal teardown or vendor hangup; producers stop on channel close
			return
		}

		var msg vendorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.WithError(err).Warn("undecodable vendor message")
			continue
		}

		switch msg.MessageType {
		case "session_started":
			s.log.Debug("vendor session started")
		case "transcript":
			ev, ok := transcriptEventFrom(msg)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			default:
				s.log.Warn("transcript event dropped, consumer too slow")
			}
		case "error":
			select {
			case s.errs <- fmt.Errorf("vendor error: %s", msg.Error):
			default:
			}
		default:
			s.log.WithField("message_type", msg.MessageType).Debug("ignoring vendor message")
		}
	}
}

// transcriptEventFrom maps a vendor transcript message to a normalized
// event. Messages without utterance text are dropped.
func transcriptEventFrom(msg vendorMessage) (TranscriptEvent, bool) {
	if msg.Text == "" || msg.UtteranceID == "" {
		return TranscriptEvent{}, false
	}
	ev := TranscriptEvent{
		UtteranceID: msg.UtteranceID,
		Text:        msg.Text,
		IsFinal:     decodeFinality(msg),
		StartedAt:   time.UnixMilli(msg.AudioStartMs).UTC(),
	}
	if msg.AudioEndMs > 0 {
		t := time.UnixMilli(msg.AudioEndMs).UTC()
		ev.EndedAt = &t
	}
	return ev, true
}

// decodeFinality fails closed: a message is final only when every finality
// field present says so. Conflicting or absent fields mean non-final.
func decodeFinality(msg vendorMessage) bool {
	fields := make([]bool, 0, 2)
	if msg.IsFinal != nil {
		fields = append(fields, *msg.IsFinal)
	}
	if msg.Metadata != nil && msg.Metadata.Final != nil {
		fields = append(fields, *msg.Metadata.Final)
	}
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !f {
			return false
		}
	}
	return true
}
