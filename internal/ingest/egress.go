package ingest

import (
	"bytes"
	"strings"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"
)

const (
	trackSampleRate  = 48000 // room tracks are Opus at 48kHz
	maxOpusFrame     = 5760  // 120ms at 48kHz, the largest Opus frame
	maxTrackAttempts = 3
	connectAttempts  = 5
)

// egressSession is one session's room connection plus its per-track
// decoders. Per-track PCM accumulates until the mix tick drains, mixes and
// forwards it.
type egressSession struct {
	m   *Manager
	p   *pipeline
	log *logrus.Entry

	mu     sync.Mutex
	tracks map[string]*trackHandle
}

// runEgressMode joins the media room, decodes every published audio track
// and forwards the mixed stream to the vendor on a fixed tick. It blocks
// until the pipeline is stopped.
func (m *Manager) runEgressMode(p *pipeline, log *logrus.Entry) {
	es := &egressSession{
		m:      m,
		p:      p,
		log:    log,
		tracks: make(map[string]*trackHandle),
	}

	room, err := es.connectRoom()
	if err != nil {
		m.failed.Add(1)
		log.WithError(err).Error("room connect failed, transcription unavailable")
		m.hub.SendError(p.slug, ErrCodeTranscriberUnavailable, "could not join the media room")
		return
	}
	defer room.Disconnect()

	log.Info("joined media room")
	es.mixLoop()

	es.mu.Lock()
	handles := make([]*trackHandle, 0, len(es.tracks))
	for _, h := range es.tracks {
		handles = append(handles, h)
	}
	es.tracks = make(map[string]*trackHandle)
	es.mu.Unlock()
	for _, h := range handles {
		h.stop()
	}
}

func (es *egressSession) connectRoom() (*lksdk.Room, error) {
	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   es.onTrackSubscribed,
			OnTrackUnsubscribed: es.onTrackUnsubscribed,
		},
	}

	var room *lksdk.Room
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		room, err = lksdk.ConnectToRoom(es.m.cfg.RoomURL, lksdk.ConnectInfo{
			APIKey:              es.m.cfg.RoomAPIKey,
			APISecret:           es.m.cfg.RoomAPISecret,
			RoomName:            es.p.slug,
			ParticipantIdentity: "transcript-relay",
			ParticipantName:     "Transcript Relay",
		}, cb)
		if err == nil {
			return room, nil
		}
		es.log.WithError(err).WithField("attempt", attempt).Warn("room connect attempt failed")

		select {
		case <-es.p.ctx.Done():
			return nil, es.p.ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, err
}

func (es *egressSession) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	identity := rp.Identity()
	log := es.log.WithField("participant", identity)

	es.mu.Lock()
	if _, exists := es.tracks[identity]; exists {
		es.mu.Unlock()
		log.Warn("track already handled for participant")
		return
	}
	es.mu.Unlock()

	// Transient failures retry with backoff; quota/rate errors abandon the
	// track for transcription rather than blocking the session.
	var h *trackHandle
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= maxTrackAttempts; attempt++ {
		h, err = newTrackHandle(identity)
		if err == nil {
			break
		}
		if isQuotaErr(err) {
			log.WithError(err).Warn("track egress hit quota, abandoning track")
			return
		}
		log.WithError(err).WithField("attempt", attempt).Warn("track egress start failed")
		select {
		case <-es.p.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		log.WithError(err).Error("track egress abandoned after retries")
		return
	}

	es.mu.Lock()
	es.tracks[identity] = h
	es.mu.Unlock()

	es.p.wg.Add(1)
	go func() {
		defer es.p.wg.Done()
		h.readTrack(es.p.ctx.Done(), track, log)
	}()
	log.Info("handling audio track")
}

func (es *egressSession) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	identity := rp.Identity()
	es.mu.Lock()
	h, ok := es.tracks[identity]
	if ok {
		delete(es.tracks, identity)
	}
	es.mu.Unlock()
	if ok {
		h.stop()
		es.log.WithField("participant", identity).Info("audio track removed")
	}
}

// mixLoop drains every track's accumulated PCM on a fixed tick, mixes the
// buffers into one and forwards it. With zero active tracks it just keeps
// ticking until audio appears or the pipeline stops.
func (es *egressSession) mixLoop() {
	t := time.NewTicker(es.m.cfg.MixInterval)
	defer t.Stop()

	for {
		select {
		case <-es.p.ctx.Done():
			return
		case <-t.C:
			es.mu.Lock()
			buffers := make([][]int16, 0, len(es.tracks))
			for _, h := range es.tracks {
				if pcm := h.take(); len(pcm) > 0 {
					buffers = append(buffers, pcm)
				}
			}
			es.mu.Unlock()

			mixed := mixTracks(buffers)
			if len(mixed) == 0 {
				continue
			}
			data := pcmBytes(mixed)
			es.p.record(data)
			if err := es.p.stream.SendAudio(data); err != nil {
				es.log.WithError(err).Warn("vendor stream write failed, stopping audio")
				return
			}
		}
	}
}

func isQuotaErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "quota") || strings.Contains(s, "rate limit") || strings.Contains(s, "resource exhausted")
}

// trackHandle decodes one participant's Opus track to 16kHz PCM.
type trackHandle struct {
	identity string
	decoder  *opus.Decoder

	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer
	resampleMu   sync.Mutex

	mu      sync.Mutex
	pending []int16

	done chan struct{}
	once sync.Once
}

func newTrackHandle(identity string) (*trackHandle, error) {
	decoder, err := opus.NewDecoder(trackSampleRate, 1)
	if err != nil {
		return nil, err
	}

	// The resampler writes into the same buffer we read back from.
	buf := &bytes.Buffer{}
	rs, err := soxr.New(buf, float64(trackSampleRate), float64(sampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, err
	}

	return &trackHandle{
		identity:     identity,
		decoder:      decoder,
		resampler:    rs,
		resamplerBuf: buf,
		done:         make(chan struct{}),
	}, nil
}

func (h *trackHandle) stop() {
	h.once.Do(func() {
		close(h.done)
		h.resampleMu.Lock()
		_ = h.resampler.Close()
		h.resampleMu.Unlock()
	})
}

// take returns and clears the accumulated PCM.
func (h *trackHandle) take() []int16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil
	}
	out := h.pending
	h.pending = nil
	return out
}

func (h *trackHandle) readTrack(stop <-chan struct{}, track *webrtc.TrackRemote, log *logrus.Entry) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	frame48k := make([]int16, maxOpusFrame)

	for {
		select {
		case <-stop:
			return
		case <-h.done:
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.WithError(err).Warn("rtp unmarshal failed")
			continue
		}
		if len(pkt.Payload) == 0 {
			continue // DTX
		}

		samples, err := h.decoder.Decode(pkt.Payload, frame48k)
		if err != nil || samples == 0 {
			continue
		}

		pcm16k, err := h.resampleTo16k(frame48k[:samples])
		if err != nil {
			log.WithError(err).Warn("resample failed")
			continue
		}
		if len(pcm16k) == 0 {
			continue // resampler buffering
		}

		h.mu.Lock()
		h.pending = append(h.pending, pcm16k...)
		h.mu.Unlock()
	}
}

func (h *trackHandle) resampleTo16k(samples []int16) ([]int16, error) {
	h.resampleMu.Lock()
	defer h.resampleMu.Unlock()

	h.resamplerBuf.Reset()
	if _, err := h.resampler.Write(pcmBytes(samples)); err != nil {
		return nil, err
	}
	return pcmSamples(h.resamplerBuf.Bytes()), nil
}
