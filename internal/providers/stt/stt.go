package stt

import (
	"context"
	"time"
)

// TranscriptEvent is one normalized vendor transcript update. Multiple
// non-final events share an UtteranceID before the final one for that
// segment arrives; vendors may occasionally re-send the final, so consumers
// must dedup on (session, utterance id).
type TranscriptEvent struct {
	UtteranceID string
	Text        string
	IsFinal     bool
	StartedAt   time.Time
	EndedAt     *time.Time
}

// StreamConfig declares the audio the stream will carry: 16-bit PCM, mono,
// SampleRate Hz, partials enabled.
type StreamConfig struct {
	SessionSlug string
	SampleRate  int
	Language    string
}

// Stream is one live vendor connection for one session. Events closes when
// the vendor connection is gone so attached audio producers stop sending.
type Stream interface {
	SendAudio(pcm []byte) error
	Events() <-chan TranscriptEvent
	Errs() <-chan error
	Close() error
}

// Provider opens vendor streams.
type Provider interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error)
	Close() error
}
