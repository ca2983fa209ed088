package stt

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GoogleSpeech is the alternate provider: a bidirectional streaming
// recognize call instead of the realtime vendor websocket. Utterance ids
// are synthesized locally since the API only marks result finality.
type GoogleSpeech struct {
	c   *speech.Client
	log *logrus.Entry
}

func NewGoogleSpeech(ctx context.Context, log *logrus.Logger) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{c: c, log: log.WithField("component", "stt")}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	language := cfg.Language
	if language == "" {
		language = "en-US"
	}

	stream, err := g.c.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(cfg.SampleRate),
					AudioChannelCount:          1,
					LanguageCode:               language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("streaming config: %w", err)
	}

	s := &googleStream{
		stream: stream,
		events: make(chan TranscriptEvent, 64),
		errs:   make(chan error, 8),
		log:    g.log.WithField("session", cfg.SessionSlug),
	}
	go s.recvLoop()
	return s, nil
}

type googleStream struct {
	stream    speechpb.Speech_StreamingRecognizeClient
	sendMu    sync.Mutex
	events    chan TranscriptEvent
	errs      chan error
	log       *logrus.Entry
	closeOnce sync.Once
}

func (s *googleStream) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	})
}

func (s *googleStream) Events() <-chan TranscriptEvent { return s.events }
func (s *googleStream) Errs() <-chan error             { return s.errs }

func (s *googleStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		err = s.stream.CloseSend()
		s.sendMu.Unlock()
	})
	return err
}

func (s *googleStream) recvLoop() {
	defer close(s.events)
	defer close(s.errs)

	utteranceID := uuid.NewString()
	startedAt := time.Time{}

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case s.errs <- err:
			default:
			}
			return
		}
		if e := resp.GetError(); e != nil {
			select {
			case s.errs <- fmt.Errorf("vendor error: %s", e.GetMessage()):
			default:
			}
			continue
		}

		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 || alts[0].GetTranscript() == "" {
				continue
			}
			if startedAt.IsZero() {
				startedAt = time.Now().UTC()
			}
			ev := TranscriptEvent{
				UtteranceID: utteranceID,
				Text:        alts[0].GetTranscript(),
				IsFinal:     result.GetIsFinal(),
				StartedAt:   startedAt,
			}
			if result.GetIsFinal() {
				now := time.Now().UTC()
				ev.EndedAt = &now
				utteranceID = uuid.NewString()
				startedAt = time.Time{}
			}
			select {
			case s.events <- ev:
			default:
				s.log.Warn("transcript event dropped, consumer too slow")
			}
		}
	}
}
