package ingest

import (
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// pcmChunkBytes is 100ms of 16-bit mono PCM at 16kHz.
const pcmChunkBytes = sampleRate * 2 / 10

// runStreamMode spawns one external decoder process for the session's media
// stream and forwards its PCM output to the vendor stream. The decoder
// reconnects on a fixed interval while the stream is not publishing yet, so
// a session with no audio keeps polling instead of failing.
func (m *Manager) runStreamMode(p *pipeline, log *logrus.Entry) {
	decoderPath, err := exec.LookPath(m.cfg.DecoderPath)
	if err != nil {
		// Degrade: this session gets no transcription, nothing else is affected.
		m.failed.Add(1)
		log.WithError(err).Error("decoder binary not found, transcription unavailable")
		m.hub.SendError(p.slug, ErrCodeTranscriberUnavailable, "audio decoder is not installed")
		return
	}

	streamURL := m.cfg.StreamBaseURL + "/" + p.slug

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		gotAudio, err := m.decodeOnce(p, decoderPath, streamURL, log)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Debug("decode pass ended")
		}
		if gotAudio {
			// Stream ended after producing audio; treat as stream end and retry
			// in case the publisher comes back.
			log.Info("media stream ended, waiting for publisher")
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(m.cfg.StreamRetryWait):
		}
	}
}

// decodeOnce runs one decoder process to completion, forwarding PCM chunks
// as they arrive. Returns whether any audio was decoded.
func (m *Manager) decodeOnce(p *pipeline, decoderPath, streamURL string, log *logrus.Entry) (bool, error) {
	cmd := exec.CommandContext(p.ctx, decoderPath,
		"-loglevel", "error",
		"-i", streamURL,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		"-f", "s16le",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, err
	}
	if err := cmd.Start(); err != nil {
		return false, err
	}

	gotAudio := false
	buf := make([]byte, pcmChunkBytes)
	for {
		n, rerr := io.ReadFull(stdout, buf)
		if n > 0 {
			gotAudio = true
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.record(chunk)
			if serr := p.stream.SendAudio(chunk); serr != nil {
				// Vendor side is gone; stop feeding it.
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return gotAudio, serr
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
				log.WithError(rerr).Warn("decoder pipe read failed")
			}
			break
		}
	}

	return gotAudio, cmd.Wait()
}
