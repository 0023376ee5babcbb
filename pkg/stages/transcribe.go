package stages

import (
	"context"
	"log/slog"
	"path"

	"github.com/carelane/voiceworker/pkg/core"
)

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Transcribe produces the transcript for a message, preferring the stored
// blob over a fresh provider download. A text-only message uses its body as
// the transcript directly.
type Transcribe struct {
	blobs       AudioBlobStore
	media       MediaDownloader
	transcriber Transcriber
	logger      *slog.Logger
}

// NewTranscribe creates the TRANSCRIBED stage processor.
func NewTranscribe(blobs AudioBlobStore, media MediaDownloader, transcriber Transcriber, logger *slog.Logger) *Transcribe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcribe{blobs: blobs, media: media, transcriber: transcriber, logger: logger}
}

func (s *Transcribe) Process(ctx context.Context, msg *core.Message) (map[string]any, error) {
	if msg.TranscriptText != "" {
		s.logger.Debug("transcript already present", "message_sid", msg.MessageSid)
		return map[string]any{"transcript_text": msg.TranscriptText}, nil
	}

	audio, filename, err := s.loadAudio(ctx, msg)
	if err != nil {
		return nil, err
	}
	if audio == nil {
		if msg.Body == "" {
			return nil, core.Terminal(core.ErrNoAudioSource)
		}
		msg.TranscriptText = msg.Body
		return map[string]any{"transcript_text": msg.Body}, nil
	}

	text, err := s.transcriber.Transcribe(ctx, filename, audio)
	if err != nil {
		return nil, err
	}

	msg.TranscriptText = text
	return map[string]any{"transcript_text": text}, nil
}

// loadAudio returns the audio bytes and a filename carrying the container
// extension, or nil audio when the message has no audio source at all.
func (s *Transcribe) loadAudio(ctx context.Context, msg *core.Message) ([]byte, string, error) {
	if msg.MediaBlobID != "" {
		data, err := s.blobs.Download(ctx, msg.MediaBlobID)
		if err != nil {
			return nil, "", err
		}
		return data, path.Base(msg.MediaBlobID), nil
	}
	if msg.MediaURL != "" {
		data, _, err := s.media.Download(ctx, msg.MediaURL)
		if err != nil {
			return nil, "", err
		}
		return data, msg.MessageSid + ".ogg", nil
	}
	return nil, "", nil
}
