package stages

import (
	"context"
	"log/slog"

	"github.com/carelane/voiceworker/pkg/core"
)

// MediaDownloader fetches message audio from the telephony provider.
type MediaDownloader interface {
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// AudioBlobStore persists and retrieves audio objects.
type AudioBlobStore interface {
	Upload(ctx context.Context, agencyID, messageSid, contentType string, data []byte) (key string, err error)
	Download(ctx context.Context, key string) ([]byte, error)
}

// AudioStore downloads the provider audio and copies it into durable blob
// storage so later attempts do not depend on the provider retaining it.
type AudioStore struct {
	media  MediaDownloader
	blobs  AudioBlobStore
	logger *slog.Logger
}

// NewAudioStore creates the AUDIO_STORED stage processor.
func NewAudioStore(media MediaDownloader, blobs AudioBlobStore, logger *slog.Logger) *AudioStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioStore{media: media, blobs: blobs, logger: logger}
}

func (s *AudioStore) Process(ctx context.Context, msg *core.Message) (map[string]any, error) {
	if msg.MediaBlobID != "" {
		s.logger.Debug("audio already stored", "message_sid", msg.MessageSid, "blob_id", msg.MediaBlobID)
		return map[string]any{"media_blob_id": msg.MediaBlobID}, nil
	}
	if msg.MediaURL == "" {
		if msg.Body != "" {
			// Text-only message; nothing to store.
			return nil, nil
		}
		return nil, core.Terminal(core.ErrNoAudioSource)
	}

	data, contentType, err := s.media.Download(ctx, msg.MediaURL)
	if err != nil {
		return nil, err
	}
	key, err := s.blobs.Upload(ctx, msg.AgencyID, msg.MessageSid, contentType, data)
	if err != nil {
		return nil, err
	}

	msg.MediaBlobID = key
	return map[string]any{"media_blob_id": key}, nil
}
