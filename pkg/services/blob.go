package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/carelane/voiceworker/pkg/core"
)

// audioExtensions maps media content types to object key extensions.
var audioExtensions = map[string]string{
	"audio/ogg":  ".ogg",
	"audio/opus": ".opus",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/amr":  ".amr",
	"audio/wav":  ".wav",
	"audio/webm": ".webm",
}

// BlobStore persists message audio in an S3-compatible bucket. Object keys
// are derived from the message sid alone so a replayed upload lands on the
// same object.
type BlobStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// BlobConfig holds the bucket connection settings.
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewBlobStore connects to the bucket endpoint.
func NewBlobStore(cfg BlobConfig, logger *slog.Logger) (*BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (b *BlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return core.Hard(fmt.Errorf("check bucket: %w", err))
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return core.Hard(fmt.Errorf("create bucket: %w", err))
	}
	return nil
}

// ObjectKey returns the deterministic object key for a message's audio.
// The key depends only on the agency and message identity, so replays of
// the stage always target the same object.
func (b *BlobStore) ObjectKey(agencyID, messageSid, contentType string) string {
	ext, ok := audioExtensions[normalizeContentType(contentType)]
	if !ok {
		ext = ".bin"
	}
	if agencyID == "" {
		agencyID = "unassigned"
	}
	return "voice-messages/" + agencyID + "/" + messageSid + ext
}

// Upload stores the audio under the message's deterministic key. If the
// object already exists non-empty the upload is skipped and the existing
// key returned, keeping stage replays write-once.
func (b *BlobStore) Upload(ctx context.Context, agencyID, messageSid, contentType string, data []byte) (string, error) {
	key := b.ObjectKey(agencyID, messageSid, contentType)

	if stat, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err == nil && stat.Size > 0 {
		b.logger.Debug("audio object already stored", "key", key)
		return key, nil
	} else if err != nil && !isNotFound(err) {
		return "", core.Hard(fmt.Errorf("stat audio object: %w", err))
	}

	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: normalizeContentType(contentType)})
	if err != nil {
		return "", core.Hard(fmt.Errorf("upload audio object: %w", err))
	}
	return key, nil
}

// Download fetches a stored audio object.
func (b *BlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, core.Hard(fmt.Errorf("get audio object: %w", err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("audio object %q missing", key)
		}
		return nil, core.Hard(fmt.Errorf("read audio object: %w", err))
	}
	return data, nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == 404
	}
	return false
}
