package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carelane/voiceworker/pkg/core"
)

// MediaClient downloads message audio from the telephony provider's media
// host using basic auth account credentials.
type MediaClient struct {
	accountSid string
	authToken  string
	httpClient *http.Client
}

// NewMediaClient creates a media downloader.
func NewMediaClient(accountSid, authToken string) *MediaClient {
	return &MediaClient{
		accountSid: accountSid,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Download fetches the media at url and returns its bytes and content type.
// Provider-side server errors are classified hard; a definitive client
// rejection is terminal since the same request will never succeed.
func (c *MediaClient) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSid, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", core.Hard(fmt.Errorf("media download: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", core.Hard(fmt.Errorf("media download: status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", core.Terminal(fmt.Errorf("media no longer available: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("media download: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", core.Hard(fmt.Errorf("media download read: %w", err))
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("media download: empty body")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/ogg"
	}
	return body, contentType, nil
}
