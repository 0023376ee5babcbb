package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/carelane/voiceworker/pkg/core"
)

// completePendingDocPath is the callback endpoint that finalizes a pending
// care document in the main application.
const completePendingDocPath = "/api/external/complete-pending-doc"

// DocAPIClient delivers finished documentation records to the main
// application's completion endpoint. Requests carry an HMAC signature over
// method, path, timestamp and API key; the limiter keeps a draining worker
// from hammering the endpoint.
type DocAPIClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
}

// NewDocAPIClient creates a completion callback client.
func NewDocAPIClient(baseURL, apiKey, apiSecret string) *DocAPIClient {
	return &DocAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		retry:      DefaultRetryConfig(),
	}
}

// sign computes the request signature for the given unix-millisecond
// timestamp.
func (c *DocAPIClient) sign(method, path string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	fmt.Fprintf(mac, "%s:%s:%d:%s", method, path, timestamp, c.apiKey)
	return hex.EncodeToString(mac.Sum(nil))
}

// CompletePendingDoc posts the finished record. Server errors and rate
// limiting retry locally and then classify hard; any other rejection is
// terminal because the same signed payload will never be accepted.
func (c *DocAPIClient) CompletePendingDoc(ctx context.Context, payload *core.CompletionPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.Terminal(fmt.Errorf("encode completion payload: %w", err))
	}

	return retryWithBackoff(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("completion rate limiter: %w", err)
		}

		timestamp := time.Now().UnixMilli()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+completePendingDocPath, bytes.NewReader(body))
		if err != nil {
			return core.Terminal(fmt.Errorf("build completion request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("x-timestamp", strconv.FormatInt(timestamp, 10))
		req.Header.Set("x-signature", c.sign(http.MethodPost, completePendingDocPath, timestamp))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return core.Hard(fmt.Errorf("completion request: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return core.Hard(fmt.Errorf("completion request: status %d", resp.StatusCode))
		default:
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return core.Terminal(fmt.Errorf("completion rejected: status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(detail))))
		}
	})
}
