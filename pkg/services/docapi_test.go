package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelane/voiceworker/pkg/core"
)

func newTestDocClient(baseURL string) *DocAPIClient {
	c := NewDocAPIClient(baseURL, "api-key", "api-secret")
	c.retry = fastRetry(3)
	return c
}

func samplePayload() *core.CompletionPayload {
	return &core.CompletionPayload{
		MessageSid:   "SM-1",
		AgencyID:     "agency-1",
		ServiceDate:  "2025-06-01",
		RawContent:   "Besuch bei Frau Schmidt",
		SenderNumber: "+4915112345678",
	}
}

func TestCompletePendingDocSignsRequest(t *testing.T) {
	var got struct {
		apiKey    string
		timestamp string
		signature string
		body      core.CompletionPayload
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.apiKey = r.Header.Get("x-api-key")
		got.timestamp = r.Header.Get("x-timestamp")
		got.signature = r.Header.Get("x-signature")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		assert.Equal(t, completePendingDocPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestDocClient(srv.URL)
	require.NoError(t, c.CompletePendingDoc(context.Background(), samplePayload()))

	assert.Equal(t, "api-key", got.apiKey)
	assert.Equal(t, "SM-1", got.body.MessageSid)

	ts, err := strconv.ParseInt(got.timestamp, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().UnixMilli(), ts, float64(5*time.Second/time.Millisecond))

	mac := hmac.New(sha256.New, []byte("api-secret"))
	fmt.Fprintf(mac, "POST:%s:%d:api-key", completePendingDocPath, ts)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got.signature)
}

func TestCompletePendingDocRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestDocClient(srv.URL)
	require.NoError(t, c.CompletePendingDoc(context.Background(), samplePayload()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompletePendingDocServerErrorIsHardAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestDocClient(srv.URL)
	err := c.CompletePendingDoc(context.Background(), samplePayload())

	require.Error(t, err)
	assert.True(t, core.IsHard(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompletePendingDocRejectionIsTerminalWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown agency", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestDocClient(srv.URL)
	err := c.CompletePendingDoc(context.Background(), samplePayload())

	require.Error(t, err)
	assert.True(t, core.IsTerminal(err))
	assert.Contains(t, err.Error(), "unknown agency")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSignIsDeterministic(t *testing.T) {
	c := NewDocAPIClient("https://app.internal", "key", "secret")
	a := c.sign("POST", completePendingDocPath, 1748800000000)
	b := c.sign("POST", completePendingDocPath, 1748800000000)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c.sign("POST", completePendingDocPath, 1748800000001))
}
