// Package config loads worker settings from the environment. Required
// settings are validated up front so a misconfigured worker fails at
// startup instead of mid-queue.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds every setting the worker process reads.
type Config struct {
	DatabaseURL string

	WorkerID string
	// Mode gates claiming. Anything other than "active" leaves the worker
	// idling with heartbeats only.
	Mode    string
	Version string

	BatchSize    int
	PollInterval time.Duration
	LeaseTime    time.Duration
	MaxAttempts  int

	HeartbeatInterval time.Duration
	FailureWindow     time.Duration
	FailureThreshold  int

	// ReclaimSchedule is a cron spec for the expired-lease sweep.
	ReclaimSchedule string
	ReclaimGrace    time.Duration

	OpenAIKey string

	MediaAccountSid string
	MediaAuthToken  string

	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool

	CallbackURL    string
	CallbackKey    string
	CallbackSecret string
}

// FromEnv reads the environment and validates required settings. All
// missing required variables are reported in one error.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		WorkerID: getEnv("WORKER_ID", defaultWorkerID()),
		Mode:     strings.ToLower(getEnv("WORKER_MODE", "active")),
		Version:  getEnv("WORKER_VERSION", "dev"),

		BatchSize:    envInt("WORKER_BATCH_SIZE", 5),
		PollInterval: envDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		LeaseTime:    envDuration("WORKER_LEASE_TIME", 10*time.Minute),
		MaxAttempts:  envInt("WORKER_MAX_ATTEMPTS", 5),

		HeartbeatInterval: envDuration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
		FailureWindow:     envDuration("WORKER_FAILURE_WINDOW", 2*time.Minute),
		FailureThreshold:  envInt("WORKER_FAILURE_THRESHOLD", 5),

		ReclaimSchedule: getEnv("WORKER_RECLAIM_SCHEDULE", "@every 5m"),
		ReclaimGrace:    envDuration("WORKER_RECLAIM_GRACE", time.Minute),

		OpenAIKey: os.Getenv("OPENAI_API_KEY"),

		MediaAccountSid: os.Getenv("MEDIA_ACCOUNT_SID"),
		MediaAuthToken:  os.Getenv("MEDIA_AUTH_TOKEN"),

		BlobEndpoint:  os.Getenv("BLOB_ENDPOINT"),
		BlobAccessKey: os.Getenv("BLOB_ACCESS_KEY"),
		BlobSecretKey: os.Getenv("BLOB_SECRET_KEY"),
		BlobBucket:    os.Getenv("BLOB_BUCKET"),
		BlobUseSSL:    envBool("BLOB_USE_SSL", true),

		CallbackURL:    os.Getenv("CALLBACK_API_URL"),
		CallbackKey:    os.Getenv("CALLBACK_API_KEY"),
		CallbackSecret: os.Getenv("CALLBACK_API_SECRET"),
	}

	required := []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"OPENAI_API_KEY", cfg.OpenAIKey},
		{"MEDIA_ACCOUNT_SID", cfg.MediaAccountSid},
		{"MEDIA_AUTH_TOKEN", cfg.MediaAuthToken},
		{"BLOB_ENDPOINT", cfg.BlobEndpoint},
		{"BLOB_ACCESS_KEY", cfg.BlobAccessKey},
		{"BLOB_SECRET_KEY", cfg.BlobSecretKey},
		{"BLOB_BUCKET", cfg.BlobBucket},
		{"CALLBACK_API_URL", cfg.CallbackURL},
		{"CALLBACK_API_KEY", cfg.CallbackKey},
		{"CALLBACK_API_SECRET", cfg.CallbackSecret},
	}
	var missing []string
	for _, req := range required {
		if req.value == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// Active reports whether the worker should claim messages.
func (c *Config) Active() bool {
	return c.Mode == "active"
}

// DatabaseDriver returns "postgres" or "sqlite" based on the URL scheme.
func (c *Config) DatabaseDriver() string {
	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
