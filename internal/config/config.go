package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	PublicBaseURL      string // Prefix for artifact URLs (empty = served by this process under /audio/)

	// Cache
	AudioDir       string
	IndexPath      string
	NormalizeMarks []string

	// Redis (batch queue; empty disables batches and the worker)
	RedisURL string

	// play.ht (speech synthesis)
	PlayHTURL           string
	PlayHTKey           string
	PlayHTUserID        string
	PlayHTVoice         string
	PlayHTSpeed         string
	SubmitRatePerMinute int
	MaxArtifactBytes    int64 // MAX_ARTIFACT_BYTES, humanized sizes like "20MiB" are accepted
	PollInterval        time.Duration
	PollTimeout         time.Duration
	ResolveTimeout      time.Duration

	// Worker
	MaxConcurrentJobs int
	BatchConcurrency  int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	audioDir := getEnv("AUDIO_DIR", "audiofiles")

	cfg := &Config{
		APIPort:             getEnv("API_PORT", "8080"),
		WorkerEnabled:       getEnvBool("WORKER_ENABLED", true),
		CorsAllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", ""),
		PublicBaseURL:       getEnv("PUBLIC_BASE_URL", ""),
		AudioDir:            audioDir,
		IndexPath:           getEnv("INDEX_PATH", filepath.Join(audioDir, "directory.json")),
		NormalizeMarks:      getEnvList("NORMALIZE_MARKS", []string{".", "-", "―", "ー"}),
		RedisURL:            getEnv("REDIS_URL", ""),
		PlayHTURL:           getEnv("PLAYHT_API_URL", "https://play.ht/api/v1"),
		PlayHTKey:           getEnv("PLAYHT_API_KEY", ""),
		PlayHTUserID:        getEnv("PLAYHT_USER_ID", ""),
		PlayHTVoice:         getEnv("PLAYHT_VOICE", "Mizuki"),
		PlayHTSpeed:         getEnv("PLAYHT_SPEED", "75%"),
		SubmitRatePerMinute: getEnvInt("SUBMIT_RATE_PER_MINUTE", 60),
		MaxArtifactBytes:    getEnvBytes("MAX_ARTIFACT_BYTES", 20<<20),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 500*time.Millisecond),
		PollTimeout:         getEnvDuration("POLL_TIMEOUT", 3*time.Minute),
		ResolveTimeout:      getEnvDuration("RESOLVE_TIMEOUT", 5*time.Minute),
		MaxConcurrentJobs:   getEnvInt("MAX_CONCURRENT_JOBS", 2),
		BatchConcurrency:    getEnvInt("BATCH_CONCURRENCY", 4),
	}

	// Validate required fields
	if cfg.PlayHTKey == "" || cfg.PlayHTUserID == "" {
		return nil, fmt.Errorf("PLAYHT_API_KEY and PLAYHT_USER_ID are required")
	}

	if cfg.PollTimeout > cfg.ResolveTimeout {
		return nil, fmt.Errorf("POLL_TIMEOUT (%v) must not exceed RESOLVE_TIMEOUT (%v)", cfg.PollTimeout, cfg.ResolveTimeout)
	}

	return cfg, nil
}

// BatchesEnabled reports whether a Redis queue is configured.
func (c *Config) BatchesEnabled() bool {
	return c.RedisURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBytes(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		n, err := humanize.ParseBytes(value)
		if err == nil && n > 0 && n <= math.MaxInt64 {
			return int64(n)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value. Set the variable to "," for an empty list.
func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	out := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
