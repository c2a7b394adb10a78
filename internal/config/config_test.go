package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("PLAYHT_API_KEY", "key")
	t.Setenv("PLAYHT_USER_ID", "user")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.APIPort)
	assert.True(t, cfg.WorkerEnabled)
	assert.Equal(t, "audiofiles", cfg.AudioDir)
	assert.Equal(t, filepath.Join("audiofiles", "directory.json"), cfg.IndexPath)
	assert.Equal(t, []string{".", "-", "―", "ー"}, cfg.NormalizeMarks)
	assert.Equal(t, "https://play.ht/api/v1", cfg.PlayHTURL)
	assert.Equal(t, "Mizuki", cfg.PlayHTVoice)
	assert.Equal(t, "75%", cfg.PlayHTSpeed)
	assert.Equal(t, 60, cfg.SubmitRatePerMinute)
	assert.Equal(t, int64(20<<20), cfg.MaxArtifactBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3*time.Minute, cfg.PollTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ResolveTimeout)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.False(t, cfg.BatchesEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("AUDIO_DIR", "/srv/audio")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("RESOLVE_TIMEOUT", "10m")
	t.Setenv("NORMALIZE_MARKS", " . , ・ ")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("BATCH_CONCURRENCY", "8")
	t.Setenv("MAX_ARTIFACT_BYTES", "5MiB")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/audio/directory.json", cfg.IndexPath)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.ResolveTimeout)
	assert.Equal(t, []string{".", "・"}, cfg.NormalizeMarks)
	assert.True(t, cfg.BatchesEnabled())
	assert.False(t, cfg.WorkerEnabled)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, int64(5<<20), cfg.MaxArtifactBytes)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("MAX_CONCURRENT_JOBS", "many")
	t.Setenv("WORKER_ENABLED", "maybe")
	t.Setenv("MAX_ARTIFACT_BYTES", "huge")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.True(t, cfg.WorkerEnabled)
	assert.Equal(t, int64(20<<20), cfg.MaxArtifactBytes)
}

func TestLoad_EmptyMarkList(t *testing.T) {
	setRequired(t)
	t.Setenv("NORMALIZE_MARKS", ",")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg.NormalizeMarks)
	assert.Empty(t, cfg.NormalizeMarks)
}

func TestLoad_RequiresCredentials(t *testing.T) {
	t.Setenv("PLAYHT_API_KEY", "")
	t.Setenv("PLAYHT_USER_ID", "user")

	_, err := Load()
	assert.ErrorContains(t, err, "PLAYHT_API_KEY")
}

func TestLoad_PollTimeoutWithinResolveTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_TIMEOUT", "10m")
	t.Setenv("RESOLVE_TIMEOUT", "1m")

	_, err := Load()
	assert.ErrorContains(t, err, "POLL_TIMEOUT")
}
