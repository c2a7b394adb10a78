package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/kanjivoice/internal/config"
	"github.com/bobarin/kanjivoice/internal/index"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		AudioDir:            filepath.Join(dir, "audio"),
		IndexPath:           filepath.Join(dir, "audio", "directory.json"),
		NormalizeMarks:      []string{"."},
		PlayHTURL:           "http://127.0.0.1:0",
		PlayHTKey:           "key",
		PlayHTUserID:        "user",
		SubmitRatePerMinute: 60,
		PollInterval:        time.Second,
		PollTimeout:         time.Minute,
		ResolveTimeout:      2 * time.Minute,
		BatchConcurrency:    2,
	}
}

func TestNewManager(t *testing.T) {
	cfg := testConfig(t)

	m, err := NewManager(cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.DirExists(t, cfg.AudioDir)
	assert.Empty(t, m.Entries())

	_, ok := m.Lookup("いち")
	assert.False(t, ok)
}

func TestNewManager_CorruptIndex(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.AudioDir, 0o755))
	require.NoError(t, os.WriteFile(cfg.IndexPath, []byte("{broken"), 0o644))

	_, err := NewManager(cfg, nil)
	assert.ErrorIs(t, err, index.ErrCorrupt)
}
