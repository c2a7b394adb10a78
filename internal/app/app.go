// Package app assembles the resolve pipeline from configuration. Both the API
// server and the generate CLI build their cache manager here.
package app

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bobarin/kanjivoice/internal/cache"
	"github.com/bobarin/kanjivoice/internal/config"
	"github.com/bobarin/kanjivoice/internal/index"
	"github.com/bobarin/kanjivoice/internal/metrics"
	"github.com/bobarin/kanjivoice/internal/services"
	"github.com/bobarin/kanjivoice/internal/storage"
)

// NewManager loads the cache index, prepares the audio directory and wires the
// play.ht client into a cache manager. reg may be nil.
func NewManager(cfg *config.Config, reg prometheus.Registerer) (*cache.Manager, error) {
	idx, err := index.Load(cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}
	log.Printf("Loaded cache index %s (%d entries)", idx.Path(), idx.Len())

	stor, err := storage.New(cfg.AudioDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)

	client := services.NewPlayHTService(services.PlayHTConfig{
		BaseURL:          cfg.PlayHTURL,
		APIKey:           cfg.PlayHTKey,
		UserID:           cfg.PlayHTUserID,
		Voice:            cfg.PlayHTVoice,
		Speed:            cfg.PlayHTSpeed,
		SubmitsPerMinute: cfg.SubmitRatePerMinute,
		MaxArtifactBytes: cfg.MaxArtifactBytes,
	})
	log.Printf("TTS provider: play.ht (voice: %s, speed: %s)", cfg.PlayHTVoice, cfg.PlayHTSpeed)

	poller := services.NewPoller(client, cfg.PollInterval, cfg.PollTimeout, m)

	return cache.NewManager(idx, stor, client, poller, cache.Options{
		Normalizer:       cache.NewNormalizer(cfg.NormalizeMarks),
		ResolveTimeout:   cfg.ResolveTimeout,
		BatchConcurrency: cfg.BatchConcurrency,
		Metrics:          m,
	}), nil
}
