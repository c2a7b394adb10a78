package storage

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// Storage keeps synthesized artifacts in a local directory.
// Every artifact gets a fresh uuid-based name, so files are never overwritten.
type Storage struct {
	dir     string
	baseURL string
}

// New creates the audio directory if needed.
// baseURL is the public prefix artifacts are served under (e.g. "https://cdn.example.com/audio").
func New(dir, baseURL string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory %s: %w", dir, err)
	}
	return &Storage{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save writes data under a newly generated file name and returns that name.
// The file is fully synced before it becomes visible under its final name.
func (s *Storage) Save(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("save cancelled: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to save empty artifact")
	}

	name := GenerateFileName(ext)
	if err := renameio.WriteFile(s.Path(name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	log.Printf("[Storage] Saved %s (%s)", name, humanize.Bytes(uint64(len(data))))
	return name, nil
}

// Remove deletes an artifact. Missing files are not an error.
func (s *Storage) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// Path returns the absolute-or-relative filesystem path of an artifact.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// GetPublicURL returns the URL an artifact is served under.
// With no base URL configured it falls back to the service's own /audio/ route.
func (s *Storage) GetPublicURL(name string) string {
	escaped := url.PathEscape(name)
	if s.baseURL == "" {
		return "/audio/" + escaped
	}
	return s.baseURL + "/" + escaped
}

// GenerateFileName creates a unique artifact name, "<uuid>_.<ext>".
func GenerateFileName(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "mp3"
	}
	return uuid.NewString() + "_." + ext
}
