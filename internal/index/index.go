// Package index is the durable audio directory: a JSON document mapping
// content hashes to synthesized artifacts, mirrored in memory for lookups.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/bobarin/kanjivoice/internal/models"
)

var (
	// ErrCorrupt is returned by Load when the document cannot be parsed.
	ErrCorrupt = errors.New("cache index corrupt")

	// ErrWriteFailed is returned by Append when the document could not be persisted.
	ErrWriteFailed = errors.New("cache index write failed")
)

// document is the on-disk shape of directory.json.
type document struct {
	Entries []models.CacheEntry `json:"entries"`
}

// Index is an append-only list of cache entries backed by a single JSON file.
// Lookups never touch the disk.
type Index struct {
	path string

	// writeMu serializes document writes; mu guards the in-memory state.
	writeMu sync.Mutex
	mu      sync.RWMutex
	entries []models.CacheEntry
	byHash  map[models.ContentHash]models.CacheEntry
}

// Load reads the document at path. A missing file yields an empty index.
func Load(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	idx := &Index{
		path:   path,
		byHash: make(map[models.ContentHash]models.CacheEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[Index] No index at %s, starting empty", path)
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}

	entries, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}

	idx.entries = make([]models.CacheEntry, 0, len(entries))
	for _, e := range entries {
		if e.Hash == "" || e.Path == "" {
			return nil, fmt.Errorf("%w: %s: entry without hash or path", ErrCorrupt, path)
		}
		// Duplicates are dropped; the next Append rewrites the document without them.
		if _, dup := idx.byHash[e.Hash]; dup {
			log.Printf("[Index] Duplicate entry for %s in %s, keeping the first", e.Hash, path)
			continue
		}
		idx.byHash[e.Hash] = e
		idx.entries = append(idx.entries, e)
	}

	log.Printf("[Index] Loaded %d entries from %s", len(idx.entries), path)
	return idx, nil
}

// decode accepts the {"entries": [...]} wrapper and a bare array.
func decode(data []byte) ([]models.CacheEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}

	dec := func(v any) error {
		d := json.NewDecoder(bytes.NewReader(trimmed))
		d.DisallowUnknownFields()
		return d.Decode(v)
	}

	if trimmed[0] == '[' {
		var entries []models.CacheEntry
		if err := dec(&entries); err != nil {
			return nil, err
		}
		return entries, nil
	}

	var doc document
	if err := dec(&doc); err != nil {
		return nil, err
	}
	if doc.Entries == nil {
		return nil, errors.New(`missing "entries" array`)
	}
	return doc.Entries, nil
}

// Lookup returns the entry for hash, if any.
func (i *Index) Lookup(hash models.ContentHash) (models.CacheEntry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	e, ok := i.byHash[hash]
	return e, ok
}

// Append persists entry and then publishes it to lookups.
// On failure the in-memory state is left untouched.
func (i *Index) Append(entry models.CacheEntry) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	i.mu.RLock()
	next := make([]models.CacheEntry, len(i.entries), len(i.entries)+1)
	copy(next, i.entries)
	i.mu.RUnlock()
	next = append(next, entry)

	if err := i.write(next); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	i.mu.Lock()
	i.entries = next
	i.byHash[entry.Hash] = entry
	i.mu.Unlock()

	return nil
}

// Entries returns a copy of all entries in append order.
func (i *Index) Entries() []models.CacheEntry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]models.CacheEntry, len(i.entries))
	copy(out, i.entries)
	return out
}

// Len returns the number of entries.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.entries)
}

// Path returns the location of the document.
func (i *Index) Path() string {
	return i.path
}

// write replaces the document with entries atomically.
func (i *Index) write(entries []models.CacheEntry) error {
	data, err := json.MarshalIndent(document{Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := renameio.WriteFile(i.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}
