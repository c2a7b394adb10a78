package index

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bobarin/kanjivoice/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(hash, path, text string) models.CacheEntry {
	return models.CacheEntry{Hash: models.ContentHash(hash), Path: path, Text: text}
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audiofiles", "directory.json")

	idx, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	_, ok := idx.Lookup("anything")
	assert.False(t, ok)
}

func TestAppend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")

	idx, err := Load(path)
	require.NoError(t, err)

	first := entry("7941da94db2a83c04d0d85ee45ecb1e3", "a_.mp3", "いち")
	second := entry("67fcc09ffc84ff1aec13665a46c6bfc1", "b_.mp3", "ひと")
	require.NoError(t, idx.Append(first))
	require.NoError(t, idx.Append(second))

	got, ok := idx.Lookup(first.Hash)
	require.True(t, ok)
	assert.Equal(t, first, got)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []models.CacheEntry{first, second}, reloaded.Entries())

	third := entry("cb1b789d7b6027ef74eb721c70224100", "c_.mp3", "いち")
	require.NoError(t, reloaded.Append(third))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []models.CacheEntry{first, second, third}, again.Entries())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(after) > len(before))
	assert.Contains(t, string(after), `"entries": [`)
}

func TestLoad_AcceptsBareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"hash":"h1","path":"p1.mp3","text":"いち"}]`), 0o644))

	idx, err := Load(path)
	require.NoError(t, err)

	got, ok := idx.Lookup("h1")
	require.True(t, ok)
	assert.Equal(t, "p1.mp3", got.Path)
}

func TestLoad_DropsDuplicateHashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	body := `{"entries": [
		{"hash":"h1","path":"first.mp3","text":"いち"},
		{"hash":"h2","path":"second.mp3","text":"に"},
		{"hash":"h1","path":"again.mp3","text":"いち"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	idx, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []models.CacheEntry{
		entry("h1", "first.mp3", "いち"),
		entry("h2", "second.mp3", "に"),
	}, idx.Entries())

	got, ok := idx.Lookup("h1")
	require.True(t, ok)
	assert.Equal(t, "first.mp3", got.Path)

	// The next write persists the deduplicated list.
	require.NoError(t, idx.Append(entry("h3", "third.mp3", "さん")))
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Len())
}

func TestLoad_Corrupt(t *testing.T) {
	cases := map[string]string{
		"truncated":       `{"entries": [{"hash":"h1","path":"p1"`,
		"empty":           ``,
		"wrong shape":     `{"entries": {"hash":"h1"}}`,
		"missing array":   `{}`,
		"unknown field":   `{"entries": [], "version": 2}`,
		"entry sans path": `{"entries": [{"hash":"h1","text":"いち"}]}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "directory.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestAppend_WriteFailureLeavesMemoryUntouched(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	path := filepath.Join(dir, "directory.json")

	idx, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, idx.Append(entry("h1", "p1.mp3", "いち")))

	// Pull the directory out from under the index.
	require.NoError(t, os.RemoveAll(dir))

	err = idx.Append(entry("h2", "p2.mp3", "に"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)

	_, ok := idx.Lookup("h2")
	assert.False(t, ok)
	assert.Equal(t, 1, idx.Len())
}

func TestAppend_ConcurrentWritersKeepDocumentWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	idx, err := Load(path)
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := string(rune('a'+i%26)) + string(rune('0'+i/26))
			assert.NoError(t, idx.Append(entry(h, h+".mp3", h)))
		}(i)
	}
	wg.Wait()

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, n, reloaded.Len())
	assert.ElementsMatch(t, idx.Entries(), reloaded.Entries())

	// Only the document itself is left behind, no temp files.
	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "directory.json", files[0].Name())
}
