// Package cache resolves reading text to a synthesized audio file, calling the
// provider at most once per distinct text.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/kanjivoice/internal/index"
	"github.com/bobarin/kanjivoice/internal/metrics"
	"github.com/bobarin/kanjivoice/internal/models"
	"github.com/bobarin/kanjivoice/internal/services"
	"github.com/bobarin/kanjivoice/internal/storage"
)

const (
	DefaultResolveTimeout   = 5 * time.Minute
	DefaultBatchConcurrency = 4

	artifactExt = "mp3"
)

// Result is a resolved reading.
type Result struct {
	Hash   models.ContentHash
	Path   string // file name inside the audio directory
	Text   string // normalized text that was spoken
	Cached bool   // true when no synthesis was needed
}

// ReadingResult pairs one input of ResolveAll with its outcome.
type ReadingResult struct {
	Reading models.Reading
	Result  Result
	Err     error
}

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	Normalizer       *Normalizer
	ResolveTimeout   time.Duration
	BatchConcurrency int
	Metrics          *metrics.Metrics
}

// Manager owns the resolve pipeline: index lookup, then on a miss
// submit → poll → fetch → save → append, with one flight per hash.
type Manager struct {
	index      *index.Index
	storage    *storage.Storage
	client     services.SynthesisClient
	poller     *services.Poller
	normalizer *Normalizer
	timeout    time.Duration
	batchLimit int
	metrics    *metrics.Metrics

	mu    sync.Mutex
	calls map[models.ContentHash]*call
}

// call is one in-flight synthesis shared by every caller asking for the same hash.
// waiters and abandoned are guarded by Manager.mu; result and err are
// written before done is closed.
type call struct {
	done      chan struct{}
	cancel    context.CancelFunc
	waiters   int
	abandoned bool

	result Result
	err    error
}

// NewManager wires the pipeline together.
func NewManager(idx *index.Index, store *storage.Storage, client services.SynthesisClient, poller *services.Poller, opts Options) *Manager {
	if opts.Normalizer == nil {
		opts.Normalizer = NewNormalizer(nil)
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}

	return &Manager{
		index:      idx,
		storage:    store,
		client:     client,
		poller:     poller,
		normalizer: opts.Normalizer,
		timeout:    opts.ResolveTimeout,
		batchLimit: opts.BatchConcurrency,
		metrics:    opts.Metrics,
		calls:      make(map[models.ContentHash]*call),
	}
}

// ---------------------------------------------------------------------------
// Lookup / Resolve
// ---------------------------------------------------------------------------

// Lookup reports whether text is already cached. It never calls the provider.
func (m *Manager) Lookup(text string) (Result, bool) {
	normalized := m.normalizer.Normalize(text)
	if normalized == "" {
		return Result{}, false
	}
	entry, ok := m.index.Lookup(Hash(normalized))
	if !ok {
		return Result{}, false
	}
	return cachedResult(entry), true
}

// Resolve returns the cached audio for text, synthesizing it on a miss.
//
// Concurrent calls for the same normalized text share one synthesis. The
// synthesis runs detached from any single caller: cancelling ctx only ends
// this caller's wait, and the provider job is abandoned once every waiter
// has gone. A caller whose own deadline passes gets ErrSynthesisTimedOut;
// a cancelled caller gets ctx.Err().
func (m *Manager) Resolve(ctx context.Context, text string) (Result, error) {
	normalized := m.normalizer.Normalize(text)
	if normalized == "" {
		return Result{}, ErrEmptyText
	}
	hash := Hash(normalized)

	if entry, ok := m.index.Lookup(hash); ok {
		m.metrics.CacheLookup(true)
		m.metrics.Resolution("cached")
		return cachedResult(entry), nil
	}
	m.metrics.CacheLookup(false)

	for {
		m.mu.Lock()

		// A flight may have appended between the lookup above and taking the lock.
		if entry, ok := m.index.Lookup(hash); ok {
			m.mu.Unlock()
			m.metrics.Resolution("cached")
			return cachedResult(entry), nil
		}

		c, ok := m.calls[hash]
		switch {
		case ok && c.abandoned:
			// Its provider job is being torn down; wait for that, then start over.
			m.mu.Unlock()
			select {
			case <-c.done:
				continue
			case <-ctx.Done():
				return Result{}, m.callerGone(ctx, hash)
			}
		case ok:
			c.waiters++
			m.mu.Unlock()
			m.metrics.Coalesced()
			log.Printf("[Cache] Joining in-flight synthesis for %s", hash)
		default:
			// Nobody would wait for a job started on behalf of a caller that already left.
			if ctx.Err() != nil {
				m.mu.Unlock()
				return Result{}, m.callerGone(ctx, hash)
			}
			c = m.startFlight(ctx, hash, normalized)
			m.mu.Unlock()
		}

		return m.wait(ctx, hash, c)
	}
}

// wait blocks until the flight finishes or the caller leaves.
func (m *Manager) wait(ctx context.Context, hash models.ContentHash, c *call) (Result, error) {
	select {
	case <-c.done:
		m.metrics.Resolution(outcome(c.err))
		return c.result, c.err
	case <-ctx.Done():
	}

	m.mu.Lock()
	c.waiters--
	if c.waiters == 0 {
		c.abandoned = true
		c.cancel()
		log.Printf("[Cache] Last caller left, abandoning synthesis for %s", hash)
	}
	m.mu.Unlock()

	return Result{}, m.callerGone(ctx, hash)
}

func (m *Manager) callerGone(ctx context.Context, hash models.ContentHash) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		m.metrics.Resolution("timed_out")
		return &ResolveError{Kind: ErrSynthesisTimedOut, Hash: hash, Err: err}
	}
	m.metrics.Resolution("cancelled")
	return err
}

// startFlight registers a call for hash with the caller as its first waiter.
// Must be called with m.mu held.
func (m *Manager) startFlight(ctx context.Context, hash models.ContentHash, text string) *call {
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	c := &call{
		done:    make(chan struct{}),
		cancel:  cancel,
		waiters: 1,
	}
	m.calls[hash] = c
	m.metrics.FlightStarted()

	go func() {
		defer cancel()
		started := time.Now()

		res, err := m.synthesize(flightCtx, hash, text)

		elapsed := time.Since(started)
		m.metrics.SynthesisDuration(outcome(err), elapsed.Seconds())
		m.metrics.FlightFinished()
		if err != nil {
			log.Printf("[Cache] Synthesis for %s failed after %v: %v", hash, elapsed.Round(time.Millisecond), err)
		} else {
			log.Printf("[Cache] Synthesized %s → %s in %v", hash, res.Path, elapsed.Round(time.Millisecond))
		}

		// The index append inside synthesize happens before the call leaves the
		// table, so anyone who misses the call finds the entry instead.
		m.mu.Lock()
		c.result, c.err = res, err
		delete(m.calls, hash)
		m.mu.Unlock()
		close(c.done)
	}()

	return c
}

// synthesize runs submit → poll → fetch → save → append for one text.
func (m *Manager) synthesize(ctx context.Context, hash models.ContentHash, text string) (Result, error) {
	log.Printf("[Cache] Miss for %s (%q), submitting", hash, text)

	handle, err := m.client.Submit(ctx, text)
	m.metrics.ProviderCall("submit", err)
	if err != nil {
		return Result{}, classify(ctx, hash, ErrSynthesisFailed, fmt.Errorf("submit: %w", err))
	}

	state, err := m.poller.Wait(ctx, handle)
	if err != nil {
		return Result{}, classify(ctx, hash, ErrSynthesisFailed, fmt.Errorf("poll job %s: %w", handle, err))
	}

	data, err := m.client.FetchResult(ctx, handle, state.ArtifactURL)
	m.metrics.ProviderCall("fetch", err)
	if err != nil {
		return Result{}, classify(ctx, hash, ErrSynthesisFailed, fmt.Errorf("fetch job %s: %w", handle, err))
	}

	name, err := m.storage.Save(ctx, data, artifactExt)
	if err != nil {
		return Result{}, classify(ctx, hash, ErrStorageFailed, err)
	}

	entry := models.CacheEntry{Hash: hash, Path: name, Text: text}
	if err := m.index.Append(entry); err != nil {
		// Nothing references the file yet; drop it rather than leave an orphan.
		if rmErr := m.storage.Remove(name); rmErr != nil {
			log.Printf("[Cache] Failed to remove unindexed artifact %s: %v", name, rmErr)
		}
		return Result{}, &ResolveError{Kind: ErrStorageFailed, Hash: hash, Err: err}
	}

	return Result{Hash: hash, Path: name, Text: text}, nil
}

// classify picks the error kind. Anything that ends because the flight's
// deadline passed is a timeout regardless of which step noticed it.
func classify(ctx context.Context, hash models.ContentHash, kind, err error) *ResolveError {
	if errors.Is(err, services.ErrPollTimedOut) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = ErrSynthesisTimedOut
	}
	return &ResolveError{Kind: kind, Hash: hash, Err: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "synthesized"
	case errors.Is(err, ErrSynthesisTimedOut):
		return "timed_out"
	case errors.Is(err, ErrStorageFailed):
		return "storage_failed"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "synthesis_failed"
	}
}

func cachedResult(entry models.CacheEntry) Result {
	return Result{Hash: entry.Hash, Path: entry.Path, Text: entry.Text, Cached: true}
}

// ---------------------------------------------------------------------------
// Batch resolve
// ---------------------------------------------------------------------------

// ResolveAll resolves every reading independently, at most BatchConcurrency
// at a time. Results are in input order; one failure does not stop the rest.
func (m *Manager) ResolveAll(ctx context.Context, readings []models.Reading) []ReadingResult {
	results := make([]ReadingResult, len(readings))

	var g errgroup.Group
	g.SetLimit(m.batchLimit)
	for i, r := range readings {
		i, r := i, r
		g.Go(func() error {
			res, err := m.Resolve(ctx, r.Text)
			results[i] = ReadingResult{Reading: r, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()

	return results
}

// Entries lists every cached entry in insertion order.
func (m *Manager) Entries() []models.CacheEntry {
	return m.index.Entries()
}

// EntryByHash returns the cached entry for hash.
func (m *Manager) EntryByHash(hash models.ContentHash) (models.CacheEntry, bool) {
	return m.index.Lookup(hash)
}

// PublicURL returns where an artifact is served.
func (m *Manager) PublicURL(path string) string {
	return m.storage.GetPublicURL(path)
}
