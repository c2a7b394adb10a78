// Package fake provides a scripted in-memory SynthesisClient for tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/bobarin/kanjivoice/internal/services"
)

// Client is a deterministic SynthesisClient. Every job reports Pending for
// PendingPolls checks and then Ready (or Failed when FailReason is set).
// Set the exported fields before use; they are read under the client's lock.
type Client struct {
	mu sync.Mutex

	PendingPolls int
	FailReason   string
	Audio        []byte

	SubmitErr error
	FetchErr  error
	// StatusErrs are returned, in order, by the first status checks of each job.
	StatusErrs []error

	// SubmitGate, when non-nil, blocks Submit until it is closed or ctx ends.
	SubmitGate chan struct{}

	submits int
	polls   int
	fetches int
	nextID  int
	texts   []string
	jobs    map[services.JobHandle]*job
}

type job struct {
	text  string
	polls int
}

var _ services.SynthesisClient = (*Client)(nil)

// New returns a client that succeeds after two pending polls.
func New() *Client {
	return &Client{
		PendingPolls: 2,
		Audio:        []byte("ID3\x03fake-mp3"),
		jobs:         make(map[services.JobHandle]*job),
	}
}

func (c *Client) Submit(ctx context.Context, text string) (services.JobHandle, error) {
	c.mu.Lock()
	gate := c.SubmitGate
	c.submits++
	c.texts = append(c.texts, text)
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitErr != nil {
		return "", c.SubmitErr
	}
	if c.jobs == nil {
		c.jobs = make(map[services.JobHandle]*job)
	}
	c.nextID++
	handle := services.JobHandle(fmt.Sprintf("job-%d", c.nextID))
	c.jobs[handle] = &job{text: text}
	return handle, nil
}

func (c *Client) CheckStatus(ctx context.Context, handle services.JobHandle) (services.JobState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls++

	j, ok := c.jobs[handle]
	if !ok {
		return services.JobState{}, &services.UnknownJobError{Handle: handle}
	}

	idx := j.polls
	j.polls++
	if idx < len(c.StatusErrs) && c.StatusErrs[idx] != nil {
		return services.JobState{}, c.StatusErrs[idx]
	}

	if j.polls <= c.PendingPolls {
		return services.JobState{Status: services.JobPending}, nil
	}
	if c.FailReason != "" {
		return services.JobState{Status: services.JobFailed, Reason: c.FailReason}, nil
	}
	return services.JobState{Status: services.JobReady, ArtifactURL: "https://cdn.example.test/" + string(handle) + ".mp3"}, nil
}

func (c *Client) FetchResult(ctx context.Context, handle services.JobHandle, artifactURL string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetches++
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	if _, ok := c.jobs[handle]; !ok {
		return nil, fmt.Errorf("%w: unknown job %s", services.ErrArtifactGone, handle)
	}
	out := make([]byte, len(c.Audio))
	copy(out, c.Audio)
	return out, nil
}

// Submits returns the number of Submit calls.
func (c *Client) Submits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

// Polls returns the number of CheckStatus calls.
func (c *Client) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// Fetches returns the number of FetchResult calls.
func (c *Client) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

// Calls returns the total number of provider calls.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits + c.polls + c.fetches
}

// SubmittedTexts returns the texts passed to Submit, in order.
func (c *Client) SubmittedTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	copy(out, c.texts)
	return out
}

// SetFailReason changes the failure reason between calls.
func (c *Client) SetFailReason(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FailReason = reason
}
