package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChecker replays one response per call and repeats the last one.
type scriptedChecker struct {
	mu        sync.Mutex
	responses []checkResponse
	calls     int
	delay     time.Duration

	inFlight    int32
	maxInFlight int32
}

type checkResponse struct {
	state JobState
	err   error
}

func (c *scriptedChecker) CheckStatus(ctx context.Context, handle JobHandle) (JobState, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&c.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&c.maxInFlight, peak, n) {
			break
		}
	}

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return JobState{}, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	r := c.responses[i]
	return r.state, r.err
}

func (c *scriptedChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var (
	pending = checkResponse{state: JobState{Status: JobPending}}
	ready   = checkResponse{state: JobState{Status: JobReady, ArtifactURL: "https://cdn.example.test/a.mp3"}}
)

func TestPoller_ReadyAfterPendingTicks(t *testing.T) {
	checker := &scriptedChecker{responses: []checkResponse{pending, pending, ready}}
	p := NewPoller(checker, time.Millisecond, time.Second, nil)

	state, err := p.Wait(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobReady, state.Status)
	assert.Equal(t, "https://cdn.example.test/a.mp3", state.ArtifactURL)
	assert.Equal(t, 3, checker.Calls())
}

func TestPoller_UnavailableIsRetried(t *testing.T) {
	unavailable := checkResponse{err: fmt.Errorf("%w: connection reset", ErrUnavailable)}
	checker := &scriptedChecker{responses: []checkResponse{unavailable, unavailable, pending, ready}}
	p := NewPoller(checker, time.Millisecond, time.Second, nil)

	state, err := p.Wait(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobReady, state.Status)
	assert.Equal(t, 4, checker.Calls())
}

func TestPoller_ProviderFailure(t *testing.T) {
	failed := checkResponse{state: JobState{Status: JobFailed, Reason: "voice not available"}}
	checker := &scriptedChecker{responses: []checkResponse{pending, failed}}
	p := NewPoller(checker, time.Millisecond, time.Second, nil)

	_, err := p.Wait(context.Background(), "job-1")

	var failedErr *JobFailedError
	require.ErrorAs(t, err, &failedErr)
	assert.Equal(t, "voice not available", failedErr.Reason)
	assert.Equal(t, JobHandle("job-1"), failedErr.Handle)
}

func TestPoller_UnknownJobIsTerminal(t *testing.T) {
	unknown := checkResponse{err: &UnknownJobError{Handle: "job-1"}}
	checker := &scriptedChecker{responses: []checkResponse{pending, unknown, ready}}
	p := NewPoller(checker, time.Millisecond, time.Second, nil)

	_, err := p.Wait(context.Background(), "job-1")

	var failedErr *JobFailedError
	require.ErrorAs(t, err, &failedErr)
	var unknownErr *UnknownJobError
	assert.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, 2, checker.Calls(), "no polls after an unknown job")
}

func TestPoller_TimesOutWhilePending(t *testing.T) {
	checker := &scriptedChecker{responses: []checkResponse{pending}}
	p := NewPoller(checker, 5*time.Millisecond, 40*time.Millisecond, nil)

	start := time.Now()
	_, err := p.Wait(context.Background(), "job-1")

	assert.ErrorIs(t, err, ErrPollTimedOut)
	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, checker.Calls(), 0)
}

func TestPoller_CallerDeadlineCountsAsTimeout(t *testing.T) {
	checker := &scriptedChecker{responses: []checkResponse{pending}}
	p := NewPoller(checker, 5*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx, "job-1")
	assert.ErrorIs(t, err, ErrPollTimedOut)
}

func TestPoller_CancellationStopsPolling(t *testing.T) {
	checker := &scriptedChecker{responses: []checkResponse{pending}}
	p := NewPoller(checker, 2*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Wait(ctx, "job-1")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, ErrPollTimedOut))
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	calls := checker.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, checker.Calls(), "no polls after cancellation")
}

func TestPoller_ChecksNeverOverlap(t *testing.T) {
	// Each check takes longer than the tick interval.
	checker := &scriptedChecker{
		responses: []checkResponse{pending, pending, pending, pending, ready},
		delay:     10 * time.Millisecond,
	}
	p := NewPoller(checker, time.Millisecond, time.Second, nil)

	_, err := p.Wait(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&checker.maxInFlight))
}

// perJobChecker reports each job pending once, then ready at its own URL.
type perJobChecker struct {
	mu    sync.Mutex
	polls map[JobHandle]int
}

func (c *perJobChecker) CheckStatus(ctx context.Context, handle JobHandle) (JobState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls[handle]++
	if c.polls[handle] < 2 {
		return JobState{Status: JobPending}, nil
	}
	return JobState{Status: JobReady, ArtifactURL: "https://cdn.example.test/" + string(handle)}, nil
}

func TestPoller_SharedAcrossConcurrentJobs(t *testing.T) {
	checker := &perJobChecker{polls: make(map[JobHandle]int)}
	p := NewPoller(checker, time.Millisecond, time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle := JobHandle(fmt.Sprintf("job-%d", i))
			state, err := p.Wait(context.Background(), handle)
			assert.NoError(t, err)
			assert.Equal(t, "https://cdn.example.test/"+string(handle), state.ArtifactURL)
		}(i)
	}
	wg.Wait()

	for handle, n := range checker.polls {
		assert.Equal(t, 2, n, "job %s", handle)
	}
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(&scriptedChecker{}, 0, 0, nil)
	assert.Equal(t, DefaultPollInterval, p.interval)
	assert.Equal(t, DefaultPollTimeout, p.timeout)
}
