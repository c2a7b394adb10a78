package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bobarin/kanjivoice/internal/metrics"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollTimeout  = 3 * time.Minute
)

// PollPhase is where a polling session currently stands.
type PollPhase int

const (
	PhaseSubmitted PollPhase = iota
	PhasePolling
	PhaseReady
	PhaseFailed
	PhaseTimedOut
)

func (p PollPhase) String() string {
	switch p {
	case PhaseSubmitted:
		return "submitted"
	case PhasePolling:
		return "polling"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Poller drives one submitted job at a time to a terminal state.
// A Poller holds no per-job state, so one instance serves any number of
// concurrent Wait calls; each call owns its own ticker.
type Poller struct {
	checker  StatusChecker
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewPoller creates a poller. Zero interval or timeout selects the defaults.
func NewPoller(checker StatusChecker, interval, timeout time.Duration, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		metrics:  m,
	}
}

// Wait polls CheckStatus every interval until the job is ready or fails.
//
// Outcomes:
//   - ready: the JobState carrying the artifact URL
//   - failed: *JobFailedError (provider failure, or the job became unknown)
//   - timed out: ErrPollTimedOut, when the poll timeout or ctx's deadline passes
//   - cancelled: ctx.Err() when ctx is cancelled; the provider job is left alone
//
// Checks never overlap: the next one starts only after the previous returned.
// ErrUnavailable from a check is swallowed and retried on the next tick.
func (p *Poller) Wait(ctx context.Context, handle JobHandle) (JobState, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	phase := PhaseSubmitted
	started := time.Now()
	polls := 0
	var lastErr error

	transition := func(next PollPhase) {
		if next != phase {
			log.Printf("[Poller] Job %s: %s -> %s (polls=%d, elapsed=%v)", handle, phase, next, polls, time.Since(started).Round(time.Millisecond))
			phase = next
		}
	}
	transition(PhasePolling)

	for {
		select {
		case <-pollCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				log.Printf("[Poller] Job %s: polling cancelled after %d polls", handle, polls)
				return JobState{}, ctx.Err()
			}
			transition(PhaseTimedOut)
			if lastErr != nil {
				return JobState{}, fmt.Errorf("%w after %d polls (job %s, last error: %v)", ErrPollTimedOut, polls, handle, lastErr)
			}
			return JobState{}, fmt.Errorf("%w after %d polls (job %s)", ErrPollTimedOut, polls, handle)
		case <-ticker.C:
		}

		polls++
		state, err := p.checker.CheckStatus(pollCtx, handle)
		if err != nil {
			var unknown *UnknownJobError
			if errors.As(err, &unknown) {
				p.metrics.PollAttempt("unknown")
				transition(PhaseFailed)
				return JobState{}, &JobFailedError{Handle: handle, Reason: "provider no longer recognizes the job", Err: err}
			}
			// Transport trouble (or the check was cut short by the deadline):
			// stay in Polling and let the next tick or the deadline decide.
			p.metrics.PollAttempt("unavailable")
			lastErr = err
			continue
		}

		switch state.Status {
		case JobReady:
			p.metrics.PollAttempt("ready")
			transition(PhaseReady)
			return state, nil
		case JobFailed:
			p.metrics.PollAttempt("failed")
			transition(PhaseFailed)
			reason := state.Reason
			if reason == "" {
				reason = "unknown error"
			}
			return JobState{}, &JobFailedError{Handle: handle, Reason: reason}
		default:
			p.metrics.PollAttempt("pending")
		}
	}
}
