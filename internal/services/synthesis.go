package services

import (
	"context"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// SynthesisClient: contract for asynchronous speech synthesis providers.
// A job is submitted, its status is checked until it settles, and the
// finished artifact is fetched. The cache manager only talks to this
// interface so tests can swap in the fake client.
// ---------------------------------------------------------------------------

// JobHandle is the provider-issued identifier of a synthesis job.
type JobHandle string

// JobStatus is the provider-reported phase of a job.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobReady
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobReady:
		return "ready"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// JobState is one status report. ArtifactURL is set only when Ready,
// Reason only when Failed.
type JobState struct {
	Status      JobStatus
	ArtifactURL string
	Reason      string
}

// StatusChecker is the part of the client the poller needs.
type StatusChecker interface {
	// CheckStatus reports the current state of a job.
	// Returns ErrUnavailable on transient transport failure and
	// *UnknownJobError when the provider does not recognize the job.
	CheckStatus(ctx context.Context, handle JobHandle) (JobState, error)
}

// SynthesisClient is the interface any async TTS provider must implement.
type SynthesisClient interface {
	StatusChecker

	// Submit starts a synthesis job for text.
	// Returns *RejectedError or ErrUnavailable.
	Submit(ctx context.Context, text string) (JobHandle, error)

	// FetchResult downloads the finished artifact. Only valid after CheckStatus
	// reported JobReady; artifactURL is the location from that report.
	// Returns ErrUnavailable or ErrArtifactGone.
	FetchResult(ctx context.Context, handle JobHandle, artifactURL string) ([]byte, error)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrUnavailable marks transport-level failures (network errors, 429, 5xx).
	ErrUnavailable = errors.New("synthesis provider unavailable")

	// ErrArtifactGone means the artifact expired on the provider side.
	ErrArtifactGone = errors.New("synthesized artifact no longer available")

	// ErrArtifactTooLarge means the download exceeded the configured size cap.
	ErrArtifactTooLarge = errors.New("synthesized artifact too large")

	// ErrPollTimedOut is returned by the poller when the deadline passes while the job is pending.
	ErrPollTimedOut = errors.New("synthesis job timed out")
)

// RejectedError is returned when the provider refuses a submission.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "synthesis rejected: " + e.Message
}

// UnknownJobError is returned when the provider no longer knows a job,
// or answered with a shape that maps to no JobState.
type UnknownJobError struct {
	Handle JobHandle
	Detail string
}

func (e *UnknownJobError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unknown synthesis job %s: %s", e.Handle, e.Detail)
	}
	return fmt.Sprintf("unknown synthesis job %s", e.Handle)
}

// JobFailedError is the poller's terminal failure.
type JobFailedError struct {
	Handle JobHandle
	Reason string
	Err    error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("synthesis job %s failed: %s", e.Handle, e.Reason)
}

func (e *JobFailedError) Unwrap() error {
	return e.Err
}
