package ports

import (
	"context"
	"fmt"
	"time"

	"legalscan/internal/domain"
)

// JobHandle identifies a submitted job on a backend. It is opaque to the
// orchestrator; only the backend that issued it can interpret it.
type JobHandle string

type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Backend is one external analysis service plus the protocol logic needed to
// drive it. Submit hands the checked-out workspace to the backend, Poll is a
// side-effect-free observation of the job, Fetch is valid only after Poll
// reports JobDone and returns findings already normalized to the domain
// model. HealthCheck is for startup diagnostics, never the scan hot path.
type Backend interface {
	Name() string
	Submit(ctx context.Context, workspace string) (JobHandle, error)
	Poll(ctx context.Context, handle JobHandle) (JobState, error)
	Fetch(ctx context.Context, handle JobHandle) ([]domain.Finding, error)
	HealthCheck(ctx context.Context) error
}

// SubmissionError means the backend was unreachable or rejected the input.
// It is fatal to that backend's run only.
type SubmissionError struct {
	Backend string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: submission failed: %v", e.Backend, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TimeoutError means the poll loop gave up before the job reached a terminal
// state.
type TimeoutError struct {
	Backend string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: job timed out after %s", e.Backend, e.Elapsed.Round(time.Second))
}

// ParseError means the backend produced output that could not be normalized
// into findings.
type ParseError struct {
	Backend string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %v", e.Backend, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
