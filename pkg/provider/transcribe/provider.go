// Package transcribe defines the interfaces for asynchronous speech
// transcription backends used by the scoring pipeline.
//
// Two abstraction levels are provided. Transcriber is the high-level,
// blocking operation the scoring orchestrator consumes: audio reference in,
// transcript out. JobAPI models the underlying submit-then-poll lifecycle of
// hosted transcription services; Poller adapts a JobAPI into a Transcriber.
//
// All implementations must be safe for concurrent use.
package transcribe

import (
	"context"
	"errors"
)

// Sentinel errors. Implementations wrap these so callers can classify
// failures with errors.Is.
var (
	// ErrTimeout is returned when a transcription job does not reach a
	// terminal status before the polling deadline.
	ErrTimeout = errors.New("transcribe: job timed out")

	// ErrJobFailed is returned when the upstream service reports the job in
	// error status.
	ErrJobFailed = errors.New("transcribe: job failed")

	// ErrMissingCredentials is returned before any network call when the
	// backend has no usable credentials.
	ErrMissingCredentials = errors.New("transcribe: missing credentials")
)

// JobStatus is the lifecycle state of an asynchronous transcription job.
// Transitions are monotonic: queued → processing → completed | error.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// order maps statuses to their position in the lifecycle for monotonicity
// checks. Terminal statuses share the highest rank.
func (s JobStatus) order() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusError:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the status is a lifecycle end state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job is a snapshot of an asynchronous transcription job.
type Job struct {
	// ID is the service-assigned job identifier.
	ID string

	// Status is the job's lifecycle state at snapshot time.
	Status JobStatus

	// Transcript holds the recognised text once Status is StatusCompleted.
	Transcript string

	// Error holds the upstream failure description when Status is StatusError.
	Error string
}

// Transcriber converts a stored audio recording into text. audioRef is an
// opaque reference understood by the implementation (typically a URL).
// The call blocks until the transcript is available, the implementation's
// deadline passes, or ctx is done.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// JobAPI is the submit-then-poll surface of a hosted transcription service.
type JobAPI interface {
	// Submit enqueues a transcription job for the audio at audioRef and
	// returns the job identifier.
	Submit(ctx context.Context, audioRef string) (string, error)

	// Poll fetches the current snapshot of a previously submitted job.
	Poll(ctx context.Context, jobID string) (Job, error)
}
