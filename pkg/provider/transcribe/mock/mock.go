// Package mock provides test doubles for the transcribe package interfaces.
//
// JobAPI plays back a scripted sequence of Job snapshots, one per Poll call,
// sticking on the last entry once the script is exhausted. Transcriber
// returns a fixed transcript or error.
package mock

import (
	"context"
	"sync"

	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

// JobAPI is a scripted mock implementation of transcribe.JobAPI.
type JobAPI struct {
	mu sync.Mutex

	// JobID is returned by Submit. Defaults to "job-1" when empty.
	JobID string

	// SubmitErr, if non-nil, is returned by Submit.
	SubmitErr error

	// Script is the sequence of snapshots returned by successive Poll calls.
	// Once exhausted, the last snapshot repeats.
	Script []transcribe.Job

	// PollErr, if non-nil, is returned by every Poll call.
	PollErr error

	// SubmitCalls records every audioRef passed to Submit.
	SubmitCalls []string

	// PollCalls counts Poll invocations.
	PollCalls int

	next int
}

var _ transcribe.JobAPI = (*JobAPI)(nil)

// Submit records the call and returns JobID, SubmitErr.
func (m *JobAPI) Submit(_ context.Context, audioRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubmitCalls = append(m.SubmitCalls, audioRef)
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	if m.JobID == "" {
		return "job-1", nil
	}
	return m.JobID, nil
}

// Poll returns the next scripted snapshot.
func (m *JobAPI) Poll(_ context.Context, jobID string) (transcribe.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PollCalls++
	if m.PollErr != nil {
		return transcribe.Job{}, m.PollErr
	}
	if len(m.Script) == 0 {
		return transcribe.Job{ID: jobID, Status: transcribe.StatusQueued}, nil
	}
	job := m.Script[m.next]
	if m.next < len(m.Script)-1 {
		m.next++
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// Transcriber is a mock implementation of transcribe.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe.
	Transcript string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Calls records every audioRef passed to Transcribe.
	Calls []string
}

var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns Transcript, Err.
func (m *Transcriber) Transcribe(_ context.Context, audioRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, audioRef)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Transcript, nil
}
