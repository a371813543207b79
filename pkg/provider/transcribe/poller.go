package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is the gap between successive status polls.
	DefaultPollInterval = time.Second

	// DefaultPollDeadline is the wall-clock budget for a job to reach a
	// terminal status, measured from Transcribe entry.
	DefaultPollDeadline = 2 * time.Minute
)

// PollerOption is a functional option for configuring a Poller.
type PollerOption func(*Poller)

// WithPollInterval overrides the gap between status polls.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithPollDeadline overrides the wall-clock budget per transcription.
func WithPollDeadline(d time.Duration) PollerOption {
	return func(p *Poller) { p.deadline = d }
}

// Poller adapts a JobAPI into a blocking Transcriber. It submits the job,
// then polls on a fixed interval until the job reaches a terminal status, the
// deadline passes, or ctx is done. Waiting is timer-driven: cancellation
// takes effect between polls, not only at poll boundaries.
//
// Poller also enforces lifecycle monotonicity: a job that reports an earlier
// status than one already observed indicates a confused upstream and aborts
// the wait.
type Poller struct {
	api      JobAPI
	interval time.Duration
	deadline time.Duration
	log      *slog.Logger
}

var _ Transcriber = (*Poller)(nil)

// NewPoller creates a Poller over the given JobAPI.
func NewPoller(api JobAPI, opts ...PollerOption) *Poller {
	p := &Poller{
		api:      api,
		interval: DefaultPollInterval,
		deadline: DefaultPollDeadline,
		log:      slog.Default().With("component", "transcribe.poller"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Transcribe implements Transcriber.
func (p *Poller) Transcribe(ctx context.Context, audioRef string) (string, error) {
	jobID, err := p.api.Submit(ctx, audioRef)
	if err != nil {
		return "", fmt.Errorf("transcribe: submit: %w", err)
	}
	p.log.Debug("transcription job submitted", "jobId", jobID)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	deadline := time.After(p.deadline)

	lastRank := StatusQueued.order()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", fmt.Errorf("transcribe: job %s: %w", jobID, ErrTimeout)
		case <-timer.C:
		}

		job, err := p.api.Poll(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("transcribe: poll %s: %w", jobID, err)
		}

		rank := job.Status.order()
		if rank < 0 {
			return "", fmt.Errorf("transcribe: job %s reported unknown status %q", jobID, job.Status)
		}
		if rank < lastRank {
			return "", fmt.Errorf("transcribe: job %s status regressed to %q", jobID, job.Status)
		}
		lastRank = rank

		switch job.Status {
		case StatusCompleted:
			return job.Transcript, nil
		case StatusError:
			if job.Error != "" {
				return "", fmt.Errorf("transcribe: job %s: %w: %s", jobID, ErrJobFailed, job.Error)
			}
			return "", fmt.Errorf("transcribe: job %s: %w", jobID, ErrJobFailed)
		}

		timer.Reset(p.interval)
	}
}
