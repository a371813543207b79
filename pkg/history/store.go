// Package history defines the learner history store used by the practice
// platform.
//
// Three record kinds are persisted:
//
//   - Turn: one utterance of an interactive practice session, appended as
//     the session runs.
//   - Submission: a finished answer handed in for scoring, written before
//     scoring starts so a grading failure never loses the answer.
//   - Report: the feedback produced for a submission, written after a
//     successful scoring pass.
//
// Submissions carry an optional embedding so weak-area analysis can search
// them by semantic similarity.
//
// All interfaces are public so external packages can supply alternative
// storage backends. Every implementation must be safe for concurrent use.
package history

import (
	"context"
	"time"
)

// SubmissionFilter narrows a semantic submission search.
// All non-zero fields are applied as AND conditions.
type SubmissionFilter struct {
	// UserID restricts results to a single learner.
	// An empty string searches across all learners.
	UserID string

	// QuestionType restricts results to one question type
	// (e.g., "essay", "read_aloud"). Empty matches all types.
	QuestionType string

	// After filters submissions handed in after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters submissions handed in before this instant (exclusive).
	Before time.Time
}

// SubmissionResult pairs a retrieved submission with its vector-space
// distance from the query embedding. Lower Distance means higher similarity.
type SubmissionResult struct {
	Submission Submission

	// Distance is the cosine distance to the query embedding.
	Distance float64
}

// Store is the learner history persistence port.
//
// Writes on a primary key (SaveSubmission, SaveReport) behave as upserts
// rather than returning an error on duplicates. Implementations must be safe
// for concurrent use.
type Store interface {
	// AppendTurn appends a session turn to the log for sessionID.
	// sessionID must be non-empty.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error

	// GetTurns returns all turns recorded for sessionID ordered by Index.
	// Returns an empty (non-nil) slice when the session has no turns.
	GetTurns(ctx context.Context, sessionID string) ([]Turn, error)

	// SaveSubmission upserts a submission. Called before scoring so the
	// answer survives a grading failure.
	SaveSubmission(ctx context.Context, sub Submission) error

	// SaveReport upserts the feedback report for a submission.
	SaveReport(ctx context.Context, rep Report) error

	// SearchSubmissions finds the topK submissions whose embeddings are
	// closest to the query embedding, filtered by filter. Results are
	// ordered by ascending Distance. Submissions stored without an
	// embedding are never returned.
	// Returns an empty (non-nil) slice when nothing matches.
	SearchSubmissions(ctx context.Context, embedding []float32, topK int, filter SubmissionFilter) ([]SubmissionResult, error)

	// Stats aggregates a learner's scoring history.
	// A learner with no history gets a zero-valued (non-nil) Stats.
	Stats(ctx context.Context, userID string) (*Stats, error)
}
