package history

import (
	"encoding/json"
	"time"
)

// Turn is one utterance in an interactive practice session.
type Turn struct {
	// Role identifies who produced the turn: "user", "model" or "tool".
	Role string

	// Text is the transcript or message text of the turn.
	Text string

	// ToolCallID correlates a tool turn with the call that produced it.
	// Empty for user and model turns.
	ToolCallID string

	// Index is the zero-based position of the turn within its session.
	Index int

	// Timestamp is when the turn was recorded.
	Timestamp time.Time
}

// Submission is a finished answer handed in for scoring.
type Submission struct {
	// ID is the unique identifier for this submission (e.g., a UUID).
	ID string

	// UserID identifies the learner who submitted.
	UserID string

	// SessionID links the submission to the practice session it came from.
	// Empty for standalone submissions.
	SessionID string

	// QuestionType classifies the task (e.g., "essay", "read_aloud",
	// "lecture_summary").
	QuestionType string

	// Text is the written answer. Exactly one of Text and AudioRef is set.
	Text string

	// AudioRef is a URL or path to the recorded spoken answer.
	AudioRef string

	// Embedding is the vector representation of the answer content, used
	// for weak-area similarity search. May be nil when no embedding
	// provider was configured at submission time.
	Embedding []float32

	// SubmittedAt is when the answer was handed in.
	SubmittedAt time.Time
}

// Report is the persisted feedback for a scored submission.
type Report struct {
	// SubmissionID identifies the submission this report grades.
	SubmissionID string

	// UserID identifies the learner, denormalised for aggregation queries.
	UserID string

	// QuestionType mirrors the submission's question type.
	QuestionType string

	// OverallScore is the headline score on the rubric's scale.
	OverallScore float64

	// Payload is the full feedback document as produced by the scoring
	// pipeline, stored verbatim.
	Payload json.RawMessage

	// CreatedAt is when the report was produced.
	CreatedAt time.Time
}

// Stats aggregates a learner's scoring history.
type Stats struct {
	// Submissions is the total number of answers handed in.
	Submissions int

	// Reports is the number of submissions that received feedback.
	Reports int

	// AverageScore is the mean OverallScore across all reports.
	// Zero when the learner has no reports.
	AverageScore float64

	// ScoreByQuestionType maps question type to the mean OverallScore for
	// that type.
	ScoreByQuestionType map[string]float64

	// LastSubmittedAt is when the learner last handed in an answer.
	// Zero when the learner has no submissions.
	LastSubmittedAt time.Time
}
