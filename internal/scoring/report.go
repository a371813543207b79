// Package scoring grades practice submissions: it assembles rubric and
// evidence, issues a bounded multi-step structured-generation request to an
// LLM backend, validates the returned FeedbackReport, and persists both the
// submission and the report to learner history.
//
// This package is internal because it encapsulates application-private
// grading policy and is not intended for import by external code.
package scoring

import (
	"errors"
	"fmt"
)

// Sentinel errors. The orchestrator wraps these so callers can classify
// failures with errors.Is.
var (
	// ErrInvalidSubmission is returned before any network call when a
	// request does not carry exactly one of Text and AudioRef, or is
	// otherwise unusable.
	ErrInvalidSubmission = errors.New("scoring: invalid submission")

	// ErrMalformedOutput is returned when the model's final answer does not
	// decode into a valid FeedbackReport. Invalid output is never coerced.
	ErrMalformedOutput = errors.New("scoring: malformed model output")

	// ErrUpstreamFailure is returned when the model call itself fails, or
	// when the step budget runs out before a final verdict.
	ErrUpstreamFailure = errors.New("scoring: upstream failure")
)

// MaxOverallScore is the top of the scoring scale shared by all rubrics.
const MaxOverallScore = 90

// DimensionScore is one rubric criterion's score within a FeedbackReport.
type DimensionScore struct {
	// Name matches a rubric criterion name.
	Name string `json:"name"`

	// Score is the criterion score on the same 0..90 scale as the overall
	// score.
	Score float64 `json:"score" jsonschema:"minimum=0,maximum=90"`

	// Comment is a short justification for the score.
	Comment string `json:"comment,omitempty"`
}

// FeedbackReport is the graded outcome of one submission. Its shape doubles
// as the JSON Schema handed to the model for structured output, so every
// field must stay JSON-representable.
type FeedbackReport struct {
	// OverallScore is the aggregate score in [0, 90].
	OverallScore float64 `json:"overallScore" jsonschema:"minimum=0,maximum=90"`

	// Summary is a short overall assessment in plain language.
	Summary string `json:"summary"`

	// Dimensions holds the per-criterion scores.
	Dimensions []DimensionScore `json:"dimensions"`

	// Strengths, AreasForImprovement and Suggestions are feedback lists
	// surfaced to the learner. After Validate they are never nil, though
	// they may be empty.
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areasForImprovement"`
	Suggestions         []string `json:"suggestions"`

	// TranscriptAgreement is the similarity between the live captions and
	// the independently verified transcript, in [0, 1]. Computed locally
	// for audio submissions; zero otherwise.
	TranscriptAgreement float64 `json:"transcriptAgreement,omitempty"`
}

// Validate checks the report against the scoring contract and canonicalises
// nil feedback lists to empty slices. A non-nil error means the report must
// be treated as malformed output.
func (r *FeedbackReport) Validate() error {
	if r.OverallScore < 0 || r.OverallScore > MaxOverallScore {
		return fmt.Errorf("overallScore %v outside [0, %d]", r.OverallScore, MaxOverallScore)
	}
	for i, d := range r.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("dimension %d: empty name", i)
		}
		if d.Score < 0 || d.Score > MaxOverallScore {
			return fmt.Errorf("dimension %q: score %v outside [0, %d]", d.Name, d.Score, MaxOverallScore)
		}
	}
	if r.Dimensions == nil {
		r.Dimensions = []DimensionScore{}
	}
	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	if r.AreasForImprovement == nil {
		r.AreasForImprovement = []string{}
	}
	if r.Suggestions == nil {
		r.Suggestions = []string{}
	}
	return nil
}
