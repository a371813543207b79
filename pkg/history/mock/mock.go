// Package mock provides an in-memory test double for the history.Store
// interface.
//
// Store keeps every record in plain slices and maps so tests can assert on
// what was persisted without a database. Error fields force specific failures.
package mock

import (
	"context"
	"sync"

	"github.com/speakdrill/speakdrill/pkg/history"
)

// Store is a mock implementation of history.Store.
type Store struct {
	mu sync.Mutex

	// AppendTurnErr, if non-nil, is returned from AppendTurn.
	AppendTurnErr error

	// SaveSubmissionErr, if non-nil, is returned from SaveSubmission.
	SaveSubmissionErr error

	// SaveReportErr, if non-nil, is returned from SaveReport.
	SaveReportErr error

	// SearchErr, if non-nil, is returned from SearchSubmissions.
	SearchErr error

	// StatsErr, if non-nil, is returned from Stats.
	StatsErr error

	// SearchResults is returned from SearchSubmissions when set.
	SearchResults []history.SubmissionResult

	// StatsValue is returned from Stats when set; otherwise a zero-valued
	// Stats is returned.
	StatsValue *history.Stats

	// Turns maps session ID to the turns appended for it, in order.
	Turns map[string][]history.Turn

	// Submissions records every saved submission keyed by ID.
	Submissions map[string]history.Submission

	// Reports records every saved report keyed by submission ID.
	Reports map[string]history.Report

	// SearchCalls records the topK of every SearchSubmissions call.
	SearchCalls []int

	// StatsCalls records the userID of every Stats call.
	StatsCalls []string
}

// NewStore returns a Store with its record maps initialised.
func NewStore() *Store {
	return &Store{
		Turns:       map[string][]history.Turn{},
		Submissions: map[string]history.Submission{},
		Reports:     map[string]history.Report{},
	}
}

// AppendTurn records the turn under sessionID.
func (s *Store) AppendTurn(_ context.Context, sessionID string, turn history.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendTurnErr != nil {
		return s.AppendTurnErr
	}
	s.Turns[sessionID] = append(s.Turns[sessionID], turn)
	return nil
}

// GetTurns returns the turns recorded for sessionID.
func (s *Store) GetTurns(_ context.Context, sessionID string) ([]history.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]history.Turn, len(s.Turns[sessionID]))
	copy(turns, s.Turns[sessionID])
	return turns, nil
}

// SaveSubmission records sub keyed by its ID.
func (s *Store) SaveSubmission(_ context.Context, sub history.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveSubmissionErr != nil {
		return s.SaveSubmissionErr
	}
	s.Submissions[sub.ID] = sub
	return nil
}

// SaveReport records rep keyed by its submission ID.
func (s *Store) SaveReport(_ context.Context, rep history.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveReportErr != nil {
		return s.SaveReportErr
	}
	s.Reports[rep.SubmissionID] = rep
	return nil
}

// SearchSubmissions records the call and returns SearchResults.
func (s *Store) SearchSubmissions(_ context.Context, _ []float32, topK int, _ history.SubmissionFilter) ([]history.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = append(s.SearchCalls, topK)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if s.SearchResults == nil {
		return []history.SubmissionResult{}, nil
	}
	return s.SearchResults, nil
}

// Stats records the call and returns StatsValue.
func (s *Store) Stats(_ context.Context, userID string) (*history.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatsCalls = append(s.StatsCalls, userID)
	if s.StatsErr != nil {
		return nil, s.StatsErr
	}
	if s.StatsValue != nil {
		return s.StatsValue, nil
	}
	return &history.Stats{ScoreByQuestionType: map[string]float64{}}, nil
}

// Ensure Store implements history.Store at compile time.
var _ history.Store = (*Store)(nil)
