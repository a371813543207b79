package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/speakdrill/speakdrill/pkg/history"
)

// SaveSubmission implements [history.Store]. It upserts sub into the
// submissions table. A nil Embedding is stored as NULL so the submission is
// excluded from similarity search.
func (s *Store) SaveSubmission(ctx context.Context, sub history.Submission) error {
	if sub.ID == "" {
		return fmt.Errorf("history store: save submission: ID must not be empty")
	}

	const q = `
		INSERT INTO submissions
		    (id, user_id, session_id, question_type, text, audio_ref, embedding, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    user_id       = EXCLUDED.user_id,
		    session_id    = EXCLUDED.session_id,
		    question_type = EXCLUDED.question_type,
		    text          = EXCLUDED.text,
		    audio_ref     = EXCLUDED.audio_ref,
		    embedding     = EXCLUDED.embedding,
		    submitted_at  = EXCLUDED.submitted_at`

	var vec any
	if sub.Embedding != nil {
		vec = pgvector.NewVector(sub.Embedding)
	}

	_, err := s.pool.Exec(ctx, q,
		sub.ID,
		sub.UserID,
		sub.SessionID,
		sub.QuestionType,
		sub.Text,
		sub.AudioRef,
		vec,
		sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("history store: save submission: %w", err)
	}
	return nil
}

// SearchSubmissions implements [history.Store]. It finds the topK submissions
// whose embeddings are closest (cosine distance) to the query embedding,
// filtered by filter. Submissions stored without an embedding never match.
func (s *Store) SearchSubmissions(ctx context.Context, embedding []float32, topK int, filter history.SubmissionFilter) ([]history.SubmissionResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+next(filter.UserID))
	}
	if filter.QuestionType != "" {
		conditions = append(conditions, "question_type = "+next(filter.QuestionType))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "submitted_at > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "submitted_at < "+next(filter.Before))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, session_id, question_type, text, audio_ref, embedding, submitted_at,
		       embedding <=> $1 AS distance
		FROM   submissions
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: search submissions: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.SubmissionResult, error) {
		var (
			sr  history.SubmissionResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&sr.Submission.ID,
			&sr.Submission.UserID,
			&sr.Submission.SessionID,
			&sr.Submission.QuestionType,
			&sr.Submission.Text,
			&sr.Submission.AudioRef,
			&vec,
			&sr.Submission.SubmittedAt,
			&sr.Distance,
		); err != nil {
			return history.SubmissionResult{}, err
		}
		sr.Submission.Embedding = vec.Slice()
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan submissions: %w", err)
	}
	if results == nil {
		results = []history.SubmissionResult{}
	}
	return results, nil
}
