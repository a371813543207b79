package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/speakdrill/speakdrill/pkg/history"
)

// SaveReport implements [history.Store]. It upserts rep into the reports table
// keyed by submission ID, so re-scoring a submission replaces its feedback.
func (s *Store) SaveReport(ctx context.Context, rep history.Report) error {
	if rep.SubmissionID == "" {
		return fmt.Errorf("history store: save report: SubmissionID must not be empty")
	}

	const q = `
		INSERT INTO reports
		    (submission_id, user_id, question_type, overall_score, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (submission_id) DO UPDATE SET
		    user_id       = EXCLUDED.user_id,
		    question_type = EXCLUDED.question_type,
		    overall_score = EXCLUDED.overall_score,
		    payload       = EXCLUDED.payload,
		    created_at    = EXCLUDED.created_at`

	payload := rep.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.pool.Exec(ctx, q,
		rep.SubmissionID,
		rep.UserID,
		rep.QuestionType,
		rep.OverallScore,
		payload,
		rep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history store: save report: %w", err)
	}
	return nil
}

// Stats implements [history.Store]. It aggregates a learner's submission and
// report history in two queries.
func (s *Store) Stats(ctx context.Context, userID string) (*history.Stats, error) {
	stats := &history.Stats{
		ScoreByQuestionType: map[string]float64{},
	}

	const subQ = `
		SELECT count(*), coalesce(max(submitted_at), to_timestamp(0))
		FROM   submissions
		WHERE  user_id = $1`

	var last time.Time
	if err := s.pool.QueryRow(ctx, subQ, userID).Scan(&stats.Submissions, &last); err != nil {
		return nil, fmt.Errorf("history store: stats: submissions: %w", err)
	}
	if stats.Submissions > 0 {
		stats.LastSubmittedAt = last
	}

	const repQ = `
		SELECT question_type, count(*), avg(overall_score)
		FROM   reports
		WHERE  user_id = $1
		GROUP  BY question_type`

	rows, err := s.pool.Query(ctx, repQ, userID)
	if err != nil {
		return nil, fmt.Errorf("history store: stats: reports: %w", err)
	}

	type typeRow struct {
		questionType string
		count        int
		avg          float64
	}
	typeRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (typeRow, error) {
		var tr typeRow
		if err := row.Scan(&tr.questionType, &tr.count, &tr.avg); err != nil {
			return typeRow{}, err
		}
		return tr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: stats: scan reports: %w", err)
	}

	var weighted float64
	for _, tr := range typeRows {
		stats.Reports += tr.count
		stats.ScoreByQuestionType[tr.questionType] = tr.avg
		weighted += tr.avg * float64(tr.count)
	}
	if stats.Reports > 0 {
		stats.AverageScore = weighted / float64(stats.Reports)
	}
	return stats, nil
}
