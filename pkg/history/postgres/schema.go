// Package postgres provides a PostgreSQL-backed implementation of the learner
// history store.
//
// All record kinds share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	_ = store.AppendTurn(ctx, sessionID, turn)
//	_ = store.SaveSubmission(ctx, sub)
//	results, _ := store.SearchSubmissions(ctx, queryVec, 10, filter)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS session_turns (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    role          TEXT         NOT NULL,
    text          TEXT         NOT NULL,
    tool_call_id  TEXT         NOT NULL DEFAULT '',
    turn_index    INT          NOT NULL,
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_turns_session
    ON session_turns (session_id, turn_index);
`

const ddlReports = `
CREATE TABLE IF NOT EXISTS reports (
    submission_id  TEXT         PRIMARY KEY,
    user_id        TEXT         NOT NULL,
    question_type  TEXT         NOT NULL DEFAULT '',
    overall_score  DOUBLE PRECISION NOT NULL,
    payload        JSONB        NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_user
    ON reports (user_id);

CREATE INDEX IF NOT EXISTS idx_reports_user_type
    ON reports (user_id, question_type);
`

// ddlSubmissions returns the submissions DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlSubmissions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS submissions (
    id             TEXT         PRIMARY KEY,
    user_id        TEXT         NOT NULL,
    session_id     TEXT         NOT NULL DEFAULT '',
    question_type  TEXT         NOT NULL DEFAULT '',
    text           TEXT         NOT NULL DEFAULT '',
    audio_ref      TEXT         NOT NULL DEFAULT '',
    embedding      vector(%d),
    submitted_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_user
    ON submissions (user_id, submitted_at);

CREATE INDEX IF NOT EXISTS idx_submissions_embedding
    ON submissions USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlTurns,
		ddlSubmissions(embeddingDimensions),
		ddlReports,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
