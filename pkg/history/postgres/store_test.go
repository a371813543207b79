package postgres_test

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/speakdrill/speakdrill/pkg/history"
	"github.com/speakdrill/speakdrill/pkg/history/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if SPEAKDRILL_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SPEAKDRILL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SPEAKDRILL_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS reports CASCADE",
		"DROP TABLE IF EXISTS submissions CASCADE",
		"DROP TABLE IF EXISTS session_turns CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestTurns_AppendAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	turns := []history.Turn{
		{Role: "user", Text: "Could you repeat the question?", Index: 0, Timestamp: now.Add(-2 * time.Minute)},
		{Role: "model", Text: "Describe a memorable journey you have taken.", Index: 1, Timestamp: now.Add(-1 * time.Minute)},
		{Role: "tool", Text: `{"streak": 4}`, ToolCallID: "call-1", Index: 2, Timestamp: now},
	}
	for _, turn := range turns {
		if err := store.AppendTurn(ctx, "session-1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := store.GetTurns(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetTurns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetTurns: want 3, got %d", len(got))
	}
	for i, turn := range got {
		if turn.Index != i {
			t.Errorf("turn %d: Index = %d", i, turn.Index)
		}
		if turn.Text != turns[i].Text {
			t.Errorf("turn %d: Text = %q, want %q", i, turn.Text, turns[i].Text)
		}
	}
	if got[2].ToolCallID != "call-1" {
		t.Errorf("tool turn: ToolCallID = %q", got[2].ToolCallID)
	}

	// A session with no turns gets an empty, non-nil slice.
	empty, err := store.GetTurns(ctx, "session-unknown")
	if err != nil {
		t.Fatalf("GetTurns empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("GetTurns empty: want [], got %v", empty)
	}
}

func TestTurns_EmptySessionIDRejected(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppendTurn(context.Background(), "", history.Turn{Role: "user"}); err == nil {
		t.Fatal("AppendTurn with empty sessionID: want error, got nil")
	}
}

func TestSubmissions_SaveAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	subs := []history.Submission{
		{
			ID: "sub-1", UserID: "learner-1", QuestionType: "essay",
			Text:      "Travel broadens the mind because it exposes us to other cultures.",
			Embedding: []float32{1, 0, 0, 0}, SubmittedAt: now.Add(-2 * time.Hour),
		},
		{
			ID: "sub-2", UserID: "learner-1", QuestionType: "essay",
			Text:      "I beleive travel is good becuase you see new places.",
			Embedding: []float32{0.9, 0.1, 0, 0}, SubmittedAt: now.Add(-1 * time.Hour),
		},
		{
			ID: "sub-3", UserID: "learner-2", QuestionType: "read_aloud",
			AudioRef:  "https://cdn.example.com/rec/3.wav",
			Embedding: []float32{0, 0, 1, 0}, SubmittedAt: now,
		},
		// No embedding: must be invisible to similarity search.
		{
			ID: "sub-4", UserID: "learner-1", QuestionType: "essay",
			Text: "Pending embedding.", SubmittedAt: now,
		},
	}
	for _, sub := range subs {
		if err := store.SaveSubmission(ctx, sub); err != nil {
			t.Fatalf("SaveSubmission %s: %v", sub.ID, err)
		}
	}

	results, err := store.SearchSubmissions(ctx, []float32{1, 0, 0, 0}, 10, history.SubmissionFilter{
		UserID: "learner-1",
	})
	if err != nil {
		t.Fatalf("SearchSubmissions: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchSubmissions: want 2, got %d", len(results))
	}
	if results[0].Submission.ID != "sub-1" {
		t.Errorf("closest match: want sub-1, got %s", results[0].Submission.ID)
	}
	if results[0].Distance > results[1].Distance {
		t.Errorf("results not ordered by distance: %v then %v", results[0].Distance, results[1].Distance)
	}
	if math.Abs(results[0].Distance) > 1e-6 {
		t.Errorf("identical vector: want distance ~0, got %v", results[0].Distance)
	}

	// Upsert replaces the stored row.
	updated := subs[0]
	updated.Text = "Revised essay text."
	if err := store.SaveSubmission(ctx, updated); err != nil {
		t.Fatalf("SaveSubmission upsert: %v", err)
	}
	results, err = store.SearchSubmissions(ctx, []float32{1, 0, 0, 0}, 1, history.SubmissionFilter{UserID: "learner-1"})
	if err != nil {
		t.Fatalf("SearchSubmissions after upsert: %v", err)
	}
	if len(results) != 1 || results[0].Submission.Text != "Revised essay text." {
		t.Errorf("upsert not applied: %+v", results)
	}
}

func TestReports_SaveAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for _, sub := range []history.Submission{
		{ID: "sub-1", UserID: "learner-1", QuestionType: "essay", Text: "a", SubmittedAt: now.Add(-time.Hour)},
		{ID: "sub-2", UserID: "learner-1", QuestionType: "essay", Text: "b", SubmittedAt: now},
		{ID: "sub-3", UserID: "learner-1", QuestionType: "read_aloud", AudioRef: "rec.wav", SubmittedAt: now.Add(-2 * time.Hour)},
	} {
		if err := store.SaveSubmission(ctx, sub); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}

	payload, _ := json.Marshal(map[string]any{"overallScore": 72.0})
	reports := []history.Report{
		{SubmissionID: "sub-1", UserID: "learner-1", QuestionType: "essay", OverallScore: 72, Payload: payload, CreatedAt: now},
		{SubmissionID: "sub-2", UserID: "learner-1", QuestionType: "essay", OverallScore: 78, CreatedAt: now},
		{SubmissionID: "sub-3", UserID: "learner-1", QuestionType: "read_aloud", OverallScore: 60, CreatedAt: now},
	}
	for _, rep := range reports {
		if err := store.SaveReport(ctx, rep); err != nil {
			t.Fatalf("SaveReport %s: %v", rep.SubmissionID, err)
		}
	}

	stats, err := store.Stats(ctx, "learner-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Submissions != 3 {
		t.Errorf("Submissions = %d, want 3", stats.Submissions)
	}
	if stats.Reports != 3 {
		t.Errorf("Reports = %d, want 3", stats.Reports)
	}
	if math.Abs(stats.AverageScore-70) > 1e-9 {
		t.Errorf("AverageScore = %v, want 70", stats.AverageScore)
	}
	if math.Abs(stats.ScoreByQuestionType["essay"]-75) > 1e-9 {
		t.Errorf("essay average = %v, want 75", stats.ScoreByQuestionType["essay"])
	}
	if stats.LastSubmittedAt.Before(now.Add(-time.Minute)) {
		t.Errorf("LastSubmittedAt = %v, want ~%v", stats.LastSubmittedAt, now)
	}

	// An unknown learner gets zero-valued stats, not an error.
	zero, err := store.Stats(ctx, "learner-unknown")
	if err != nil {
		t.Fatalf("Stats unknown: %v", err)
	}
	if zero.Submissions != 0 || zero.Reports != 0 || !zero.LastSubmittedAt.IsZero() {
		t.Errorf("unknown learner stats: %+v", zero)
	}
}
