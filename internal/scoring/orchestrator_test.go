package scoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/speakdrill/speakdrill/internal/scoring"
	"github.com/speakdrill/speakdrill/internal/tools"
	historymock "github.com/speakdrill/speakdrill/pkg/history/mock"
	embmock "github.com/speakdrill/speakdrill/pkg/provider/embeddings/mock"
	"github.com/speakdrill/speakdrill/pkg/provider/llm"
	llmmock "github.com/speakdrill/speakdrill/pkg/provider/llm/mock"
	tmock "github.com/speakdrill/speakdrill/pkg/provider/transcribe/mock"
)

const validReportJSON = `{
	"overallScore": 72,
	"summary": "A solid essay with a clear position.",
	"dimensions": [{"name": "Grammar", "score": 68, "comment": "Occasional tense slips."}],
	"strengths": ["clear thesis"],
	"areasForImprovement": ["verb tenses"],
	"suggestions": ["review the past perfect"]
}`

// stubFetcher is an in-memory AudioFetcher.
type stubFetcher struct {
	data   []byte
	format string
	err    error
}

func (f *stubFetcher) FetchAudio(_ context.Context, _ string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.format, nil
}

// echoCapability answers every tool invocation with a fixed payload.
type echoCapability struct{}

func (echoCapability) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: "fetch_user_statistics", Description: "Learner statistics"}
}

func (echoCapability) Invoke(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"submissions": 4}`), nil
}

func textRequest() scoring.Request {
	return scoring.Request{
		UserID:          "learner-1",
		SessionID:       "sess-1",
		QuestionType:    "essay",
		QuestionContent: "Do you agree that remote work improves productivity?",
		Text:            "I believe remote work improves productivity because commuting time is recovered.",
	}
}

func newOrchestrator(t *testing.T, cfg scoring.Config, opts ...scoring.Option) *scoring.Orchestrator {
	t.Helper()
	o, err := scoring.NewOrchestrator(cfg, opts...)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

// ─── TestScore_EssayScenario ─────────────────────────────────────────────────

func TestScore_EssayScenario(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: validReportJSON}}}
	store := historymock.NewStore()
	o := newOrchestrator(t, scoring.Config{Standard: backend, Store: store})

	report, err := o.Score(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	if report.OverallScore < 0 || report.OverallScore > scoring.MaxOverallScore {
		t.Errorf("overallScore out of range: %v", report.OverallScore)
	}
	if report.Suggestions == nil || report.Strengths == nil || report.AreasForImprovement == nil {
		t.Error("feedback lists must never be nil")
	}
	if len(store.Submissions) != 1 {
		t.Errorf("want 1 persisted submission, got %d", len(store.Submissions))
	}
	if len(store.Reports) != 1 {
		t.Errorf("want 1 persisted report, got %d", len(store.Reports))
	}
	for _, rec := range store.Reports {
		if rec.OverallScore != 72 {
			t.Errorf("persisted score: want 72, got %v", rec.OverallScore)
		}
	}
}

// ─── TestScore_BothFieldsRejectedBeforeNetwork ───────────────────────────────

func TestScore_BothFieldsRejectedBeforeNetwork(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: validReportJSON}}}
	o := newOrchestrator(t, scoring.Config{Standard: backend})

	req := textRequest()
	req.AudioRef = "https://audio.example/rec-1.wav"

	_, err := o.Score(context.Background(), req)
	if !errors.Is(err, scoring.ErrInvalidSubmission) {
		t.Fatalf("want ErrInvalidSubmission, got: %v", err)
	}
	if n := len(backend.CompleteCalls); n != 0 {
		t.Errorf("validation must happen before any network call, got %d calls", n)
	}
}

// ─── TestScore_NeitherFieldRejected ──────────────────────────────────────────

func TestScore_NeitherFieldRejected(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{}
	o := newOrchestrator(t, scoring.Config{Standard: backend})

	req := textRequest()
	req.Text = ""

	if _, err := o.Score(context.Background(), req); !errors.Is(err, scoring.ErrInvalidSubmission) {
		t.Fatalf("want ErrInvalidSubmission, got: %v", err)
	}
}

// ─── TestScore_MalformedOutput ───────────────────────────────────────────────

func TestScore_MalformedOutput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"not json", "I would give this essay a 72."},
		{"unknown field", `{"overallScore": 72, "summary": "ok", "grade": "B"}`},
		{"score above bound", `{"overallScore": 95, "summary": "ok"}`},
		{"negative score", `{"overallScore": -3, "summary": "ok"}`},
		{"trailing data", validReportJSON + `{"again": true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: tc.content}}}
			o := newOrchestrator(t, scoring.Config{Standard: backend})

			_, err := o.Score(context.Background(), textRequest())
			if !errors.Is(err, scoring.ErrMalformedOutput) {
				t.Fatalf("want ErrMalformedOutput, got: %v", err)
			}
		})
	}
}

// ─── TestScore_SubmissionSavedDespiteFailure ─────────────────────────────────

func TestScore_SubmissionSavedDespiteFailure(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{CompleteErr: errors.New("model overloaded")}
	store := historymock.NewStore()
	o := newOrchestrator(t, scoring.Config{Standard: backend, Store: store})

	_, err := o.Score(context.Background(), textRequest())
	if !errors.Is(err, scoring.ErrUpstreamFailure) {
		t.Fatalf("want ErrUpstreamFailure, got: %v", err)
	}
	if len(store.Submissions) != 1 {
		t.Errorf("submission must be persisted before scoring, got %d", len(store.Submissions))
	}
	if len(store.Reports) != 0 {
		t.Errorf("no report must be persisted on failure, got %d", len(store.Reports))
	}
}

// ─── TestScore_ToolRound ─────────────────────────────────────────────────────

func TestScore_ToolRound(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "tc-1", Name: "fetch_user_statistics", Arguments: `{"user_id": "learner-1"}`}}},
		{Content: validReportJSON},
	}}
	d := tools.NewDispatcher()
	d.Register(echoCapability{})
	o := newOrchestrator(t, scoring.Config{Standard: backend, Dispatcher: d})

	report, err := o.Score(context.Background(), textRequest())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if report.OverallScore != 72 {
		t.Errorf("overallScore: want 72, got %v", report.OverallScore)
	}
	if n := len(backend.CompleteCalls); n != 2 {
		t.Fatalf("want 2 model rounds, got %d", n)
	}

	// The second round must carry the correlated tool response.
	second := backend.CompleteCalls[1].Req.Messages
	var toolMsg *llm.Message
	for i := range second {
		if second[i].Role == "tool" {
			toolMsg = &second[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("second round has no tool message")
	}
	if toolMsg.ToolCallID != "tc-1" {
		t.Errorf("tool response id: want tc-1, got %q", toolMsg.ToolCallID)
	}
	if !strings.Contains(toolMsg.Content, "submissions") {
		t.Errorf("tool response content: %q", toolMsg.Content)
	}
}

// ─── TestScore_StepBudgetExhausted ───────────────────────────────────────────

func TestScore_StepBudgetExhausted(t *testing.T) {
	t.Parallel()

	// The mock repeats its last response, so the model loops on tool calls
	// forever.
	backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{ID: "tc-1", Name: "fetch_user_statistics", Arguments: `{}`}}},
	}}
	d := tools.NewDispatcher()
	d.Register(echoCapability{})
	o := newOrchestrator(t, scoring.Config{Standard: backend, Dispatcher: d}, scoring.WithMaxSteps(2))

	_, err := o.Score(context.Background(), textRequest())
	if !errors.Is(err, scoring.ErrUpstreamFailure) {
		t.Fatalf("want ErrUpstreamFailure, got: %v", err)
	}
	if n := len(backend.CompleteCalls); n != 2 {
		t.Errorf("want exactly 2 model rounds for a budget of 2, got %d", n)
	}
}

// ─── TestScore_AudioEvidence ─────────────────────────────────────────────────

func TestScore_AudioEvidence(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: validReportJSON}}}
	fetcher := &stubFetcher{data: []byte("RIFFdata"), format: "wav"}
	transcriber := &tmock.Transcriber{Transcript: "the quick brown fox jumps over the lazy dog"}
	o := newOrchestrator(t, scoring.Config{
		Standard:    backend,
		Fetcher:     fetcher,
		Transcriber: transcriber,
	})

	req := scoring.Request{
		UserID:          "learner-1",
		QuestionType:    "read_aloud",
		QuestionContent: "Read the passage aloud.",
		AudioRef:        "https://audio.example/rec-1.wav",
		HeardTranscript: "The quick brown fox jumps over the lazy dog.",
	}
	report, err := o.Score(context.Background(), req)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	msg := backend.CompleteCalls[0].Req.Messages[0]
	if string(msg.Audio) != "RIFFdata" || msg.AudioFormat != "wav" {
		t.Errorf("audio evidence not attached: format %q, %d bytes", msg.AudioFormat, len(msg.Audio))
	}
	if !strings.Contains(msg.Content, "the quick brown fox") {
		t.Errorf("verified transcript missing from evidence: %q", msg.Content)
	}
	// Captions and verified transcript differ only in case and punctuation.
	if report.TranscriptAgreement < 0.99 {
		t.Errorf("agreement: want ~1.0, got %v", report.TranscriptAgreement)
	}
}

// ─── TestScore_TranscriptionFailureDegrades ──────────────────────────────────

func TestScore_TranscriptionFailureDegrades(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: validReportJSON}}}
	fetcher := &stubFetcher{data: []byte("RIFFdata"), format: "wav"}
	transcriber := &tmock.Transcriber{Err: errors.New("job stuck")}
	o := newOrchestrator(t, scoring.Config{
		Standard:    backend,
		Fetcher:     fetcher,
		Transcriber: transcriber,
	})

	req := textRequest()
	req.Text = ""
	req.AudioRef = "https://audio.example/rec-2.wav"

	report, err := o.Score(context.Background(), req)
	if err != nil {
		t.Fatalf("a failed transcription must degrade to audio-only evidence, got: %v", err)
	}
	if report.TranscriptAgreement != 0 {
		t.Errorf("agreement must be zero without a verified transcript, got %v", report.TranscriptAgreement)
	}
}

// ─── TestScore_AudioFetchFailureIsFatal ──────────────────────────────────────

func TestScore_AudioFetchFailureIsFatal(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{}
	fetcher := &stubFetcher{err: errors.New("object not found")}
	o := newOrchestrator(t, scoring.Config{Standard: backend, Fetcher: fetcher})

	req := textRequest()
	req.Text = ""
	req.AudioRef = "https://audio.example/missing.wav"

	_, err := o.Score(context.Background(), req)
	if !errors.Is(err, scoring.ErrUpstreamFailure) {
		t.Fatalf("want ErrUpstreamFailure, got: %v", err)
	}
	if n := len(backend.CompleteCalls); n != 0 {
		t.Errorf("no model call without the submission audio, got %d", n)
	}
}

// ─── TestScore_TierRouting ───────────────────────────────────────────────────

func TestScore_TierRouting(t *testing.T) {
	t.Parallel()

	standard := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: validReportJSON}}}
	advanced := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: validReportJSON}}}
	o := newOrchestrator(t, scoring.Config{Standard: standard, Advanced: advanced})

	// Essay routes to the advanced tier.
	if _, err := o.Score(context.Background(), textRequest()); err != nil {
		t.Fatalf("Score essay: %v", err)
	}
	if len(advanced.CompleteCalls) != 1 || len(standard.CompleteCalls) != 0 {
		t.Errorf("essay must use the advanced tier: advanced=%d standard=%d",
			len(advanced.CompleteCalls), len(standard.CompleteCalls))
	}

	// A short type routes to the standard tier.
	req := textRequest()
	req.QuestionType = "sentence_completion"
	if _, err := o.Score(context.Background(), req); err != nil {
		t.Fatalf("Score sentence_completion: %v", err)
	}
	if len(standard.CompleteCalls) != 1 {
		t.Errorf("short types must use the standard tier, got %d calls", len(standard.CompleteCalls))
	}
}

// ─── TestScore_IndexesSubmissionEmbedding ────────────────────────────────────

func TestScore_IndexesSubmissionEmbedding(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: validReportJSON}}}
	store := historymock.NewStore()
	emb := &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}}
	o := newOrchestrator(t, scoring.Config{Standard: backend, Store: store, Embeddings: emb})

	req := textRequest()
	req.SubmissionID = "sub-42"
	if _, err := o.Score(context.Background(), req); err != nil {
		t.Fatalf("Score: %v", err)
	}

	sub, ok := store.Submissions["sub-42"]
	if !ok {
		t.Fatal("submission not persisted")
	}
	if len(sub.Embedding) != 3 {
		t.Errorf("submission not indexed, embedding: %v", sub.Embedding)
	}
}
