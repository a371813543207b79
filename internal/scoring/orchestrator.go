package scoring

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/speakdrill/speakdrill/internal/observe"
	"github.com/speakdrill/speakdrill/internal/tools"
	"github.com/speakdrill/speakdrill/pkg/history"
	"github.com/speakdrill/speakdrill/pkg/provider/embeddings"
	"github.com/speakdrill/speakdrill/pkg/provider/llm"
	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

// defaultMaxSteps bounds the reasoning loop: each model round, including
// tool-call rounds, consumes one step.
const defaultMaxSteps = 6

// AudioFetcher retrieves raw submission audio by reference. The storage
// behind the reference is a collaborator outside this module.
type AudioFetcher interface {
	// FetchAudio returns the audio bytes and their container format (e.g.
	// "wav", "mp3") for audioRef.
	FetchAudio(ctx context.Context, audioRef string) (data []byte, format string, err error)
}

// Request is one submission to grade.
type Request struct {
	// SubmissionID identifies the submission; generated when empty.
	SubmissionID string

	// UserID and SessionID tie the submission to learner history.
	UserID    string
	SessionID string

	// QuestionType selects the rubric and the model tier.
	QuestionType string

	// QuestionContent is the prompt or passage the learner responded to.
	QuestionContent string

	// Exactly one of Text and AudioRef must be set.
	Text     string
	AudioRef string

	// HeardTranscript is what the live session captioned while the learner
	// spoke, used to corroborate the verified transcript. Audio submissions
	// only; optional.
	HeardTranscript string
}

// Config carries the orchestrator's collaborators. Standard is the only
// required backend; everything else degrades gracefully when absent.
type Config struct {
	// Standard grades every submission unless the tier router picks
	// TierAdvanced and Advanced is set.
	Standard llm.Provider
	Advanced llm.Provider

	// Transcriber and Fetcher supply evidence for audio submissions.
	Transcriber transcribe.Transcriber
	Fetcher     AudioFetcher

	// Dispatcher serves tool calls the model makes mid-reasoning. Nil means
	// no tools are offered.
	Dispatcher *tools.Dispatcher

	// Store persists submissions and reports. Nil disables persistence.
	Store history.Store

	// Embeddings indexes submissions for semantic weak-area search. Nil
	// disables indexing.
	Embeddings embeddings.Provider

	// Rubrics and Tiers default to the built-in generic rubric and the
	// built-in tier routing.
	Rubrics *RubricSet
	Tiers   *TierRouter
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithMaxSteps overrides the reasoning step budget.
func WithMaxSteps(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithMetrics enables telemetry recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator grades submissions through a bounded multi-step structured
// generation loop. Independent Score calls share no mutable state and may
// run concurrently.
type Orchestrator struct {
	standard    llm.Provider
	advanced    llm.Provider
	transcriber transcribe.Transcriber
	fetcher     AudioFetcher
	dispatcher  *tools.Dispatcher
	store       history.Store
	embeddings  embeddings.Provider
	rubrics     *RubricSet
	tiers       *TierRouter
	metrics     *observe.Metrics
	log         *slog.Logger

	maxSteps int
	schema   *llm.ResponseSchema
}

// NewOrchestrator builds an Orchestrator. It fails only on a missing
// Standard backend or a schema reflection problem.
func NewOrchestrator(cfg Config, opts ...Option) (*Orchestrator, error) {
	if cfg.Standard == nil {
		return nil, errors.New("scoring: standard backend is required")
	}

	schema, err := reflectReportSchema()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		standard:    cfg.Standard,
		advanced:    cfg.Advanced,
		transcriber: cfg.Transcriber,
		fetcher:     cfg.Fetcher,
		dispatcher:  cfg.Dispatcher,
		store:       cfg.Store,
		embeddings:  cfg.Embeddings,
		rubrics:     cfg.Rubrics,
		tiers:       cfg.Tiers,
		log:         slog.Default(),
		maxSteps:    defaultMaxSteps,
		schema:      schema,
	}
	if o.advanced == nil {
		o.advanced = cfg.Standard
	}
	if o.rubrics == nil {
		o.rubrics = DefaultRubricSet()
	}
	if o.tiers == nil {
		o.tiers = NewTierRouter(nil)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// reflectReportSchema derives the structured-output schema from the
// FeedbackReport type, inlining all definitions.
func reflectReportSchema() (*llm.ResponseSchema, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&FeedbackReport{})

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("scoring: marshal report schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("scoring: decode report schema: %w", err)
	}
	return &llm.ResponseSchema{
		Name:        "FeedbackReport",
		Description: "Graded feedback for one English practice submission.",
		Schema:      m,
	}, nil
}

// Score grades one submission. Request validation happens before any
// network call; the submission is persisted before grading so a scoring
// failure never loses it.
func (o *Orchestrator) Score(ctx context.Context, req Request) (*FeedbackReport, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.ScoringDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	if req.SubmissionID == "" {
		req.SubmissionID = newSubmissionID()
	}
	rubric := o.rubrics.For(req.QuestionType)
	tier := o.tiers.TierFor(req.QuestionType)
	backend := o.standard
	if tier == TierAdvanced {
		backend = o.advanced
	}

	sub := history.Submission{
		ID:           req.SubmissionID,
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		QuestionType: req.QuestionType,
		Text:         req.Text,
		AudioRef:     req.AudioRef,
		SubmittedAt:  time.Now(),
	}
	o.saveSubmission(ctx, sub)
	o.recordStep(ctx, "submit", "ok")

	evidence, err := o.gatherEvidence(ctx, req)
	if err != nil {
		o.recordStep(ctx, "evidence", "error")
		return nil, err
	}
	o.recordStep(ctx, "evidence", "ok")

	// Index the submission once its best textual form is known.
	if text := evidence.indexText(req); text != "" {
		o.indexSubmission(ctx, sub, text)
	}

	report, err := o.verdictLoop(ctx, backend, rubric, req, evidence)
	if err != nil {
		return nil, err
	}
	report.TranscriptAgreement = evidence.agreement

	o.saveReport(ctx, req, report)
	o.log.Info("submission scored",
		"submission_id", req.SubmissionID,
		"question_type", req.QuestionType,
		"tier", string(tier),
		"overall_score", report.OverallScore)
	return report, nil
}

func validateRequest(req Request) error {
	if req.QuestionType == "" {
		return fmt.Errorf("%w: question type is required", ErrInvalidSubmission)
	}
	hasText := req.Text != ""
	hasAudio := req.AudioRef != ""
	if hasText == hasAudio {
		return fmt.Errorf("%w: exactly one of text and audio reference must be set", ErrInvalidSubmission)
	}
	return nil
}

// evidence is the material gathered for one grading request.
type evidence struct {
	audioData   []byte
	audioFormat string

	// verified is the independent transcript for audio submissions; empty
	// when transcription failed or was not applicable.
	verified  string
	agreement float64
}

// indexText picks the best textual rendition of the submission for semantic
// indexing.
func (e evidence) indexText(req Request) string {
	if req.Text != "" {
		return req.Text
	}
	return e.verified
}

// gatherEvidence fetches audio bytes and the verified transcript in
// parallel. A fetch failure is fatal (the model cannot grade without the
// submission); a transcription failure degrades to audio-only evidence.
func (o *Orchestrator) gatherEvidence(ctx context.Context, req Request) (evidence, error) {
	var ev evidence
	if req.AudioRef == "" {
		return ev, nil
	}
	if o.fetcher == nil {
		return ev, fmt.Errorf("%w: no audio fetcher configured", ErrUpstreamFailure)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, format, err := o.fetcher.FetchAudio(gctx, req.AudioRef)
		if err != nil {
			return fmt.Errorf("%w: fetch audio: %v", ErrUpstreamFailure, err)
		}
		ev.audioData = data
		ev.audioFormat = format
		return nil
	})
	g.Go(func() error {
		if o.transcriber == nil {
			return nil
		}
		t0 := time.Now()
		transcript, err := o.transcriber.Transcribe(gctx, req.AudioRef)
		if o.metrics != nil {
			o.metrics.TranscriptionDuration.Record(ctx, time.Since(t0).Seconds())
		}
		if err != nil {
			o.log.Warn("scoring: verified transcript unavailable",
				"submission_id", req.SubmissionID, "err", err)
			return nil
		}
		ev.verified = transcript
		return nil
	})
	if err := g.Wait(); err != nil {
		return evidence{}, err
	}

	if ev.verified != "" && req.HeardTranscript != "" {
		ev.agreement = Agreement(req.HeardTranscript, ev.verified)
	}
	return ev, nil
}

// verdictLoop runs the bounded reasoning loop: each iteration is one model
// round, either a batch of tool calls or the final structured verdict.
func (o *Orchestrator) verdictLoop(ctx context.Context, backend llm.Provider, rubric Rubric, req Request, ev evidence) (*FeedbackReport, error) {
	var toolDefs []llm.ToolDefinition
	if o.dispatcher != nil {
		toolDefs = o.dispatcher.Definitions()
	}

	msgs := []llm.Message{{
		Role:        "user",
		Content:     buildEvidencePrompt(req, ev),
		Audio:       ev.audioData,
		AudioFormat: ev.audioFormat,
	}}

	for step := 1; step <= o.maxSteps; step++ {
		resp, err := backend.Complete(ctx, llm.CompletionRequest{
			Messages:       msgs,
			SystemPrompt:   buildSystemPrompt(rubric),
			Tools:          toolDefs,
			ResponseSchema: o.schema,
		})
		if err != nil {
			o.recordStep(ctx, "verdict", "error")
			return nil, fmt.Errorf("%w: complete: %v", ErrUpstreamFailure, err)
		}

		if len(resp.ToolCalls) > 0 {
			o.recordStep(ctx, "tools", "ok")
			msgs = append(msgs, llm.Message{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, tc := range resp.ToolCalls {
				msgs = append(msgs, llm.Message{
					Role:       "tool",
					ToolCallID: tc.ID,
					Content:    string(o.executeTool(ctx, tc)),
				})
			}
			continue
		}

		report, err := decodeReport(resp.Content)
		if err != nil {
			o.recordStep(ctx, "verdict", "malformed")
			return nil, err
		}
		o.recordStep(ctx, "verdict", "ok")
		return report, nil
	}

	return nil, fmt.Errorf("%w: no final verdict within %d steps", ErrUpstreamFailure, o.maxSteps)
}

// executeTool serves one mid-reasoning tool call. Failures come back as an
// error payload so the loop can continue.
func (o *Orchestrator) executeTool(ctx context.Context, tc llm.ToolCall) json.RawMessage {
	if o.dispatcher == nil {
		return json.RawMessage(`{"error": "no tool backend configured"}`)
	}
	return o.dispatcher.ExecuteSafe(ctx, tc.Name, json.RawMessage(tc.Arguments))
}

// decodeReport strictly decodes the model's final answer. Unknown fields,
// trailing data and contract violations are all malformed output.
func decodeReport(content string) (*FeedbackReport, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()

	var report FeedbackReport
	if err := dec.Decode(&report); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedOutput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after verdict", ErrMalformedOutput)
	}
	if err := report.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return &report, nil
}

func buildSystemPrompt(rubric Rubric) string {
	var b strings.Builder
	b.WriteString("You are an experienced English language examiner. ")
	b.WriteString("Grade the learner's submission against the rubric below. ")
	b.WriteString("Use the available tools when learner history would sharpen the feedback. ")
	b.WriteString("Answer with the final JSON verdict only.\n\n")
	b.WriteString(rubric.Prompt())
	return b.String()
}

func buildEvidencePrompt(req Request, ev evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question type: %s\n", req.QuestionType)
	if req.QuestionContent != "" {
		fmt.Fprintf(&b, "Question:\n%s\n\n", req.QuestionContent)
	}
	switch {
	case req.Text != "":
		fmt.Fprintf(&b, "Learner submission (text):\n%s\n", req.Text)
	default:
		b.WriteString("Learner submission: attached audio recording.\n")
		if ev.verified != "" {
			fmt.Fprintf(&b, "Independently verified transcript:\n%s\n", ev.verified)
		}
		if req.HeardTranscript != "" {
			fmt.Fprintf(&b, "Live session captions:\n%s\n", req.HeardTranscript)
		}
		if ev.verified != "" && req.HeardTranscript != "" {
			fmt.Fprintf(&b, "Caption/transcript agreement: %.2f\n", ev.agreement)
		}
	}
	return b.String()
}

// ── Persistence ───────────────────────────────────────────────────────────────

// saveSubmission persists the submission best-effort. The learner's work is
// already safe in the request; a store outage must not block grading.
func (o *Orchestrator) saveSubmission(ctx context.Context, sub history.Submission) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveSubmission(ctx, sub); err != nil {
		o.log.Warn("scoring: persist submission failed",
			"submission_id", sub.ID, "err", err)
	}
}

// indexSubmission embeds text and upserts the submission with its vector.
func (o *Orchestrator) indexSubmission(ctx context.Context, sub history.Submission, text string) {
	if o.store == nil || o.embeddings == nil {
		return
	}
	vec, err := o.embeddings.Embed(ctx, text)
	if err != nil {
		o.log.Warn("scoring: embed submission failed",
			"submission_id", sub.ID, "err", err)
		return
	}
	sub.Text = text
	sub.Embedding = vec
	if err := o.store.SaveSubmission(ctx, sub); err != nil {
		o.log.Warn("scoring: index submission failed",
			"submission_id", sub.ID, "err", err)
	}
}

func (o *Orchestrator) saveReport(ctx context.Context, req Request, report *FeedbackReport) {
	if o.store == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		o.log.Warn("scoring: encode report failed",
			"submission_id", req.SubmissionID, "err", err)
		return
	}
	rec := history.Report{
		SubmissionID: req.SubmissionID,
		UserID:       req.UserID,
		QuestionType: req.QuestionType,
		OverallScore: report.OverallScore,
		Payload:      payload,
		CreatedAt:    time.Now(),
	}
	if err := o.store.SaveReport(ctx, rec); err != nil {
		o.log.Warn("scoring: persist report failed",
			"submission_id", req.SubmissionID, "err", err)
	}
}

func (o *Orchestrator) recordStep(ctx context.Context, step, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordScoringStep(ctx, step, status)
}

// newSubmissionID mints a random submission identifier.
func newSubmissionID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return "sub-" + hex.EncodeToString(buf[:])
}
