package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/speakdrill/speakdrill/internal/observe"
	"github.com/speakdrill/speakdrill/internal/scoring"
)

// maxSubmissionBody caps the POST /v1/submissions request size. Text answers
// are small; audio travels by reference, not in the request body.
const maxSubmissionBody = 1 << 20

// NewHandler builds the server's HTTP API around a, with request metrics and
// trace propagation applied to every route.
//
//	GET  /healthz         liveness probe
//	GET  /v1/sessions     active practice sessions
//	POST /v1/submissions  score a submission, returns the feedback report
func NewHandler(a *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("POST /v1/submissions", a.handleScoreSubmission)
	return observe.Middleware(a.metrics)(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionEntry is the wire form of a [SessionInfo].
type sessionEntry struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := a.sessions.List()
	entries := make([]sessionEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, sessionEntry{
			SessionID: info.SessionID,
			UserID:    info.UserID,
			State:     info.State.String(),
			StartedAt: info.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

// submissionRequest is the wire form of a [scoring.Request].
type submissionRequest struct {
	SubmissionID    string `json:"submissionId,omitempty"`
	UserID          string `json:"userId"`
	SessionID       string `json:"sessionId,omitempty"`
	QuestionType    string `json:"questionType"`
	QuestionContent string `json:"questionContent,omitempty"`
	Text            string `json:"text,omitempty"`
	AudioRef        string `json:"audioRef,omitempty"`
	HeardTranscript string `json:"heardTranscript,omitempty"`
}

func (a *App) handleScoreSubmission(w http.ResponseWriter, r *http.Request) {
	if a.scorer == nil {
		writeError(w, http.StatusServiceUnavailable, "scoring is not configured")
		return
	}

	var req submissionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := a.scorer.Score(r.Context(), scoring.Request{
		SubmissionID:    req.SubmissionID,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		QuestionType:    req.QuestionType,
		QuestionContent: req.QuestionContent,
		Text:            req.Text,
		AudioRef:        req.AudioRef,
		HeardTranscript: req.HeardTranscript,
	})
	if err != nil {
		switch {
		case errors.Is(err, scoring.ErrInvalidSubmission):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, scoring.ErrMalformedOutput), errors.Is(err, scoring.ErrUpstreamFailure):
			slog.Error("scoring failed", "user", req.UserID, "err", err)
			writeError(w, http.StatusBadGateway, "scoring failed")
		default:
			slog.Error("scoring failed", "user", req.UserID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
