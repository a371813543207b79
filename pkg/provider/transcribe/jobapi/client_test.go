package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

func TestSubmit_PostsAudioRefAndReturnsJobID(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req struct {
			AudioURL string `json:"audioUrl"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotBody = req.AudioURL
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-7", "status": "queued"})
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := c.Submit(context.Background(), "https://store/rec/9.wav")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-7" {
		t.Errorf("job id = %q; want job-7", id)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/v1/jobs" {
		t.Errorf("path = %q; want /v1/jobs", gotPath)
	}
	if gotBody != "https://store/rec/9.wav" {
		t.Errorf("audioUrl = %q", gotBody)
	}
}

func TestSubmit_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "secret", WithMaxRetries(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := c.Submit(context.Background(), "ref")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-1" {
		t.Errorf("job id = %q", id)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d; want 3", got)
	}
}

func TestSubmit_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "secret", WithMaxRetries(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Submit(context.Background(), "ref"); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d; want 1 (no retries on 4xx)", got)
	}
}

func TestSubmit_MissingCredentials(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Submit(context.Background(), "ref")
	if !errors.Is(err, transcribe.ErrMissingCredentials) {
		t.Fatalf("err = %v; want ErrMissingCredentials", err)
	}
	if calls.Load() != 0 {
		t.Error("no network call expected without credentials")
	}
}

func TestPoll_DecodesJobSnapshot(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job-3" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":         "job-3",
			"status":     "completed",
			"transcript": "the quick brown fox",
		})
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	job, err := c.Poll(context.Background(), "job-3")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if job.Status != transcribe.StatusCompleted {
		t.Errorf("status = %q; want completed", job.Status)
	}
	if job.Transcript != "the quick brown fox" {
		t.Errorf("transcript = %q", job.Transcript)
	}
}

func TestPoll_ServerErrorSurfacesImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Poll(context.Background(), "job-1"); err == nil {
		t.Fatal("expected error for 500 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d; want 1 (poll never retries)", got)
	}
}

func TestNew_EmptyEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New("", "key"); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
