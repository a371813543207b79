package resilience

import (
	"context"

	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

// TranscriberFallback implements [transcribe.Transcriber] with automatic
// failover across multiple transcription backends, typically a hosted job API
// poller backed by a local whisper.cpp fallback. Each backend has its own
// circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[transcribe.Transcriber]
}

// Compile-time interface assertion.
var _ transcribe.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary transcribe.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t transcribe.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe resolves audioRef against the first healthy backend. A primary
// failure, including a poll deadline expiry, moves on to the next backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audioRef string) (string, error) {
	return ExecuteWithResult(f.group, func(t transcribe.Transcriber) (string, error) {
		return t.Transcribe(ctx, audioRef)
	})
}
