package resilience

import (
	"context"

	"github.com/speakdrill/speakdrill/pkg/provider/llm"
)

// VerdictFallback implements [llm.Provider] with automatic failover across
// multiple completion backends. The scoring pipeline uses it so a grading
// request survives an outage of the primary model vendor. Each backend has
// its own circuit breaker; when the primary fails or its breaker is open,
// the next healthy fallback is tried.
type VerdictFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*VerdictFallback)(nil)

// NewVerdictFallback creates a [VerdictFallback] with primary as the
// preferred backend.
func NewVerdictFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *VerdictFallback {
	return &VerdictFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional completion provider as a fallback.
func (f *VerdictFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
//
// Fallback backends may lack native structured output support; callers that
// set a ResponseSchema must validate the decoded result regardless.
func (f *VerdictFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the capabilities of the primary. This does not
// participate in failover because capabilities are static metadata.
func (f *VerdictFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return llm.ModelCapabilities{}
}
