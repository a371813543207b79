package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/speakdrill/speakdrill/pkg/provider/embeddings"
	"github.com/speakdrill/speakdrill/pkg/provider/live"
	"github.com/speakdrill/speakdrill/pkg/provider/llm"
	"github.com/speakdrill/speakdrill/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. main.go registers the factories it links in; the app layer
// then creates providers purely from config entries. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	live        map[string]func(ProviderEntry) (live.Provider, error)
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	embeddings  map[string]func(ProviderEntry) (embeddings.Provider, error)
	transcriber map[string]func(TranscriptionConfig) (transcribe.Transcriber, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:        make(map[string]func(ProviderEntry) (live.Provider, error)),
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embeddings:  make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		transcriber: make(map[string]func(TranscriptionConfig) (transcribe.Transcriber, error)),
	}
}

// RegisterLive registers a realtime speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterLLM registers a scoring model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterTranscriber registers a transcription backend factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(TranscriptionConfig) (transcribe.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// CreateLive constructs the realtime speech provider selected by entry.
// Returns (nil, nil) when entry.Name is empty.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM constructs the scoring model selected by entry.
// Returns (nil, nil) when entry.Name is empty.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings constructs the embeddings provider selected by entry.
// Returns (nil, nil) when entry.Name is empty.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscriber constructs the transcription backend selected by tc.
// Returns (nil, nil) when tc.Name is empty.
func (r *Registry) CreateTranscriber(tc TranscriptionConfig) (transcribe.Transcriber, error) {
	if tc.Name == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.transcriber[tc.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription backend %q", ErrProviderNotRegistered, tc.Name)
	}
	return factory(tc)
}
