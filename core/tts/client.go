// Package tts adapts external text-to-speech providers to a single internal
// representation: mono mp3 plus optional character-level timing.
package tts

import (
	"context"
	"fmt"
)

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
	ProviderMock       = "mock"
)

// CharTiming is a provider-native character timestamp.
type CharTiming struct {
	Char  string  `json:"char"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`
}

// Result is the normalized synthesis output.
type Result struct {
	Audio           []byte
	Format          string  // always "mp3" after normalization
	DurationSeconds float64 // 0 when the provider does not report it
	CharTimings     []CharTiming
	CostUSD         float64
}

// HasNativeTiming reports whether the provider returned character timing.
func (r *Result) HasNativeTiming() bool {
	return len(r.CharTimings) > 0
}

// Synthesizer renders text to audio. Implementations are stateless adapters;
// they never write to the cache, so the same client serves both the
// pre-generation workers and the on-demand playback fallback.
type Synthesizer interface {
	// Name returns the provider tag used in cache keys.
	Name() string
	// Synthesize renders the text with the given voice.
	Synthesize(ctx context.Context, text, voiceID string) (*Result, error)
	// MaxCharacters is the provider's per-request text limit.
	MaxCharacters() int
}

// ProviderError is a failure attributable to the provider: rate limits,
// timeouts, rejected input. Retryable distinguishes transient failures from
// permanent input errors.
type ProviderError struct {
	Provider  string
	Status    int
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts provider %s: %s (status %d)", e.Provider, e.Message, e.Status)
}

// UnexpectedResponseError is a malformed payload from a provider, distinct
// from an explicit provider failure.
type UnexpectedResponseError struct {
	Provider string
	Message  string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("tts provider %s: unexpected response: %s", e.Provider, e.Message)
}

// IsRetryable reports whether an error should be retried with backoff.
// Malformed responses and permanent input errors fail the job immediately.
func IsRetryable(err error) bool {
	if pe, ok := err.(*ProviderError); ok {
		return pe.Retryable
	}
	return false
}

// Registry holds the configured providers, selected once per job rather than
// re-checked throughout the pipeline.
type Registry struct {
	providers map[string]Synthesizer
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Synthesizer) *Registry {
	reg := &Registry{providers: make(map[string]Synthesizer)}
	for _, p := range providers {
		reg.providers[p.Name()] = p
	}
	return reg
}

// Get returns the provider by name.
func (r *Registry) Get(name string) (Synthesizer, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tts provider %q", name)
	}
	return p, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
