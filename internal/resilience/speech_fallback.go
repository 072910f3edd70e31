package resilience

import (
	"context"

	"github.com/eburon/livecaption/pkg/provider/speech"
)

// SpeechFallback implements [speech.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
type SpeechFallback struct {
	group *FallbackGroup[speech.Provider]
}

// Compile-time interface assertion.
var _ speech.Provider = (*SpeechFallback)(nil)

// NewSpeechFallback creates a [SpeechFallback] with primary as the preferred
// backend.
func NewSpeechFallback(primary speech.Provider, primaryName string, cfg FallbackConfig) *SpeechFallback {
	return &SpeechFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesis provider as a fallback.
func (f *SpeechFallback) AddFallback(name string, provider speech.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize produces audio with the first healthy provider.
func (f *SpeechFallback) Synthesize(ctx context.Context, text string, voice speech.Voice) (*speech.Audio, error) {
	return ExecuteWithResult(f.group, func(p speech.Provider) (*speech.Audio, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
