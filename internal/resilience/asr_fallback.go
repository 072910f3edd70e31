package resilience

import (
	"context"

	"github.com/eburon/livecaption/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple recognition backends. Each backend has its own circuit breaker.
//
// Note that fallback backends may lack diarization; a chunk recognized by a
// non-diarizing fallback simply produces an unlabelled transcript section.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognition provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe recognizes the chunk with the first healthy provider.
func (f *ASRFallback) Transcribe(ctx context.Context, audio []byte, mimeType string) (*asr.Result, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (*asr.Result, error) {
		return p.Transcribe(ctx, audio, mimeType)
	})
}
