// Package mock provides test doubles for the speech package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/eburon/livecaption/pkg/provider/speech"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice speech.Voice
}

// Provider is a mock implementation of speech.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize. If nil and SynthesizeFunc is nil, a
	// small non-empty PCM buffer at 24 kHz is returned.
	Audio *speech.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// SynthesizeFunc, if non-nil, overrides Audio and Err entirely.
	SynthesizeFunc func(ctx context.Context, text string, voice speech.Voice) (*speech.Audio, error)

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured audio.
func (p *Provider) Synthesize(ctx context.Context, text string, voice speech.Voice) (*speech.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	audio, err := p.Audio, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	if audio != nil {
		return audio, nil
	}
	return &speech.Audio{PCM: []byte{0, 0, 0, 0}, SampleRate: 24000}, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements speech.Provider at compile time.
var _ speech.Provider = (*Provider)(nil)
