// Package mock provides test doubles for the asr package interfaces.
//
// Use Provider to return a fixed Result (or error) and inspect the audio
// chunks that were submitted for transcription.
package mock

import (
	"context"
	"sync"

	"github.com/eburon/livecaption/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the submitted audio bytes.
	Audio []byte
	// MimeType is the submitted MIME type.
	MimeType string
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. If nil, an empty result is returned.
	Result *asr.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if non-nil, overrides Result and Err entirely.
	TranscribeFunc func(ctx context.Context, audio []byte, mimeType string) (*asr.Result, error)

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (*asr.Result, error) {
	p.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Audio: cp, MimeType: mimeType})
	fn := p.TranscribeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, mimeType)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &asr.Result{}, nil
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)
