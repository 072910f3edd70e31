// Package mock provides test doubles for the translate package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/eburon/livecaption/pkg/provider/translate"
)

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Translate. If nil and TranslateFunc is nil, the
	// input text is echoed back with a "[xx]" prefix for the target language.
	Result *translate.Result

	// Err, if non-nil, is returned as the error from Translate.
	Err error

	// TranslateFunc, if non-nil, overrides Result and Err entirely.
	TranslateFunc func(ctx context.Context, req translate.Request) (*translate.Result, error)

	// TranslateCalls records every request in order.
	TranslateCalls []translate.Request
}

// Translate records the call and returns the configured result.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, req)
	fn := p.TranslateFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return &translate.Result{
		TranslatedText: "[" + req.TargetLanguage + "] " + req.Text,
		OriginalText:   req.Text,
		SourceLanguage: "auto",
		TargetLanguage: req.TargetLanguage,
	}, nil
}

// CallCount returns the number of Translate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranslateCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
}

// Ensure Provider implements translate.Provider at compile time.
var _ translate.Provider = (*Provider)(nil)
