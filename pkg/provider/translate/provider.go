// Package translate defines the Provider interface for text translation
// backends.
//
// A translation provider receives one batch of transcript text plus a target
// language and returns the translated text along with the original. Speaker
// labels embedded in the text (lines like "Male 1: ...") must be preserved
// verbatim by every implementation.
//
// Implementations must be safe for concurrent use.
package translate

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyTranslation is returned when a backend answered successfully but
// produced no usable translation text.
var ErrEmptyTranslation = errors.New("translate: backend returned empty translation")

// Request describes one translation call.
type Request struct {
	// Text is the text to translate. Speaker label prefixes must survive
	// translation unchanged.
	Text string

	// TargetLanguage is the language to translate into (BCP-47 or a plain
	// name, backend dependent).
	TargetLanguage string

	// SourceLanguage is the source language, or "auto" / empty to let the
	// backend detect it.
	SourceLanguage string
}

// Result is the outcome of one translation call.
type Result struct {
	// TranslatedText is the translation, trimmed of surrounding whitespace.
	TranslatedText string

	// OriginalText echoes the input text.
	OriginalText string

	// SourceLanguage is the detected or requested source language.
	SourceLanguage string

	// TargetLanguage echoes the requested target language.
	TargetLanguage string
}

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate translates req.Text into req.TargetLanguage. An empty
	// translation from the backend is an error, never a silent empty result.
	Translate(ctx context.Context, req Request) (*Result, error)
}

// ProviderError describes a failed backend call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
