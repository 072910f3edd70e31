// Package asr defines the Provider interface for batch speech-recognition
// backends.
//
// Unlike a streaming recognizer, a batch provider receives one complete
// audio chunk (a few seconds of meeting audio, typically WAV) and returns a
// single [Result] with the transcript text and, when the backend supports
// diarization, per-word speaker assignments.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"
	"fmt"
)

// Word is one recognized word with its diarization speaker id.
type Word struct {
	// Text is the recognized word, punctuation attached.
	Text string

	// Speaker is the zero-based speaker id assigned by diarization, or -1
	// when the backend did not diarize.
	Speaker int

	// Confidence is the per-word confidence (0.0 to 1.0). Zero when the
	// backend does not report it.
	Confidence float64
}

// Result is the outcome of transcribing one audio chunk.
type Result struct {
	// Text is the full transcript of the chunk. Empty when the chunk
	// contained no recognizable speech.
	Text string

	// Words carries per-word detail when the backend provides it. Nil for
	// backends without word-level output.
	Words []Word

	// Confidence is the overall confidence (0.0 to 1.0), zero if unreported.
	Confidence float64

	// DetectedLanguage is the BCP-47 tag of the detected spoken language,
	// empty if the backend does not detect language.
	DetectedLanguage string
}

// Empty reports whether the result contains no speech.
func (r *Result) Empty() bool {
	return r == nil || r.Text == ""
}

// Provider is the abstraction over any batch speech-recognition backend.
type Provider interface {
	// Transcribe recognizes one complete audio chunk. mimeType describes the
	// container (e.g. "audio/wav"). A chunk with no speech returns an empty
	// Result, not an error; errors indicate the backend itself failed.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error)
}

// ProviderError describes a failed backend call, keeping the HTTP status so
// callers can distinguish auth and quota failures from transient ones.
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
