// Package speech defines the Provider interface for text-to-speech
// backends.
//
// A speech provider turns one translated text segment into raw PCM audio.
// Callers wrap the PCM into a playable container themselves (see pkg/wav),
// so providers only report the sample format they produced.
//
// Implementations must be safe for concurrent use.
package speech

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a backend finished without producing any
// audio bytes.
var ErrNoAudio = errors.New("speech: backend produced no audio")

// Voice selects the synthesis voice and spoken language.
type Voice struct {
	// Name is the backend voice name (e.g. "Kore"). Empty selects the
	// backend default.
	Name string

	// Language is the BCP-47 tag the text is written in.
	Language string
}

// Audio is raw synthesized audio.
type Audio struct {
	// PCM is 16-bit little-endian mono PCM.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz.
	SampleRate int
}

// Provider is the abstraction over any text-to-speech backend.
type Provider interface {
	// Synthesize produces audio for text. It blocks until the full audio is
	// available or ctx is cancelled. An empty result is reported as
	// [ErrNoAudio], never as a silent success.
	Synthesize(ctx context.Context, text string, voice Voice) (*Audio, error)
}
