// Package ingest turns uploaded audio chunks into transcript updates.
//
// Each chunk runs through speech recognition, speaker formatting, and a
// store upsert. Chunks are independent: a failed chunk is reported to the
// caller but leaves the stored transcript untouched, and the next chunk
// proceeds as usual.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/eburon/livecaption/internal/diarize"
	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/pkg/provider/asr"
)

// Status classifies the outcome of processing one chunk.
type Status string

const (
	// StatusSuccess means the chunk produced text that was stored.
	StatusSuccess Status = "success"

	// StatusSkippedEmpty means the chunk contained no recognizable speech
	// and was dropped without touching the store.
	StatusSkippedEmpty Status = "skipped_empty"
)

// Chunk is one uploaded audio chunk awaiting transcription.
type Chunk struct {
	MeetingID string
	Index     int
	Data      []byte
	MimeType  string
}

// Pipeline processes audio chunks for all meetings. It is safe for
// concurrent use; each chunk replaces the meeting's stored transcript, so
// out-of-order submission only affects which chunk readers see last.
type Pipeline struct {
	recognizer asr.Provider
	store      transcript.Store
	metrics    *observe.Metrics
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithMetrics attaches a metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline recognizing speech with recognizer and persisting
// results into store.
func New(recognizer asr.Provider, store transcript.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		recognizer: recognizer,
		store:      store,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// ProcessChunk recognizes one chunk and replaces the meeting's stored
// transcript with the chunk's speaker-formatted text. The store row is
// overwritten wholesale on every chunk, never merged with previous state.
func (p *Pipeline) ProcessChunk(ctx context.Context, chunk Chunk) (Status, error) {
	log := observe.Logger(ctx).With("meeting_id", chunk.MeetingID, "chunk_index", chunk.Index)

	start := time.Now()
	result, err := p.recognizer.Transcribe(ctx, chunk.Data, chunk.MimeType)
	p.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordChunk(ctx, "error")
		p.metrics.RecordProviderError(ctx, "asr", "transcribe")
		return "", fmt.Errorf("ingest: transcribe chunk %d: %w", chunk.Index, err)
	}

	if result.Empty() {
		p.metrics.RecordChunk(ctx, string(StatusSkippedEmpty))
		log.Debug("chunk contained no speech, skipping")
		return StatusSkippedEmpty, nil
	}

	words := toWords(result.Words)
	formatted := diarize.Format(words, result.Text)

	var label string
	if speaker, ok := diarize.DominantSpeaker(words); ok {
		label = diarize.SpeakerLabel(speaker)
	}

	rec := transcript.Record{
		MeetingID:      chunk.MeetingID,
		ChunkIndex:     chunk.Index,
		Text:           formatted,
		SpeakerLabel:   label,
		SourceLanguage: result.DetectedLanguage,
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		p.metrics.RecordChunk(ctx, "error")
		return "", fmt.Errorf("ingest: store transcript: %w", err)
	}

	p.metrics.RecordChunk(ctx, string(StatusSuccess))
	log.Info("chunk transcribed",
		"chars", len(formatted),
		"words", len(result.Words),
		"speaker", label,
		"language", result.DetectedLanguage,
	)
	return StatusSuccess, nil
}

// toWords converts recognizer words into diarization input, dropping words
// without a speaker assignment so the formatter falls back to raw text.
func toWords(words []asr.Word) []diarize.Word {
	out := make([]diarize.Word, 0, len(words))
	for _, w := range words {
		if w.Speaker < 0 {
			continue
		}
		out = append(out, diarize.Word{Text: w.Text, Speaker: w.Speaker})
	}
	if len(out) != len(words) {
		// Partial speaker data is unreliable; treat it as absent.
		return nil
	}
	return out
}
