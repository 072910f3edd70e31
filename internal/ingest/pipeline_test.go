package ingest

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/pkg/provider/asr"
	asrmock "github.com/eburon/livecaption/pkg/provider/asr/mock"
)

func testPipeline(t *testing.T, rec *asrmock.Provider) (*Pipeline, *transcript.MemStore) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	store := transcript.NewMemStore()
	return New(rec, store, WithMetrics(m)), store
}

func TestProcessChunkStoresFormattedText(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Provider{
		Result: &asr.Result{
			Text: "hello there how are you",
			Words: []asr.Word{
				{Text: "hello", Speaker: 0},
				{Text: "there", Speaker: 0},
				{Text: "how", Speaker: 1},
				{Text: "are", Speaker: 1},
				{Text: "you", Speaker: 1},
			},
			DetectedLanguage: "en",
		},
	}
	p, store := testPipeline(t, rec)

	status, err := p.ProcessChunk(context.Background(), Chunk{
		MeetingID: "m1", Index: 0, Data: []byte{1}, MimeType: "audio/wav",
	})
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("want success, got %v", status)
	}

	stored, err := store.GetLatest(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	want := "Male 1: hello there\nFemale 1: how are you"
	if stored.Text != want {
		t.Fatalf("want %q, got %q", want, stored.Text)
	}
	if stored.SpeakerLabel != "Female 1" {
		t.Errorf("want dominant speaker Female 1, got %q", stored.SpeakerLabel)
	}
	if stored.SourceLanguage != "en" {
		t.Errorf("want detected language stored, got %q", stored.SourceLanguage)
	}
	if stored.ChunkIndex != 0 {
		t.Errorf("want chunk index 0, got %d", stored.ChunkIndex)
	}
}

func TestProcessChunkReplacesPreviousChunk(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Provider{
		Result: &asr.Result{
			Text:  "first part",
			Words: []asr.Word{{Text: "first", Speaker: 0}, {Text: "part", Speaker: 0}},
		},
	}
	p, store := testPipeline(t, rec)
	ctx := context.Background()

	if _, err := p.ProcessChunk(ctx, Chunk{MeetingID: "m1", Index: 0, Data: []byte{1}, MimeType: "audio/wav"}); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}

	rec.Result = &asr.Result{
		Text:  "second part",
		Words: []asr.Word{{Text: "second", Speaker: 1}, {Text: "part", Speaker: 1}},
	}
	if _, err := p.ProcessChunk(ctx, Chunk{MeetingID: "m1", Index: 1, Data: []byte{2}, MimeType: "audio/wav"}); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}

	// The row is overwritten, never merged: only the latest chunk remains.
	stored, err := store.GetLatest(ctx, "m1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	want := "Female 1: second part"
	if stored.Text != want {
		t.Fatalf("want %q, got %q", want, stored.Text)
	}
	if stored.SpeakerLabel != "Female 1" {
		t.Errorf("want speaker label Female 1, got %q", stored.SpeakerLabel)
	}
	if stored.ChunkIndex != 1 {
		t.Errorf("want chunk index advanced to 1, got %d", stored.ChunkIndex)
	}
}

func TestProcessChunkSkipsEmpty(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Provider{Result: &asr.Result{}}
	p, store := testPipeline(t, rec)

	status, err := p.ProcessChunk(context.Background(), Chunk{
		MeetingID: "m1", Index: 0, Data: []byte{1}, MimeType: "audio/wav",
	})
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if status != StatusSkippedEmpty {
		t.Fatalf("want skipped_empty, got %v", status)
	}
	if _, err := store.GetLatest(context.Background(), "m1"); !errors.Is(err, transcript.ErrNotFound) {
		t.Fatal("silent chunk must not create a transcript row")
	}
}

func TestProcessChunkRecognizerFailure(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Provider{Err: errors.New("backend down")}
	p, store := testPipeline(t, rec)

	_, err := p.ProcessChunk(context.Background(), Chunk{
		MeetingID: "m1", Index: 0, Data: []byte{1}, MimeType: "audio/wav",
	})
	if err == nil {
		t.Fatal("want error from failed recognition")
	}
	if _, err := store.GetLatest(context.Background(), "m1"); !errors.Is(err, transcript.ErrNotFound) {
		t.Fatal("failed chunk must leave the store untouched")
	}
}

func TestProcessChunkWithoutDiarizationFallsBack(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Provider{
		Result: &asr.Result{Text: "no speaker data here"},
	}
	p, store := testPipeline(t, rec)

	if _, err := p.ProcessChunk(context.Background(), Chunk{
		MeetingID: "m1", Index: 0, Data: []byte{1}, MimeType: "audio/wav",
	}); err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}

	stored, err := store.GetLatest(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if stored.Text != "no speaker data here" {
		t.Fatalf("want raw transcript fallback, got %q", stored.Text)
	}
	if stored.SpeakerLabel != "" {
		t.Errorf("want empty speaker label without word data, got %q", stored.SpeakerLabel)
	}
}
