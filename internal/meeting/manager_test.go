package meeting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/eburon/livecaption/internal/batch"
	"github.com/eburon/livecaption/internal/guard"
	"github.com/eburon/livecaption/internal/ingest"
	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/recorder"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/internal/ttsqueue"
	"github.com/eburon/livecaption/pkg/provider/asr"
	asrmock "github.com/eburon/livecaption/pkg/provider/asr/mock"
	"github.com/eburon/livecaption/pkg/provider/speech"
	speechmock "github.com/eburon/livecaption/pkg/provider/speech/mock"
	translatemock "github.com/eburon/livecaption/pkg/provider/translate/mock"
)

// fakeUnit returns fixed bytes when stopped.
type fakeUnit struct{}

func (u *fakeUnit) Stop() ([]byte, error) { return []byte("chunk-audio"), nil }

// fakeSource accepts every format.
type fakeSource struct{}

func (s *fakeSource) Open(ctx context.Context, mimeType string) (recorder.CaptureUnit, error) {
	return &fakeUnit{}, nil
}

// recordingSink collects played segments.
type recordingSink struct {
	mu    sync.Mutex
	plays []ttsqueue.Key
}

func (s *recordingSink) Play(ctx context.Context, key ttsqueue.Key, audio *speech.Audio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, key)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestManager(t *testing.T, sink AudioSink) *Manager {
	t.Helper()

	metrics := testMetrics(t)
	store := transcript.NewMemStore()
	recog := &asrmock.Provider{Result: &asr.Result{
		Text:             "Hello there everyone today!",
		DetectedLanguage: "en",
	}}

	m, err := NewManager(ManagerConfig{
		Store:      store,
		Ingest:     ingest.New(recog, store, ingest.WithMetrics(metrics)),
		Translator: &translatemock.Provider{},
		Speech:     &speechmock.Provider{},
		Source:     &fakeSource{},
		Sink:       sink,
		// Tight thresholds and intervals so the pipeline completes quickly.
		BatchOptions: []batch.Option{
			batch.WithMinChars(1),
			batch.WithSentenceThreshold(1),
		},
		PollInterval:    10 * time.Millisecond,
		RecorderOptions: []recorder.Option{recorder.WithChunkInterval(10 * time.Millisecond)},
		Metrics:         metrics,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestManagerRefusesFeedbackLoop(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	err := m.Start(context.Background(), StartConfig{
		MeetingID:      "m1",
		CaptureDevice:  "speakerphone",
		PlaybackDevice: "speakerphone",
	})
	if !errors.Is(err, guard.ErrFeedbackLoop) {
		t.Fatalf("want ErrFeedbackLoop, got %v", err)
	}
	if len(m.Active()) != 0 {
		t.Fatal("meeting must not be active after refused start")
	}
}

func TestManagerRejectsDuplicateMeeting(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	cfg := StartConfig{MeetingID: "m1", CaptureDevice: "mic", PlaybackDevice: "headset"}
	if err := m.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background(), cfg); err == nil {
		t.Fatal("want error for duplicate meeting")
	}
}

func TestManagerEndToEnd(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	m := newTestManager(t, sink)
	ctx := context.Background()

	if err := m.Start(ctx, StartConfig{MeetingID: "m1", CaptureDevice: "mic", PlaybackDevice: "headset"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.AddListener(ctx, "m1", "l1", "nl"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	// Capture → ingest → batch → translate → synthesize → sink.
	waitFor(t, func() bool { return sink.count() >= 1 })

	history, err := m.History("m1", "l1", "nl")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("want at least one caption item")
	}
	if history[0].Failed {
		t.Fatalf("unexpected failed caption: %+v", history[0])
	}

	wantKey := ttsqueue.Key{ListenerID: "l1", Language: "nl"}
	sink.mu.Lock()
	gotKey := sink.plays[0]
	sink.mu.Unlock()
	if gotKey != wantKey {
		t.Errorf("playback key: got %+v, want %+v", gotKey, wantKey)
	}

	// Ducking must not remain engaged once no segment is speaking.
	waitFor(t, func() bool { return !m.Ducker().Ducked() })

	if err := m.Stop(ctx, "m1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(m.Active()) != 0 {
		t.Fatal("meeting still listed after Stop")
	}
}

// ambientPlayer is a volume-tracked fake safe for concurrent use.
type ambientPlayer struct {
	mu     sync.Mutex
	volume float64
}

func (p *ambientPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *ambientPlayer) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

func TestManagerKeepsDuckingWhileAnotherListenerSpeaks(t *testing.T) {
	t.Parallel()

	metrics := testMetrics(t)
	store := transcript.NewMemStore()
	recog := &asrmock.Provider{Result: &asr.Result{
		Text:             "Hello there everyone today!",
		DetectedLanguage: "en",
	}}

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	gated := &speechmock.Provider{
		SynthesizeFunc: func(ctx context.Context, text string, voice speech.Voice) (*speech.Audio, error) {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &speech.Audio{PCM: []byte{0, 0}, SampleRate: 24000}, nil
		},
	}

	sink := &recordingSink{}
	pipeline := ingest.New(recog, store, ingest.WithMetrics(metrics))
	m, err := NewManager(ManagerConfig{
		Store:      store,
		Ingest:     pipeline,
		Translator: &translatemock.Provider{},
		Speech:     gated,
		Sink:       sink,
		BatchOptions: []batch.Option{
			batch.WithMinChars(1),
			batch.WithSentenceThreshold(1),
		},
		PollInterval: 10 * time.Millisecond,
		Metrics:      metrics,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	ambient := &ambientPlayer{volume: 1.0}
	m.Ducker().Track(ambient)

	ctx := context.Background()
	if err := m.Start(ctx, StartConfig{MeetingID: "m1", CaptureDevice: "mic", PlaybackDevice: "headset"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.AddListener(ctx, "m1", "l1", "nl"); err != nil {
		t.Fatalf("AddListener l1: %v", err)
	}
	if err := m.AddListener(ctx, "m1", "l2", "fr"); err != nil {
		t.Fatalf("AddListener l2: %v", err)
	}

	// One chunk feeds both listeners, so exactly two segments synthesize
	// concurrently on their own queues.
	if _, err := pipeline.ProcessChunk(ctx, ingest.Chunk{
		MeetingID: "m1", Index: 0, Data: []byte{1}, MimeType: "audio/wav",
	}); err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("segment %d never started synthesizing", i)
		}
	}
	if !m.Ducker().Ducked() {
		t.Fatal("want ducking engaged while segments speak")
	}

	// Let one segment finish. Ambient volume must stay low because the
	// other listener's segment is still speaking.
	release <- struct{}{}
	waitFor(t, func() bool { return sink.count() >= 1 })
	if !m.Ducker().Ducked() {
		t.Fatal("ducking released while a segment is still speaking")
	}
	if v := ambient.Volume(); v >= 1.0 {
		t.Fatalf("ambient volume restored too early: %v", v)
	}

	release <- struct{}{}
	waitFor(t, func() bool { return sink.count() >= 2 })
	waitFor(t, func() bool { return !m.Ducker().Ducked() })
	if v := ambient.Volume(); v != 1.0 {
		t.Fatalf("want ambient volume restored to 1.0, got %v", v)
	}
}

func TestManagerAddListenerUnknownMeeting(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	if err := m.AddListener(context.Background(), "nope", "l1", "nl"); err == nil {
		t.Fatal("want error for unknown meeting")
	}
}

func TestManagerRemoveListener(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.Start(ctx, StartConfig{MeetingID: "m1", CaptureDevice: "mic", PlaybackDevice: "headset"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.AddListener(ctx, "m1", "l1", "nl"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if err := m.RemoveListener(ctx, "m1", "l1", "nl"); err != nil {
		t.Fatalf("RemoveListener: %v", err)
	}
	if _, err := m.History("m1", "l1", "nl"); err == nil {
		t.Fatal("want error for removed listener")
	}
	// Removing twice fails.
	if err := m.RemoveListener(ctx, "m1", "l1", "nl"); err == nil {
		t.Fatal("want error for unknown listener")
	}
}

func TestManagerStopUnknownMeeting(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	if err := m.Stop(context.Background(), "nope"); err == nil {
		t.Fatal("want error for unknown meeting")
	}
}

func TestManagerShutdownStopsEverything(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := m.Start(ctx, StartConfig{MeetingID: id, CaptureDevice: "mic", PlaybackDevice: "headset"}); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}
	if err := m.AddListener(ctx, "m1", "l1", "nl"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(m.Active()) != 0 {
		t.Fatal("meetings still active after Shutdown")
	}
}
