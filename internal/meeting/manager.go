// Package meeting manages the lifecycle of captioned meetings.
//
// The Manager owns one capture recorder per meeting and any number of
// listener sessions following it. A meeting cannot start when its capture
// and playback devices would form an audio feedback loop; while translated
// speech plays, tracked ambient players are ducked, and ambient volume comes
// back once no segment is speaking.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eburon/livecaption/internal/batch"
	"github.com/eburon/livecaption/internal/guard"
	"github.com/eburon/livecaption/internal/ingest"
	"github.com/eburon/livecaption/internal/listener"
	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/recorder"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/internal/ttsqueue"
	"github.com/eburon/livecaption/pkg/provider/speech"
	"github.com/eburon/livecaption/pkg/provider/translate"
)

// AudioSink receives synthesized playback audio. Implementations typically
// forward the PCM to the listener's output device or client connection.
type AudioSink interface {
	Play(ctx context.Context, key ttsqueue.Key, audio *speech.Audio) error
}

// Info holds metadata about an active meeting.
type Info struct {
	// MeetingID is the unique identifier for this meeting.
	MeetingID string

	// StartedAt is when capture began.
	StartedAt time.Time

	// CaptureDevice and PlaybackDevice are the audio device ids the meeting
	// was started with.
	CaptureDevice  string
	PlaybackDevice string

	// Listeners is the number of active listener sessions.
	Listeners int
}

// StartConfig describes one meeting to start.
type StartConfig struct {
	// MeetingID identifies the meeting. Must be unique among active meetings.
	MeetingID string

	// CaptureDevice and PlaybackDevice are checked for separation before
	// capture starts. Identical non-empty ids refuse to start with
	// [guard.ErrFeedbackLoop].
	CaptureDevice  string
	PlaybackDevice string
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Store is the transcript store shared by ingest and listeners.
	Store transcript.Store

	// Ingest processes uploaded audio chunks.
	Ingest *ingest.Pipeline

	// Translator translates released batches for listeners.
	Translator translate.Provider

	// Speech synthesizes translated text for playback.
	Speech speech.Provider

	// Source opens capture units for meeting recorders. When nil, meetings
	// run without server-side capture and chunks arrive through the ingest
	// pipeline directly (client-side recording).
	Source recorder.Source

	// Sink receives synthesized audio. When nil, segments are synthesized
	// for timing and then discarded (caption-only deployments).
	Sink AudioSink

	// Voice is the synthesis voice. Zero value uses the provider default.
	Voice speech.Voice

	// DuckFraction is the ambient volume fraction while speech plays.
	// Non-positive uses [guard.DefaultDuckFraction].
	DuckFraction float64

	// PollInterval overrides the listener store-poll interval when positive.
	PollInterval time.Duration

	// TTSTimeout bounds one synthesis call when positive.
	TTSTimeout time.Duration

	// BatchOptions tune the listeners' batching policy.
	BatchOptions []batch.Option

	// RecorderOptions tune the per-meeting capture cycle.
	RecorderOptions []recorder.Option

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Manager runs all active meetings and their listener sessions.
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg       ManagerConfig
	scheduler *ttsqueue.Scheduler
	ducker    *guard.Ducker
	metrics   *observe.Metrics

	mu       sync.Mutex
	meetings map[string]*meetingState
}

type meetingState struct {
	info      Info
	rec       *recorder.Recorder
	cancel    context.CancelFunc
	done      chan struct{}
	listeners map[string]*listenerState
}

type listenerState struct {
	session *listener.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a Manager. Store, Ingest, Translator, and Speech are
// required; Source and Sink are optional.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("meeting: store is required")
	}
	if cfg.Ingest == nil {
		return nil, fmt.Errorf("meeting: ingest pipeline is required")
	}
	if cfg.Translator == nil {
		return nil, fmt.Errorf("meeting: translator is required")
	}
	if cfg.Speech == nil {
		return nil, fmt.Errorf("meeting: speech provider is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	m := &Manager{
		cfg:      cfg,
		ducker:   guard.NewDucker(cfg.DuckFraction),
		metrics:  cfg.Metrics,
		meetings: make(map[string]*meetingState),
	}

	schedOpts := []ttsqueue.Option{
		ttsqueue.WithOnError(m.onSegmentError),
		ttsqueue.WithOnComplete(m.onSegmentComplete),
	}
	if cfg.TTSTimeout > 0 {
		schedOpts = append(schedOpts, ttsqueue.WithTimeout(cfg.TTSTimeout))
	}
	m.scheduler = ttsqueue.New(m.synthesize, schedOpts...)

	return m, nil
}

// Ducker exposes the ambient-volume ducker so callers can register players.
func (m *Manager) Ducker() *guard.Ducker {
	return m.ducker
}

// Start begins capturing a meeting. It refuses to start when the capture and
// playback devices are identical, returning [guard.ErrFeedbackLoop].
func (m *Manager) Start(ctx context.Context, sc StartConfig) error {
	if sc.MeetingID == "" {
		return fmt.Errorf("meeting: meeting id must not be empty")
	}

	sep := guard.ValidateSeparation(sc.CaptureDevice, sc.PlaybackDevice)
	if !sep.Valid {
		return fmt.Errorf("meeting: start %q: %w", sc.MeetingID, sep.Err)
	}
	if sep.Warning != "" {
		slog.Warn("starting meeting without verified device separation",
			"meeting_id", sc.MeetingID,
			"warning", sep.Warning,
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.meetings[sc.MeetingID]; ok {
		return fmt.Errorf("meeting: %q is already active", sc.MeetingID)
	}

	// Capture outlives the Start request; it stops via Stop or Shutdown.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &meetingState{
		info: Info{
			MeetingID:      sc.MeetingID,
			StartedAt:      time.Now().UTC(),
			CaptureDevice:  sc.CaptureDevice,
			PlaybackDevice: sc.PlaybackDevice,
		},
		cancel:    cancel,
		done:      make(chan struct{}),
		listeners: make(map[string]*listenerState),
	}
	m.meetings[sc.MeetingID] = st
	m.metrics.ActiveMeetings.Add(ctx, 1)

	if m.cfg.Source != nil {
		rec := recorder.New(sc.MeetingID, m.cfg.Source, m.uploadChunk, m.cfg.RecorderOptions...)
		st.rec = rec
		go func() {
			defer close(st.done)
			defer m.metrics.ActiveMeetings.Add(context.Background(), -1)
			if err := rec.Run(runCtx); err != nil {
				slog.Error("meeting capture failed", "meeting_id", sc.MeetingID, "err", err)
			}
		}()
	} else {
		// Chunks for this meeting arrive through the ingest API instead.
		go func() {
			defer close(st.done)
			defer m.metrics.ActiveMeetings.Add(context.Background(), -1)
			<-runCtx.Done()
		}()
	}

	slog.Info("meeting started",
		"meeting_id", sc.MeetingID,
		"capture_device", sc.CaptureDevice,
		"playback_device", sc.PlaybackDevice,
	)
	return nil
}

// Stop ends a meeting: all listener sessions shut down, then capture stops
// and its final chunk is shipped.
func (m *Manager) Stop(ctx context.Context, meetingID string) error {
	m.mu.Lock()
	st, ok := m.meetings[meetingID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("meeting: %q is not active", meetingID)
	}
	delete(m.meetings, meetingID)
	listeners := st.listeners
	st.listeners = nil
	m.mu.Unlock()

	for key, ls := range listeners {
		ls.cancel()
		select {
		case <-ls.done:
		case <-ctx.Done():
			slog.Warn("listener session did not stop in time", "meeting_id", meetingID, "listener", key)
		}
	}

	st.cancel()
	select {
	case <-st.done:
	case <-ctx.Done():
		return fmt.Errorf("meeting: stop %q: %w", meetingID, ctx.Err())
	}

	slog.Info("meeting stopped", "meeting_id", meetingID)
	return nil
}

// AddListener starts a listener session following meetingID in targetLanguage.
func (m *Manager) AddListener(ctx context.Context, meetingID, listenerID, targetLanguage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.meetings[meetingID]
	if !ok {
		return fmt.Errorf("meeting: %q is not active", meetingID)
	}

	key := listenerKey(listenerID, targetLanguage)
	if _, ok := st.listeners[key]; ok {
		return fmt.Errorf("meeting: listener %q already follows %q in %q", listenerID, meetingID, targetLanguage)
	}

	opts := []listener.Option{listener.WithMetrics(m.metrics)}
	if len(m.cfg.BatchOptions) > 0 {
		opts = append(opts, listener.WithPolicy(batch.NewPolicy(m.cfg.BatchOptions...)))
	}
	sess, err := listener.New(listener.Config{
		MeetingID:      meetingID,
		ListenerID:     listenerID,
		TargetLanguage: targetLanguage,
		PollInterval:   m.cfg.PollInterval,
	}, m.cfg.Store, m.cfg.Translator, m.scheduler, opts...)
	if err != nil {
		return fmt.Errorf("meeting: add listener: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ls := &listenerState{session: sess, cancel: cancel, done: make(chan struct{})}
	st.listeners[key] = ls
	st.info.Listeners++

	go func() {
		defer close(ls.done)
		if err := sess.Run(runCtx); err != nil {
			slog.Error("listener session failed",
				"meeting_id", meetingID,
				"listener_id", listenerID,
				"target_language", targetLanguage,
				"err", err,
			)
		}
	}()

	slog.Info("listener joined",
		"meeting_id", meetingID,
		"listener_id", listenerID,
		"target_language", targetLanguage,
	)
	return nil
}

// RemoveListener stops one listener session. Pending playback for the
// listener's queue is discarded and any speaking segment is cut off.
func (m *Manager) RemoveListener(ctx context.Context, meetingID, listenerID, targetLanguage string) error {
	m.mu.Lock()
	st, ok := m.meetings[meetingID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("meeting: %q is not active", meetingID)
	}
	key := listenerKey(listenerID, targetLanguage)
	ls, ok := st.listeners[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("meeting: listener %q does not follow %q in %q", listenerID, meetingID, targetLanguage)
	}
	delete(st.listeners, key)
	st.info.Listeners--
	m.mu.Unlock()

	ls.cancel()
	select {
	case <-ls.done:
	case <-ctx.Done():
		return fmt.Errorf("meeting: remove listener: %w", ctx.Err())
	}
	return nil
}

// History returns the caption history of one listener session.
func (m *Manager) History(meetingID, listenerID, targetLanguage string) ([]listener.HistoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.meetings[meetingID]
	if !ok {
		return nil, fmt.Errorf("meeting: %q is not active", meetingID)
	}
	ls, ok := st.listeners[listenerKey(listenerID, targetLanguage)]
	if !ok {
		return nil, fmt.Errorf("meeting: listener %q does not follow %q in %q", listenerID, meetingID, targetLanguage)
	}
	return ls.session.History(), nil
}

// Active returns metadata for all running meetings.
func (m *Manager) Active() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.meetings))
	for _, st := range m.meetings {
		infos = append(infos, st.info)
	}
	return infos
}

// Shutdown stops every meeting and drains the playback scheduler.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.meetings))
	for id := range m.meetings {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.scheduler.Shutdown()
	return firstErr
}

// uploadChunk bridges the recorder to the ingest pipeline.
func (m *Manager) uploadChunk(ctx context.Context, chunk recorder.Chunk) error {
	_, err := m.cfg.Ingest.ProcessChunk(ctx, ingest.Chunk{
		MeetingID: chunk.MeetingID,
		Index:     chunk.Index,
		Data:      chunk.Data,
		MimeType:  chunk.MimeType,
	})
	return err
}

// synthesize is the scheduler's synthesis callback. It marks the segment as
// speaking for the ducker, synthesizes the text and hands the result to the
// sink. The ducker refcounts segments across queues, so ambient volume stays
// low until the last concurrent segment releases.
func (m *Manager) synthesize(ctx context.Context, seg ttsqueue.Segment) error {
	m.ducker.Duck()
	defer m.ducker.Restore()

	start := time.Now()
	audio, err := m.cfg.Speech.Synthesize(ctx, seg.Text, m.cfg.Voice)
	m.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordProviderError(ctx, "speech", "synthesize")
		return fmt.Errorf("meeting: synthesize segment %s: %w", seg.ID, err)
	}

	if m.cfg.Sink == nil {
		slog.Debug("no audio sink configured, discarding segment",
			"segment_id", seg.ID,
			"pcm_bytes", len(audio.PCM),
		)
		return nil
	}
	if err := m.cfg.Sink.Play(ctx, seg.Key, audio); err != nil {
		return fmt.Errorf("meeting: play segment %s: %w", seg.ID, err)
	}
	return nil
}

func (m *Manager) onSegmentComplete(seg ttsqueue.Segment) {
	m.metrics.RecordSegment(context.Background(), "completed")
}

func (m *Manager) onSegmentError(seg ttsqueue.Segment, err error) {
	status := "failed"
	if errors.Is(err, ttsqueue.ErrAborted) {
		status = "aborted"
	}
	m.metrics.RecordSegment(context.Background(), status)
}

func listenerKey(listenerID, targetLanguage string) string {
	return listenerID + ":" + targetLanguage
}
