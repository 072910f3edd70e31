// Package listener runs one translation session per meeting listener.
//
// A session follows its meeting's transcript through two merged update
// paths: store change notifications (push) and a periodic poll that covers
// missed notifications. Both paths feed a single monotonic cursor on the
// record's update time, so an update seen by both paths is consumed exactly
// once and is never replayed.
//
// New transcript text accumulates into batches; when the batching policy
// releases a batch it is translated and queued for speech playback. A failed
// translation produces a visible failure item in the caption history instead
// of silently dropping the batch.
package listener

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eburon/livecaption/internal/batch"
	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/internal/ttsqueue"
	"github.com/eburon/livecaption/pkg/provider/translate"
)

// DefaultPollInterval is how often the session polls the store as a safety
// net behind change notifications.
const DefaultPollInterval = 5 * time.Second

// defaultCheckInterval is how often the pending batch is re-evaluated so
// the time threshold can fire without new text arriving.
const defaultCheckInterval = time.Second

// failedCaption is the caption text shown when translation of a batch
// failed on all backends.
const failedCaption = "Translation Failed"

// HistoryItem is one caption entry shown to the listener.
type HistoryItem struct {
	// OriginalText is the source-language batch text.
	OriginalText string

	// TranslatedText is the translation, or a failure caption when Failed.
	TranslatedText string

	// SourceLanguage and TargetLanguage describe the translation direction.
	SourceLanguage string
	TargetLanguage string

	// At is when the item was added.
	At time.Time

	// Failed marks a batch whose translation failed on every backend.
	Failed bool
}

// Config describes one listener session.
type Config struct {
	// MeetingID is the meeting to follow.
	MeetingID string

	// ListenerID identifies this listener; it forms the playback queue key
	// together with TargetLanguage.
	ListenerID string

	// TargetLanguage is the language to translate into.
	TargetLanguage string

	// PollInterval overrides [DefaultPollInterval] when positive.
	PollInterval time.Duration
}

// Session follows one meeting for one listener. Create it with [New] and
// drive it with [Session.Run]; public accessors are safe for concurrent use
// while Run is active.
type Session struct {
	cfg        Config
	store      transcript.Store
	translator translate.Provider
	scheduler  *ttsqueue.Scheduler
	policy     *batch.Policy
	acc        *batch.Accumulator
	metrics    *observe.Metrics

	checkInterval time.Duration

	mu         sync.Mutex
	cursor     time.Time
	sourceLang string
	history    []HistoryItem
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithPolicy overrides the default batching policy.
func WithPolicy(p *batch.Policy) Option {
	return func(s *Session) { s.policy = p }
}

// WithMetrics attaches a metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// withCheckInterval shortens the batch re-evaluation tick in tests.
func withCheckInterval(d time.Duration) Option {
	return func(s *Session) { s.checkInterval = d }
}

// New creates a Session reading from store, translating with translator,
// and queueing playback on scheduler.
func New(cfg Config, store transcript.Store, translator translate.Provider, scheduler *ttsqueue.Scheduler, opts ...Option) (*Session, error) {
	if cfg.MeetingID == "" {
		return nil, fmt.Errorf("listener: meeting id must not be empty")
	}
	if cfg.ListenerID == "" {
		return nil, fmt.Errorf("listener: listener id must not be empty")
	}
	if cfg.TargetLanguage == "" {
		return nil, fmt.Errorf("listener: target language must not be empty")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Session{
		cfg:           cfg,
		store:         store,
		translator:    translator,
		scheduler:     scheduler,
		policy:        batch.NewPolicy(),
		acc:           batch.NewAccumulator(),
		checkInterval: defaultCheckInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// queueKey is the playback queue this session feeds.
func (s *Session) queueKey() ttsqueue.Key {
	return ttsqueue.Key{ListenerID: s.cfg.ListenerID, Language: s.cfg.TargetLanguage}
}

// Run drives the session until ctx is cancelled. It returns nil on a clean
// shutdown; a store subscription failure ends the session with an error.
func (s *Session) Run(ctx context.Context) error {
	updates, err := s.store.Subscribe(ctx, s.cfg.MeetingID)
	if err != nil {
		return fmt.Errorf("listener: subscribe: %w", err)
	}

	s.metrics.ActiveListeners.Add(ctx, 1)
	defer s.metrics.ActiveListeners.Add(ctx, -1)
	defer s.scheduler.Stop(s.queueKey())

	g, gctx := errgroup.WithContext(ctx)

	// Push path: change notifications.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case rec, ok := <-updates:
				if !ok {
					return nil
				}
				s.consume(gctx, rec)
			}
		}
	})

	// Poll path: safety net behind notifications.
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rec, err := s.store.GetLatest(gctx, s.cfg.MeetingID)
				if err != nil {
					// Nothing stored yet, or a transient store error.
					continue
				}
				s.consume(gctx, rec)
			}
		}
	})

	// Batch clock: lets the time threshold fire without new text.
	g.Go(func() error {
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				// Final flush so trailing text is not lost on shutdown.
				s.flushIfReady(context.WithoutCancel(gctx), true)
				return nil
			case <-ticker.C:
				s.flushIfReady(gctx, false)
			}
		}
	})

	return g.Wait()
}

// consume applies one transcript record if it advances the cursor. Each
// record carries one chunk's text, which is appended to the pending batch as
// a new fragment.
func (s *Session) consume(ctx context.Context, rec transcript.Record) {
	s.mu.Lock()
	if !rec.UpdatedAt.After(s.cursor) {
		s.mu.Unlock()
		return
	}
	s.cursor = rec.UpdatedAt
	if rec.SourceLanguage != "" {
		s.sourceLang = rec.SourceLanguage
	}
	s.mu.Unlock()

	fragment := strings.TrimSpace(rec.Text)
	if fragment == "" {
		return
	}
	s.acc.Append(fragment)
	s.flushIfReady(ctx, false)
}

// flushIfReady evaluates the batching policy and releases the pending batch
// when it is ready. force releases any non-empty batch regardless of policy.
func (s *Session) flushIfReady(ctx context.Context, force bool) {
	text, elapsed := s.acc.Snapshot()
	if text == "" {
		return
	}

	decision := s.policy.Evaluate(text, elapsed)
	if !decision.Ready && !force {
		return
	}

	text, ok := s.acc.Flush()
	if !ok {
		return
	}
	reason := string(decision.Reason)
	if force {
		reason = "shutdown"
	}
	s.metrics.RecordBatchFlush(ctx, reason)
	s.deliver(ctx, text)
}

// deliver translates one batch and hands the result to history and the
// playback queue.
func (s *Session) deliver(ctx context.Context, text string) {
	s.mu.Lock()
	sourceLang := s.sourceLang
	s.mu.Unlock()

	log := observe.Logger(ctx).With(
		"meeting_id", s.cfg.MeetingID,
		"listener_id", s.cfg.ListenerID,
		"target_language", s.cfg.TargetLanguage,
	)

	// The listener already understands the meeting language; captions pass
	// through untranslated and nothing is spoken.
	if sourceLang != "" && sameLanguage(sourceLang, s.cfg.TargetLanguage) {
		s.addHistory(HistoryItem{
			OriginalText:   text,
			TranslatedText: text,
			SourceLanguage: sourceLang,
			TargetLanguage: s.cfg.TargetLanguage,
			At:             time.Now(),
		})
		log.Debug("same-language batch passed through", "chars", len(text))
		return
	}

	start := time.Now()
	res, err := s.translator.Translate(ctx, translate.Request{
		Text:           text,
		TargetLanguage: s.cfg.TargetLanguage,
		SourceLanguage: sourceLang,
	})
	s.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		s.metrics.RecordProviderError(ctx, "translate", "batch")
		s.addHistory(HistoryItem{
			OriginalText:   text,
			TranslatedText: failedCaption,
			SourceLanguage: sourceLang,
			TargetLanguage: s.cfg.TargetLanguage,
			At:             time.Now(),
			Failed:         true,
		})
		log.Warn("batch translation failed", "chars", len(text), "err", err)
		return
	}

	s.addHistory(HistoryItem{
		OriginalText:   res.OriginalText,
		TranslatedText: res.TranslatedText,
		SourceLanguage: res.SourceLanguage,
		TargetLanguage: res.TargetLanguage,
		At:             time.Now(),
	})
	s.scheduler.Enqueue(s.queueKey(), res.TranslatedText)
	log.Debug("batch translated and queued", "chars", len(res.TranslatedText))
}

// addHistory appends one caption item.
func (s *Session) addHistory(item HistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, item)
}

// History returns a copy of the caption history so far.
func (s *Session) History() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// sameLanguage compares BCP-47-ish tags by primary subtag, so "en-US" and
// "en" match.
func sameLanguage(a, b string) bool {
	return primarySubtag(a) == primarySubtag(b)
}

func primarySubtag(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}
