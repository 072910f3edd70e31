// Package ttsqueue serializes text-to-speech playback.
//
// Translated text segments are enqueued per key (listener session plus
// target language) and played strictly one at a time per key: a segment is
// never synthesized while another segment of the same key is still playing.
// Different keys are fully independent.
//
// Each key is an explicit two-state machine, Idle or Speaking, held in a
// registry owned by the Scheduler. Ordering is FIFO unless a segment carries
// an explicit priority, in which case it is inserted immediately before the
// first pending segment with a strictly lower priority; equal priorities
// keep arrival order.
package ttsqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAborted is reported to the error callback when Stop interrupts an
// in-flight segment. An aborted segment never completes as success.
var ErrAborted = errors.New("ttsqueue: playback aborted")

// DefaultTimeout bounds a single synthesis-plus-playback call. A timeout is
// treated like any other provider failure for that segment.
const DefaultTimeout = 15 * time.Second

// Key identifies one playback queue: a listener session and its target
// language.
type Key struct {
	ListenerID string
	Language   string
}

// Segment is one unit of translated text owned by the scheduler from
// enqueue until its playback finishes or errors.
type Segment struct {
	// ID uniquely identifies the segment.
	ID string

	// Text is the translated text to speak.
	Text string

	// Key is the queue this segment belongs to.
	Key Key

	// EnqueuedAt records when the segment entered the queue.
	EnqueuedAt time.Time

	// Priority orders the segment ahead of lower-priority pending segments.
	// Only meaningful when HasPriority is true; plain segments rank as zero.
	Priority    int
	HasPriority bool
}

// effectivePriority ranks plain segments as zero, matching priority-less
// FIFO behaviour.
func (s Segment) effectivePriority() int {
	if !s.HasPriority {
		return 0
	}
	return s.Priority
}

// Synthesizer produces and plays audio for one segment. It must block until
// playback finishes and must respect ctx cancellation. Returning nil marks
// the segment completed; any error (including a timeout) marks it failed.
type Synthesizer func(ctx context.Context, seg Segment) error

// queueState is the per-key state machine. speaking is true exactly while
// one segment of the key is being synthesized or played.
type queueState struct {
	pending  []Segment
	speaking bool
	current  *Segment
	cancel   context.CancelFunc
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithTimeout sets the per-segment synthesis timeout. The default is
// [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithOnComplete registers a callback fired after a segment's playback
// completes successfully.
func WithOnComplete(fn func(Segment)) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// WithOnError registers a callback fired when a segment fails or is
// aborted. Aborted segments receive [ErrAborted].
func WithOnError(fn func(Segment, error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// Scheduler is the single-flight playback queue registry. It is constructed
// once per process and owns all per-key state; there is no package-level
// instance.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	queues map[Key]*queueState

	synth      Synthesizer
	timeout    time.Duration
	onComplete func(Segment)
	onError    func(Segment, error)

	wg sync.WaitGroup
}

// New creates a Scheduler that plays segments through synth.
func New(synth Synthesizer, opts ...Option) *Scheduler {
	s := &Scheduler{
		queues:  make(map[Key]*queueState),
		synth:   synth,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue adds text to the key's queue and returns the new segment's id.
// If the key is Idle, playback starts immediately; if it is Speaking, the
// segment only waits its turn. Empty text is ignored and returns "".
func (s *Scheduler) Enqueue(key Key, text string) string {
	return s.enqueue(Segment{Key: key, Text: text})
}

// EnqueuePriority is like [Scheduler.Enqueue] but inserts the segment before
// the first pending segment with a strictly lower priority. Segments of
// equal priority keep arrival order.
func (s *Scheduler) EnqueuePriority(key Key, text string, priority int) string {
	return s.enqueue(Segment{Key: key, Text: text, Priority: priority, HasPriority: true})
}

func (s *Scheduler) enqueue(seg Segment) string {
	if seg.Text == "" {
		slog.Warn("ttsqueue: ignoring empty segment", "listener", seg.Key.ListenerID, "language", seg.Key.Language)
		return ""
	}
	seg.ID = uuid.NewString()
	seg.EnqueuedAt = time.Now()

	s.mu.Lock()
	st := s.state(seg.Key)

	if seg.HasPriority {
		inserted := false
		for i, pending := range st.pending {
			if pending.effectivePriority() < seg.Priority {
				st.pending = append(st.pending[:i], append([]Segment{seg}, st.pending[i:]...)...)
				inserted = true
				break
			}
		}
		if !inserted {
			st.pending = append(st.pending, seg)
		}
	} else {
		st.pending = append(st.pending, seg)
	}

	// Single-flight guard: never start a second playback for a Speaking key.
	start := !st.speaking
	if start {
		st.speaking = true
		s.wg.Add(1)
		go s.run(seg.Key)
	}
	s.mu.Unlock()

	slog.Debug("ttsqueue: enqueued",
		"segment_id", seg.ID,
		"listener", seg.Key.ListenerID,
		"language", seg.Key.Language,
		"started", start,
	)
	return seg.ID
}

// run drains the key's queue until it is empty, playing one segment at a
// time. It owns the key's Speaking flag for its whole lifetime.
func (s *Scheduler) run(key Key) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		st := s.state(key)
		if len(st.pending) == 0 {
			// Back to Idle; a later Enqueue starts a fresh worker.
			st.speaking = false
			st.current = nil
			st.cancel = nil
			s.mu.Unlock()
			return
		}

		seg := st.pending[0]
		st.pending = st.pending[1:]

		var ctx context.Context
		var cancel context.CancelFunc
		if s.timeout > 0 {
			ctx, cancel = context.WithTimeout(context.Background(), s.timeout)
		} else {
			ctx, cancel = context.WithCancel(context.Background())
		}
		st.current = &seg
		st.cancel = cancel
		s.mu.Unlock()

		err := s.synth(ctx, seg)
		aborted := err != nil && ctx.Err() == context.Canceled
		cancel()

		s.mu.Lock()
		st.current = nil
		st.cancel = nil
		s.mu.Unlock()

		switch {
		case err == nil:
			if s.onComplete != nil {
				s.onComplete(seg)
			}
		case aborted:
			// Stop interrupted this segment; it must not complete as success.
			if s.onError != nil {
				s.onError(seg, ErrAborted)
			}
		default:
			slog.Warn("ttsqueue: segment failed",
				"segment_id", seg.ID,
				"listener", key.ListenerID,
				"err", err,
			)
			if s.onError != nil {
				s.onError(seg, err)
			}
		}
	}
}

// Stop clears the key's pending segments and aborts any in-flight playback,
// returning the key to Idle. The aborted segment's error callback fires with
// [ErrAborted]. Stop is idempotent.
func (s *Scheduler) Stop(key Key) {
	s.mu.Lock()
	st, ok := s.queues[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.pending = nil
	cancel := st.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// StopAll stops every known key.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.queues))
	for k := range s.queues {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.Stop(k)
	}
}

// Shutdown stops all keys and waits for in-flight workers to finish.
func (s *Scheduler) Shutdown() {
	s.StopAll()
	s.wg.Wait()
}

// Speaking reports whether the key currently has a segment being
// synthesized or played.
func (s *Scheduler) Speaking(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.queues[key]
	return ok && st.speaking
}

// QueueLen returns the number of pending (not yet started) segments for key.
func (s *Scheduler) QueueLen(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.queues[key]
	if !ok {
		return 0
	}
	return len(st.pending)
}

// Current returns a copy of the segment being played for key, if any.
func (s *Scheduler) Current(key Key) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.queues[key]
	if !ok || st.current == nil {
		return Segment{}, false
	}
	return *st.current, true
}

// state returns the queue state for key, creating it if needed.
// Must be called with s.mu held.
func (s *Scheduler) state(key Key) *queueState {
	st, ok := s.queues[key]
	if !ok {
		st = &queueState{}
		s.queues[key] = st
	}
	return st
}
