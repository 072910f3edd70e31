// Package recorder drives continuous capture of meeting audio as a stream
// of short, individually decodable chunks.
//
// Capture devices hand out sealed containers only when a recording unit is
// stopped, so the recorder deliberately runs a stop-and-reopen cycle: open a
// unit, let it record for the chunk interval, stop it to obtain a complete
// chunk, hand the chunk off for upload, and immediately open the next unit.
// The small capture gap between units is accepted in exchange for every
// chunk being a valid standalone file.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCaptureFailed is the fatal error class for device failures. Upload
// failures are logged and skipped instead; losing one chunk degrades the
// transcript, losing the device ends the session.
var ErrCaptureFailed = errors.New("recorder: audio capture failed")

// DefaultChunkInterval is how long each capture unit records before it is
// stopped and its chunk is shipped.
const DefaultChunkInterval = 3 * time.Second

// Chunk is one sealed audio container produced by a capture cycle.
type Chunk struct {
	// MeetingID identifies the meeting being captured.
	MeetingID string

	// Index increases by one per produced chunk, starting at zero. Gaps in
	// delivered indices mean a chunk was lost on upload.
	Index int

	// Data is the complete container file.
	Data []byte

	// MimeType is the negotiated container type of Data.
	MimeType string
}

// CaptureUnit is one bounded recording. It accumulates audio from Open
// until Stop, which seals and returns the container.
type CaptureUnit interface {
	// Stop ends the recording and returns the sealed container bytes.
	Stop() ([]byte, error)
}

// Source opens capture units on the underlying audio device.
type Source interface {
	// Open starts a new recording in the given container format. It returns
	// an error if the device is gone or the format is unsupported.
	Open(ctx context.Context, mimeType string) (CaptureUnit, error)
}

// UploadFunc ships one chunk to the ingest side. Errors are logged, the
// chunk is dropped, and capture continues.
type UploadFunc func(ctx context.Context, chunk Chunk) error

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithChunkInterval sets the per-chunk recording duration. The default is
// [DefaultChunkInterval].
func WithChunkInterval(d time.Duration) Option {
	return func(r *Recorder) { r.interval = d }
}

// WithPreferredMimeType sets the container format tried first. Default
// "audio/webm".
func WithPreferredMimeType(mimeType string) Option {
	return func(r *Recorder) { r.preferredMime = mimeType }
}

// WithFallbackMimeType sets the container format tried when the preferred
// one is rejected. Default "audio/wav".
func WithFallbackMimeType(mimeType string) Option {
	return func(r *Recorder) { r.fallbackMime = mimeType }
}

// Recorder owns the capture cycle for one meeting.
type Recorder struct {
	meetingID string
	source    Source
	upload    UploadFunc

	interval      time.Duration
	preferredMime string
	fallbackMime  string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	uploads sync.WaitGroup
}

// New creates a Recorder capturing meetingID from source and shipping
// chunks through upload.
func New(meetingID string, source Source, upload UploadFunc, opts ...Option) *Recorder {
	r := &Recorder{
		meetingID:     meetingID,
		source:        source,
		upload:        upload,
		interval:      DefaultChunkInterval,
		preferredMime: "audio/webm",
		fallbackMime:  "audio/wav",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// negotiate opens a probe unit in the preferred format, falling back once.
// The chosen format is fixed for the whole session.
func (r *Recorder) negotiate(ctx context.Context) (CaptureUnit, string, error) {
	unit, err := r.source.Open(ctx, r.preferredMime)
	if err == nil {
		return unit, r.preferredMime, nil
	}
	slog.Warn("preferred capture format rejected, trying fallback",
		"meeting_id", r.meetingID,
		"preferred", r.preferredMime,
		"fallback", r.fallbackMime,
		"err", err,
	)

	unit, fbErr := r.source.Open(ctx, r.fallbackMime)
	if fbErr != nil {
		return nil, "", fmt.Errorf("%w: no supported format: %s (%v), %s (%v)",
			ErrCaptureFailed, r.preferredMime, err, r.fallbackMime, fbErr)
	}
	return unit, r.fallbackMime, nil
}

// Run captures chunks until ctx is cancelled or [Recorder.Stop] is called.
// It returns nil on a clean stop and an [ErrCaptureFailed]-wrapped error
// when the device fails. Run must be called at most once.
func (r *Recorder) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		cancel()
		return errors.New("recorder: already running")
	}
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()
	defer r.uploads.Wait()

	unit, mimeType, err := r.negotiate(runCtx)
	if err != nil {
		return err
	}
	slog.Info("capture started",
		"meeting_id", r.meetingID,
		"mime_type", mimeType,
		"chunk_interval", r.interval,
	)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for index := 0; ; index++ {
		select {
		case <-runCtx.Done():
			// Final partial chunk is still shipped.
			r.finish(unit, index, mimeType)
			return nil
		case <-timer.C:
		}

		data, err := unit.Stop()
		if err != nil {
			return fmt.Errorf("%w: stop unit %d: %v", ErrCaptureFailed, index, err)
		}
		r.ship(Chunk{MeetingID: r.meetingID, Index: index, Data: data, MimeType: mimeType})

		unit, err = r.source.Open(runCtx, mimeType)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: reopen unit %d: %v", ErrCaptureFailed, index+1, err)
		}
		timer.Reset(r.interval)
	}
}

// finish seals the last unit on shutdown and ships whatever it captured.
func (r *Recorder) finish(unit CaptureUnit, index int, mimeType string) {
	data, err := unit.Stop()
	if err != nil {
		slog.Warn("final chunk lost on shutdown", "meeting_id", r.meetingID, "index", index, "err", err)
		return
	}
	if len(data) == 0 {
		return
	}
	r.ship(Chunk{MeetingID: r.meetingID, Index: index, Data: data, MimeType: mimeType})
}

// ship uploads the chunk asynchronously so a slow ingest side never stalls
// capture. Upload failures drop the chunk.
func (r *Recorder) ship(chunk Chunk) {
	r.uploads.Add(1)
	go func() {
		defer r.uploads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := r.upload(ctx, chunk); err != nil {
			slog.Warn("chunk upload failed, dropping",
				"meeting_id", chunk.MeetingID,
				"index", chunk.Index,
				"bytes", len(chunk.Data),
				"err", err,
			)
			return
		}
		slog.Debug("chunk uploaded", "meeting_id", chunk.MeetingID, "index", chunk.Index, "bytes", len(chunk.Data))
	}()
}

// Stop ends the capture loop. It is safe to call multiple times and before
// Run has produced any chunk.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
