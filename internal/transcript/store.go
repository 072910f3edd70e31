// Package transcript persists the live transcript of each meeting.
//
// Each meeting has exactly one transcript row holding the text of the most
// recent speech chunk. Every write replaces the row wholesale, so there is no
// merge step and no read-modify-write; readers either fetch the latest state
// or subscribe to change notifications.
package transcript

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a meeting has no transcript yet.
var ErrNotFound = errors.New("transcript: not found")

// Record is the stored transcript state of one meeting.
type Record struct {
	// MeetingID identifies the meeting.
	MeetingID string

	// ChunkIndex is the index of the audio chunk Text came from.
	ChunkIndex int

	// Text is the speaker-labelled transcript of that chunk.
	Text string

	// SpeakerLabel is the display label of the chunk's dominant speaker,
	// empty when no speaker words were available.
	SpeakerLabel string

	// SourceLanguage is the detected spoken language, empty if unknown.
	SourceLanguage string

	// UpdatedAt is bumped on every write and doubles as the change cursor
	// for polling readers.
	UpdatedAt time.Time
}

// Store persists meeting transcripts.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert writes the meeting's transcript state, creating the row on
	// first write and replacing it afterwards. UpdatedAt is set by the
	// store; the value in rec is ignored.
	Upsert(ctx context.Context, rec Record) error

	// GetLatest returns the meeting's current transcript state, or
	// [ErrNotFound] if the meeting has never been written.
	GetLatest(ctx context.Context, meetingID string) (Record, error)

	// Subscribe delivers the meeting's record on every change until ctx is
	// cancelled. The channel is closed when the subscription ends. Slow
	// consumers may miss intermediate states but always receive the latest.
	Subscribe(ctx context.Context, meetingID string) (<-chan Record, error)

	// Close releases store resources.
	Close()
}
