// Package guard protects the pipeline against audio feedback loops, where
// synthesized translation audio is captured again and re-transcribed as new
// input.
//
// Two mechanisms are provided: a startup check that the capture and playback
// devices are distinct ([ValidateSeparation], which must block pipeline
// activation when it fails), and a volume [Ducker] that lowers ambient
// playback while translation audio is speaking.
package guard

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrFeedbackLoop is the fatal configuration error returned when capture and
// playback resolve to the same device. Starting the pipeline in this state
// guarantees a feedback loop.
var ErrFeedbackLoop = errors.New("guard: capture and playback use the same audio device")

// DefaultDuckFraction is the fraction of pre-duck volume ambient players are
// reduced to while translation audio is active.
const DefaultDuckFraction = 0.08

// SeparationResult is the outcome of a device-separation check.
type SeparationResult struct {
	// Valid is false only when a feedback loop is certain.
	Valid bool

	// Warning is set when the check could not be fully verified (one or both
	// device ids unset) but the pipeline may still start.
	Warning string

	// Err is [ErrFeedbackLoop] when Valid is false, nil otherwise.
	Err error
}

// ValidateSeparation checks that the audio-capture device and the
// audio-playback device are distinct. If either id is unset the check passes
// with a warning, because separation cannot be verified. Equal non-empty ids
// fail hard: callers must refuse to start the pipeline.
func ValidateSeparation(captureID, playbackID string) SeparationResult {
	if captureID == "" || playbackID == "" {
		return SeparationResult{
			Valid:   true,
			Warning: "device separation cannot be verified: capture or playback device id is unset",
		}
	}
	if captureID == playbackID {
		return SeparationResult{Valid: false, Err: ErrFeedbackLoop}
	}
	return SeparationResult{Valid: true}
}

// Player is an ambient playback element whose volume can be adjusted.
// Implementations are typically remote-controlled media elements on the
// listener's client.
type Player interface {
	// Volume returns the current volume in [0, 1].
	Volume() float64

	// SetVolume sets the volume in [0, 1].
	SetVolume(v float64)
}

// trackedPlayer remembers the volume a player had when ducking engaged so
// Restore can return it to exactly that level, not to full volume.
type trackedPlayer struct {
	player   Player
	original float64
}

// Ducker reduces all tracked ambient players to a fraction of their current
// volume while translation audio is speaking, and restores the recorded
// pre-duck volumes afterwards.
//
// Duck and Restore are refcounted: multiple playback queues may speak
// concurrently, and ambient volume comes back only when the last of them
// finishes. All methods are safe for concurrent use.
type Ducker struct {
	mu       sync.Mutex
	fraction float64
	speaking int
	players  []Player
	tracked  []trackedPlayer
}

// NewDucker creates a Ducker reducing players to fraction of their pre-duck
// volume. A non-positive fraction falls back to [DefaultDuckFraction].
func NewDucker(fraction float64) *Ducker {
	if fraction <= 0 {
		fraction = DefaultDuckFraction
	}
	return &Ducker{fraction: fraction}
}

// Track registers an ambient player. Players registered while ducking is
// active are ducked immediately.
func (d *Ducker) Track(p Player) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.players = append(d.players, p)
	if d.speaking > 0 {
		d.tracked = append(d.tracked, trackedPlayer{player: p, original: p.Volume()})
		p.SetVolume(p.Volume() * d.fraction)
	}
}

// Duck marks one speaking segment active. The first active segment records
// every tracked player's current volume and reduces it to the configured
// fraction; further segments only raise the count.
func (d *Ducker) Duck() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.speaking++
	if d.speaking > 1 {
		return
	}

	d.tracked = d.tracked[:0]
	for _, p := range d.players {
		v := p.Volume()
		d.tracked = append(d.tracked, trackedPlayer{player: p, original: v})
		p.SetVolume(v * d.fraction)
	}
	slog.Debug("ambient volume ducked", "players", len(d.players), "fraction", d.fraction)
}

// Restore marks one speaking segment done. The volumes recorded at duck time
// come back only when no segment remains active, so a segment finishing early
// never raises ambient volume while another queue is still speaking. Calling
// Restore without a matching Duck is a no-op.
func (d *Ducker) Restore() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.speaking == 0 {
		return
	}
	d.speaking--
	if d.speaking > 0 {
		return
	}

	for _, tp := range d.tracked {
		tp.player.SetVolume(tp.original)
	}
	d.tracked = nil
	slog.Debug("ambient volume restored", "players", len(d.players))
}

// Ducked reports whether ducking is currently engaged.
func (d *Ducker) Ducked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking > 0
}
