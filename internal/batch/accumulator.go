package batch

import (
	"strings"
	"sync"
	"time"
)

// Accumulator collects transcript fragments into the current batch and owns
// the batch's opened-at clock. A batch opens when the first non-empty
// fragment arrives after a flush.
//
// All methods are safe for concurrent use.
type Accumulator struct {
	mu       sync.Mutex
	parts    []string
	openedAt time.Time
	now      func() time.Time // test seam
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{now: time.Now}
}

// Append adds a fragment to the current batch. Empty or whitespace-only
// fragments are ignored. The first fragment of a batch starts its clock.
func (a *Accumulator) Append(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.parts) == 0 {
		a.openedAt = a.now()
	}
	a.parts = append(a.parts, fragment)
}

// Snapshot returns the accumulated text and the time elapsed since the batch
// opened, without consuming the batch. Elapsed is zero for an empty batch.
func (a *Accumulator) Snapshot() (text string, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.parts) == 0 {
		return "", 0
	}
	return strings.Join(a.parts, "\n"), a.now().Sub(a.openedAt)
}

// Flush consumes and returns the accumulated text, resetting the batch.
// Returns ok=false when nothing was accumulated.
func (a *Accumulator) Flush() (text string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.parts) == 0 {
		return "", false
	}
	text = strings.Join(a.parts, "\n")
	a.parts = nil
	a.openedAt = time.Time{}
	return text, true
}

// Len returns the accumulated character count, including the newline
// separators [Flush] would emit.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.parts) == 0 {
		return 0
	}
	n := len(a.parts) - 1 // separators
	for _, p := range a.parts {
		n += len(p)
	}
	return n
}
