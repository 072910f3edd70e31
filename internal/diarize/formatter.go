// Package diarize groups per-word speaker-tagged recognition output into
// contiguous speaker turns and renders them as a labelled multi-speaker
// transcript.
//
// Turn boundaries are placed exactly at speaker-id transitions in a single
// left-to-right pass; no boundaries are inferred from pauses or punctuation.
// Speaker ids map onto a fixed four-entry label table cycled with modulo
// arithmetic. This is a deliberate simplification for up to four concurrent
// speakers, not a clustering guarantee.
package diarize

import "strings"

// speakerLabels is the fixed label table. Ids beyond the table wrap around.
var speakerLabels = []string{
	"Male 1",
	"Female 1",
	"Male 2",
	"Female 2",
}

// Word is a single recognized word tagged with the provider's speaker id.
type Word struct {
	// Text is the word as recognized.
	Text string

	// Speaker is the provider-assigned speaker id (a small integer).
	Speaker int
}

// Turn is one contiguous run of words from a single speaker.
type Turn struct {
	// Speaker is the speaker id shared by every word in the turn.
	Speaker int

	// Text is the words of the turn joined by single spaces.
	Text string

	// WordCount is the number of words folded into the turn.
	WordCount int
}

// SpeakerLabel maps a speaker id to its display label. Negative ids are
// treated as unknown and return an empty string.
func SpeakerLabel(id int) string {
	if id < 0 {
		return ""
	}
	return speakerLabels[id%len(speakerLabels)]
}

// Turns partitions words into speaker turns. Adjacent turns never share a
// speaker id, and concatenating the turns' words in order reproduces the
// input sequence. Returns nil for empty input.
func Turns(words []Word) []Turn {
	if len(words) == 0 {
		return nil
	}

	var (
		turns   []Turn
		current []string
		speaker = words[0].Speaker
	)

	flush := func() {
		turns = append(turns, Turn{
			Speaker:   speaker,
			Text:      strings.Join(current, " "),
			WordCount: len(current),
		})
		current = current[:0]
	}

	for _, w := range words {
		if w.Speaker != speaker {
			flush()
			speaker = w.Speaker
		}
		current = append(current, w.Text)
	}
	flush()

	return turns
}

// DominantSpeaker returns the speaker id with the strict maximum total word
// count across words. Ties are broken in favour of the speaker that reached
// the maximum first in input order. The second return is false when words is
// empty.
func DominantSpeaker(words []Word) (int, bool) {
	if len(words) == 0 {
		return 0, false
	}

	counts := make(map[int]int)
	best := words[0].Speaker
	bestCount := 0

	for _, w := range words {
		counts[w.Speaker]++
		// Strictly greater keeps first-seen-wins tie semantics.
		if counts[w.Speaker] > bestCount {
			best = w.Speaker
			bestCount = counts[w.Speaker]
		}
	}

	return best, true
}

// Format renders words as newline-joined "<Label>: <turn text>" lines.
// With zero words it falls back to the raw unstructured transcript text,
// unlabelled, so a response without word-level detail still produces output.
func Format(words []Word, rawTranscript string) string {
	turns := Turns(words)
	if len(turns) == 0 {
		return rawTranscript
	}

	lines := make([]string, len(turns))
	for i, turn := range turns {
		lines[i] = SpeakerLabel(turn.Speaker) + ": " + turn.Text
	}
	return strings.Join(lines, "\n")
}
