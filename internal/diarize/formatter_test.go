package diarize

import (
	"strings"
	"testing"
)

func words(pairs ...any) []Word {
	out := make([]Word, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Word{Text: pairs[i].(string), Speaker: pairs[i+1].(int)})
	}
	return out
}

func TestTurns(t *testing.T) {
	t.Parallel()

	t.Run("boundaries at speaker transitions", func(t *testing.T) {
		t.Parallel()
		in := words("w1", 0, "w2", 0, "w3", 1, "w4", 1, "w5", 0)
		turns := Turns(in)

		if len(turns) != 3 {
			t.Fatalf("want 3 turns, got %d: %+v", len(turns), turns)
		}
		want := []Turn{
			{Speaker: 0, Text: "w1 w2", WordCount: 2},
			{Speaker: 1, Text: "w3 w4", WordCount: 2},
			{Speaker: 0, Text: "w5", WordCount: 1},
		}
		for i, w := range want {
			if turns[i] != w {
				t.Errorf("turn %d: want %+v, got %+v", i, w, turns[i])
			}
		}
	})

	t.Run("no adjacent turns share a speaker", func(t *testing.T) {
		t.Parallel()
		in := words("a", 2, "b", 2, "c", 0, "d", 1, "e", 1, "f", 1, "g", 0)
		turns := Turns(in)
		for i := 1; i < len(turns); i++ {
			if turns[i].Speaker == turns[i-1].Speaker {
				t.Fatalf("turns %d and %d share speaker %d", i-1, i, turns[i].Speaker)
			}
		}
	})

	t.Run("concatenation reproduces input order", func(t *testing.T) {
		t.Parallel()
		in := words("one", 0, "two", 1, "three", 1, "four", 3, "five", 0)
		var got []string
		for _, turn := range Turns(in) {
			got = append(got, strings.Fields(turn.Text)...)
		}
		if len(got) != len(in) {
			t.Fatalf("want %d words, got %d", len(in), len(got))
		}
		for i, w := range in {
			if got[i] != w.Text {
				t.Errorf("word %d: want %q, got %q", i, w.Text, got[i])
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		if turns := Turns(nil); turns != nil {
			t.Fatalf("want nil, got %+v", turns)
		}
	})
}

func TestDominantSpeaker(t *testing.T) {
	t.Parallel()

	t.Run("strict maximum wins", func(t *testing.T) {
		t.Parallel()
		in := words("w1", 0, "w2", 0, "w3", 1, "w4", 1, "w5", 0)
		id, ok := DominantSpeaker(in)
		if !ok || id != 0 {
			t.Fatalf("want speaker 0, got %d (ok=%v)", id, ok)
		}
	})

	t.Run("tie broken by first to reach the count", func(t *testing.T) {
		t.Parallel()
		// Speaker 1 reaches 2 words before speaker 0 does.
		in := words("a", 1, "b", 1, "c", 0, "d", 0)
		id, ok := DominantSpeaker(in)
		if !ok || id != 1 {
			t.Fatalf("want speaker 1 on tie, got %d (ok=%v)", id, ok)
		}
	})

	t.Run("empty input reports no speaker", func(t *testing.T) {
		t.Parallel()
		if _, ok := DominantSpeaker(nil); ok {
			t.Fatal("want ok=false for empty input")
		}
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()

	t.Run("labelled turns joined by newlines", func(t *testing.T) {
		t.Parallel()
		in := words("w1", 0, "w2", 0, "w3", 1, "w4", 1, "w5", 0)
		got := Format(in, "raw fallback")
		want := "Male 1: w1 w2\nFemale 1: w3 w4\nMale 1: w5"
		if got != want {
			t.Fatalf("want %q, got %q", want, got)
		}
	})

	t.Run("zero words falls back to raw text", func(t *testing.T) {
		t.Parallel()
		if got := Format(nil, "just the raw transcript"); got != "just the raw transcript" {
			t.Fatalf("want raw fallback, got %q", got)
		}
	})
}

func TestSpeakerLabel(t *testing.T) {
	t.Parallel()

	cases := map[int]string{
		0: "Male 1",
		1: "Female 1",
		2: "Male 2",
		3: "Female 2",
		4: "Male 1", // modulo wraparound
		7: "Female 2",
	}
	for id, want := range cases {
		if got := SpeakerLabel(id); got != want {
			t.Errorf("SpeakerLabel(%d): want %q, got %q", id, want, got)
		}
	}
	if got := SpeakerLabel(-1); got != "" {
		t.Errorf("SpeakerLabel(-1): want empty, got %q", got)
	}
}
