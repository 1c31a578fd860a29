package sentence

import (
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func collect(s *Segmenter, fragments ...string) []string {
	var out []string
	for _, f := range fragments {
		out = append(out, s.Add(f)...)
	}
	if rest, ok := s.Flush(); ok {
		out = append(out, rest)
	}
	return out
}

func TestAdd_Abbreviations(t *testing.T) {
	got := collect(New(), "Dr. Smith arrived. He left.")
	want := []string{"Dr. Smith arrived.", "He left."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestAdd_DecimalGuard(t *testing.T) {
	s := New()
	if got := s.Add("The value is 3.14 and rising. "); len(got) != 0 {
		t.Errorf("expected no sentence before the next capital, got %q", got)
	}
	got := s.Add("Then it fell.")
	if len(got) != 1 || got[0] != "The value is 3.14 and rising." {
		t.Errorf("expected decimal kept intact, got %q", got)
	}
}

func TestAdd_SuppressedBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "initials",
			input: "The report came from the U.S. Department of Energy today. It was long.",
			want:  []string{"The report came from the U.S. Department of Energy today.", "It was long."},
		},
		{
			name:  "numbered item",
			input: "Look at the result in section 2. Then it continues for a while.",
			want:  []string{"Look at the result in section 2. Then it continues for a while."},
		},
		{
			name:  "short fragments merge forward",
			input: "Yes. Okay. That is what the manual says about it. Next one.",
			want:  []string{"Yes. Okay. That is what the manual says about it.", "Next one."},
		},
		{
			name:  "lowercase after period",
			input: "The figure rose by three percent. then stopped rising entirely.",
			want:  []string{"The figure rose by three percent. then stopped rising entirely."},
		},
		{
			name:  "quote opens next sentence",
			input: "She looked at the last page. \"Done,\" she said.",
			want:  []string{"She looked at the last page.", "\"Done,\" she said."},
		},
		{
			name:  "exclamation and question",
			input: "What a surprising result that is! Did you expect it? Nobody did.",
			want:  []string{"What a surprising result that is!", "Did you expect it?", "Nobody did."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(New(), tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAdd_ParagraphBreak(t *testing.T) {
	s := New()
	got := s.Add("Heading\n\nfirst line of the body")
	if len(got) != 1 || got[0] != "Heading" {
		t.Errorf("expected paragraph split, got %q", got)
	}
	if s.Pending() != "first line of the body" {
		t.Errorf("unexpected pending text %q", s.Pending())
	}
}

func TestAdd_EmptyParagraphsDropped(t *testing.T) {
	got := New().Add("\n\n  \n\nword")
	if len(got) != 0 {
		t.Errorf("expected empty pieces dropped, got %q", got)
	}
}

func TestAdd_ForcedOverflowSplit(t *testing.T) {
	head := strings.Repeat("a", 549)
	tail := strings.Repeat("b", 49)
	input := head + ", " + tail

	s := New()
	got := s.Add(input)
	if len(got) != 1 {
		t.Fatalf("expected one forced sentence, got %d", len(got))
	}
	if got[0] != head+"," {
		t.Errorf("expected split at the comma, got %d chars", len(got[0]))
	}
	if s.Pending() != tail {
		t.Errorf("expected tail to remain buffered, got %q", s.Pending())
	}
}

func TestAdd_NoForcedSplitUnderThreshold(t *testing.T) {
	s := New()
	if got := s.Add(strings.Repeat("word, ", 80)); len(got) != 0 {
		t.Errorf("expected nothing under the threshold, got %d sentences", len(got))
	}
}

func TestAdd_NoClauseBoundaryKeepsBuffering(t *testing.T) {
	s := New()
	input := strings.Repeat("x", 700)
	if got := s.Add(input); len(got) != 0 {
		t.Errorf("expected no split without a clause boundary, got %d", len(got))
	}
	if s.Pending() != input {
		t.Error("expected the run-on to stay buffered")
	}
}

func TestAdd_TokenByToken(t *testing.T) {
	tokens := []string{"The", " manual", " covers", " setup", ".", " It", " also", " covers", " repair", "."}
	s := New()
	var got []string
	for _, tok := range tokens {
		got = append(got, s.Add(tok)...)
	}
	if len(got) != 1 || got[0] != "The manual covers setup." {
		t.Errorf("expected first sentence once the next capital arrives, got %q", got)
	}
	rest, ok := s.Flush()
	if !ok || rest != "It also covers repair." {
		t.Errorf("unexpected flush %q", rest)
	}
}

func TestFlush_Empty(t *testing.T) {
	s := New()
	s.Add("   \n ")
	if rest, ok := s.Flush(); ok {
		t.Errorf("expected nothing to flush, got %q", rest)
	}
	if s.Pending() != "" {
		t.Error("expected buffer cleared")
	}
}

func TestSegmenter_ReconstructsInput(t *testing.T) {
	alphabet := []rune("abcXYZ .,;:!?\n\"3")
	rapid.Check(t, func(t *rapid.T) {
		runes := rapid.SliceOfN(rapid.SampledFrom(alphabet), 0, 1500).Draw(t, "input")
		input := string(runes)

		s := New()
		var out []string
		for _, r := range input {
			out = append(out, s.Add(string(r))...)
		}
		if rest, ok := s.Flush(); ok {
			out = append(out, rest)
		}

		for _, sentence := range out {
			if sentence == "" || sentence != strings.TrimSpace(sentence) {
				t.Fatalf("sentence not trimmed or empty: %q", sentence)
			}
		}
		got := strings.Fields(strings.Join(out, " "))
		want := strings.Fields(input)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("words changed:\n got %q\nwant %q", got, want)
		}
	})
}
