// Package sentence turns a stream of model tokens into speakable sentences.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MinSentenceLength is the shortest candidate (in characters) emitted at a
	// punctuation boundary. Shorter candidates merge forward into the next one.
	MinSentenceLength = 15
	// MaxBufferLength is the buffer size (in characters) past which a run-on
	// is force-split at its last clause boundary.
	MaxBufferLength = 500
)

var abbreviations = map[string]bool{
	"Mr": true, "Mrs": true, "Ms": true, "Dr": true, "Prof": true, "Sr": true,
	"Jr": true, "St": true, "Ave": true, "Blvd": true, "Dept": true, "Est": true,
	"Fig": true, "Gen": true, "Gov": true, "Sgt": true, "Corp": true, "Inc": true,
	"Ltd": true, "Co": true, "vs": true, "etc": true, "approx": true, "dept": true,
	"est": true, "min": true, "max": true, "misc": true, "tech": true,
}

// Segmenter accumulates text fragments and yields complete sentences.
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	buf string
}

func New() *Segmenter {
	return &Segmenter{}
}

// Add appends a fragment and returns the sentences it completed, in order.
func (s *Segmenter) Add(fragment string) []string {
	s.buf += fragment
	var out []string

	for {
		i := strings.Index(s.buf, "\n\n")
		if i < 0 {
			break
		}
		piece := strings.TrimSpace(s.buf[:i])
		s.buf = s.buf[i+2:]
		if piece != "" {
			out = append(out, piece)
		}
	}

	from := 0
	for {
		start, end, ok := nextBoundary(s.buf, from)
		if !ok {
			break
		}
		candidate := strings.TrimSpace(s.buf[:start])
		if suppressSplit(candidate) {
			from = end
			continue
		}
		out = append(out, candidate)
		s.buf = s.buf[end:]
		from = 0
	}

	if utf8.RuneCountInString(s.buf) > MaxBufferLength {
		if start, end, ok := lastClauseBoundary(s.buf); ok {
			forced := strings.TrimSpace(s.buf[:start+1])
			s.buf = s.buf[end:]
			if forced != "" {
				out = append(out, forced)
			}
		}
	}

	return out
}

// Flush returns the remaining buffered text, trimmed, and clears the buffer.
// The boolean is false when nothing but whitespace was pending.
func (s *Segmenter) Flush() (string, bool) {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest, rest != ""
}

// Pending returns the buffered text without clearing it.
func (s *Segmenter) Pending() string {
	return s.buf
}

func suppressSplit(candidate string) bool {
	if w := lastWordBeforePeriod(candidate); w != "" && abbreviations[w] {
		return true
	}
	if endsWithInitial(candidate) {
		return true
	}
	if endsWithDigitPeriod(candidate) {
		return true
	}
	return utf8.RuneCountInString(candidate) < MinSentenceLength
}

// nextBoundary finds the first whitespace run at or after from that follows
// '.', '!' or '?' and precedes an uppercase ASCII letter or an opening quote.
// It returns the byte offsets of the run.
func nextBoundary(s string, from int) (start, end int, ok bool) {
	for p := from; p < len(s); p++ {
		if p == 0 {
			continue
		}
		switch s[p-1] {
		case '.', '!', '?':
		default:
			continue
		}
		q := skipSpace(s, p)
		if q == p || q >= len(s) {
			continue
		}
		r, _ := utf8.DecodeRuneInString(s[q:])
		if (r >= 'A' && r <= 'Z') || r == '"' || r == '“' {
			return p, q, true
		}
	}
	return 0, 0, false
}

// lastClauseBoundary finds the last ',', ';' or ':' followed by whitespace
// and an ASCII letter. start is the offset of the punctuation, end the offset
// just past the whitespace.
func lastClauseBoundary(s string) (start, end int, ok bool) {
	for p := len(s) - 1; p >= 0; p-- {
		switch s[p] {
		case ',', ';', ':':
		default:
			continue
		}
		q := skipSpace(s, p+1)
		if q == p+1 || q >= len(s) {
			continue
		}
		if c := s[q]; (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return p, q, true
		}
	}
	return 0, 0, false
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lastWordBeforePeriod(s string) string {
	if !strings.HasSuffix(s, ".") {
		return ""
	}
	body := s[:len(s)-1]
	i := len(body)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(body[:i])
		if !isWordRune(r) {
			break
		}
		i -= size
	}
	return body[i:]
}

// endsWithInitial reports a trailing single capital letter and period, as in "U.S." or "J.".
func endsWithInitial(s string) bool {
	n := len(s)
	if n < 2 || s[n-1] != '.' || s[n-2] < 'A' || s[n-2] > 'Z' {
		return false
	}
	if n == 2 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:n-2])
	return !isWordRune(r)
}

func endsWithDigitPeriod(s string) bool {
	n := len(s)
	return n >= 2 && s[n-1] == '.' && s[n-2] >= '0' && s[n-2] <= '9'
}
