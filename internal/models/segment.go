package models

import "fmt"

// Word is a single lyric word with its highlight window in seconds.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the word's highlight duration in seconds.
func (w Word) Duration() float64 {
	return w.End - w.Start
}

// Valid reports whether the word carries usable text and timing.
func (w Word) Valid() bool {
	return w.Text != "" && w.End >= w.Start && w.Start >= 0
}

// Segment is one karaoke line: a stretch of lyric text with per-word timing.
// Invariants maintained by the alignment post-pass: Words is non-empty,
// words are sorted and non-overlapping, and the segment bounds equal the
// first word's start and the last word's end.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words"`

	// Aligned is true when the words were matched against official lyrics
	// rather than taken straight from the recognizer.
	Aligned bool `json:"aligned,omitempty"`

	// Confidence is the mean match score of anchor words, when known.
	Confidence float64 `json:"confidence,omitempty"`
}

// Duration returns the segment duration in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Valid reports whether the segment satisfies the karaoke-line invariants.
func (s Segment) Valid() bool {
	if s.Text == "" || len(s.Words) == 0 || s.End < s.Start {
		return false
	}
	prev := s.Start
	for _, w := range s.Words {
		if !w.Valid() || w.Start < prev {
			return false
		}
		prev = w.End
	}
	return s.Words[0].Start == s.Start && s.Words[len(s.Words)-1].End == s.End
}

// ClampToWords snaps the segment bounds to its first and last word.
// It is a no-op for segments without words.
func (s *Segment) ClampToWords() {
	if len(s.Words) == 0 {
		return
	}
	s.Start = s.Words[0].Start
	s.End = s.Words[len(s.Words)-1].End
}

// String implements fmt.Stringer for debug logging.
func (s Segment) String() string {
	return fmt.Sprintf("[%.2f-%.2f] %q (%d words)", s.Start, s.End, s.Text, len(s.Words))
}
