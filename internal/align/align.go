// Package align produces per-word-timed karaoke lines. Recognized speech
// supplies the timing; official lyric text, when available, supplies the
// words. Official words are matched to recognized words with fuzzy text
// scoring plus a temporal prior, and words without a match get their
// times interpolated from the surrounding anchors.
package align

import (
	"log/slog"
	"math"
	"strings"

	"github.com/karaforge/karaforge/internal/models"
)

// Config tunes the matching pass.
type Config struct {
	// Threshold is the minimum combined score for a match, on a 0-100
	// scale.
	Threshold float64
	// BaseWindow is how many recognized words ahead of the cursor are
	// searched.
	BaseWindow int
	// ShrunkWindow replaces BaseWindow right after a successful match,
	// when the cursor position is trustworthy.
	ShrunkWindow int
	// ExtendedWindow is the retry window when the base search fails.
	ExtendedWindow int
	// TimeTolerance bounds the temporal-proximity bonus, in seconds.
	TimeTolerance float64
	// ExtendedTolerance is the retry tolerance, in seconds.
	ExtendedTolerance float64
}

func (c *Config) setDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 50
	}
	if c.BaseWindow <= 0 {
		c.BaseWindow = 50
	}
	if c.ShrunkWindow <= 0 {
		c.ShrunkWindow = 35
	}
	if c.ExtendedWindow <= 0 {
		c.ExtendedWindow = 100
	}
	if c.TimeTolerance <= 0 {
		c.TimeTolerance = 5
	}
	if c.ExtendedTolerance <= 0 {
		c.ExtendedTolerance = 15
	}
}

// lineStartLookback lets the first word of a line search slightly behind
// the cursor, since line boundaries in the transcript rarely match the
// official text exactly.
const lineStartLookback = 5

// Aligner matches official lyric lines against recognized word timings.
type Aligner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Aligner. Zero config fields take defaults.
func New(cfg Config, logger *slog.Logger) *Aligner {
	cfg.setDefaults()
	return &Aligner{cfg: cfg, logger: logger.With("component", "align")}
}

// Align builds karaoke lines from official lyric lines and recognized
// segments. Without official lines the recognized segments are repaired
// and passed through. When alignment produces nothing despite recognized
// input, the recognized segments are the fallback.
func (a *Aligner) Align(officialLines []string, recognized []models.Segment) []models.Segment {
	if len(officialLines) == 0 {
		return Sanitize(recognized)
	}

	out := a.alignLines(officialLines, recognized)
	if len(out) == 0 && len(recognized) > 0 {
		a.logger.Warn("alignment produced no lines, falling back to recognized text",
			"official_lines", len(officialLines), "recognized_segments", len(recognized))
		return Sanitize(recognized)
	}
	return out
}

// AlignCustom aligns user-provided lyric text instead of provider lyrics.
func (a *Aligner) AlignCustom(customText string, recognized []models.Segment) []models.Segment {
	return a.Align(SplitLyricLines(customText), recognized)
}

// SplitLyricLines turns a lyric blob into alignable lines, dropping
// blanks and bracketed section headers.
func SplitLyricLines(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (a *Aligner) alignLines(lines []string, recognized []models.Segment) []models.Segment {
	flat := flatten(recognized)
	if len(flat) == 0 {
		return nil
	}

	out := make([]models.Segment, 0, len(lines))
	cursor := 0
	prevEnd := 0.0
	totalAnchors := 0

	for _, line := range lines {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		words := make([]lineWord, len(tokens))
		window := a.cfg.BaseWindow
		expected := prevEnd
		anchors := 0
		var scoreSum float64

		for i, tok := range tokens {
			words[i].text = tok
			norm := normalizeWord(tok)
			if norm == "" {
				continue
			}

			lo := cursor
			if i == 0 {
				lo -= lineStartLookback
			}
			if lo < 0 {
				lo = 0
			}

			idx, score := a.findMatch(flat, norm, lo, window, expected, a.cfg.TimeTolerance)
			if idx < 0 {
				idx, score = a.findMatch(flat, norm, lo, a.cfg.ExtendedWindow, expected, a.cfg.ExtendedTolerance)
			}
			if idx < 0 {
				expected += defaultWordDuration(tok) + interWordGap
				continue
			}

			words[i].start, words[i].end = flat[idx].start, flat[idx].end
			words[i].anchored = true
			flat[idx].used = true
			cursor = idx + 1
			window = a.cfg.ShrunkWindow
			expected = flat[idx].end
			anchors++
			scoreSum += score
		}

		interpolateLine(words, prevEnd)

		seg := models.Segment{Text: line, Words: toModelWords(words), Aligned: anchors > 0}
		if anchors > 0 {
			seg.Confidence = math.Round(scoreSum/float64(anchors)) / 100
		}
		seg.ClampToWords()
		out = append(out, seg)
		prevEnd = seg.End
		totalAnchors += anchors
	}

	a.logger.Info("lyrics aligned",
		"lines", len(out), "anchors", totalAnchors, "recognized_words", len(flat))
	return resolveOverlaps(out)
}

// findMatch scans the unused recognized words in [lo, lo+window) and
// returns the best-scoring candidate at or above the threshold, or -1.
func (a *Aligner) findMatch(flat []flatWord, norm string, lo, window int, expected, tolerance float64) (int, float64) {
	hi := lo + window
	if hi > len(flat) {
		hi = len(flat)
	}

	best, bestScore := -1, 0.0
	for i := lo; i < hi; i++ {
		if flat[i].used || flat[i].norm == "" {
			continue
		}
		score := textScore(norm, flat[i].norm)
		if d := math.Abs(flat[i].start - expected); d <= tolerance {
			score += 20 * (1 - d/tolerance)
		}
		// Favor earlier candidates when text scores tie.
		score -= 0.01 * float64(i-lo)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 || bestScore < a.cfg.Threshold {
		return -1, 0
	}
	if bestScore > 100 {
		bestScore = 100
	}
	return best, bestScore
}

// flatWord is one recognized word in the flat, time-ordered sequence.
type flatWord struct {
	text  string
	norm  string
	start float64
	end   float64
	used  bool
}

// lineWord is one official-lyric word being timed.
type lineWord struct {
	text     string
	start    float64
	end      float64
	anchored bool
}

func flatten(segments []models.Segment) []flatWord {
	var out []flatWord
	for _, seg := range segments {
		for _, w := range seg.Words {
			if !w.Valid() {
				continue
			}
			out = append(out, flatWord{
				text:  w.Text,
				norm:  normalizeWord(w.Text),
				start: w.Start,
				end:   w.End,
			})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].start < out[j-1].start; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func toModelWords(words []lineWord) []models.Word {
	out := make([]models.Word, len(words))
	for i, w := range words {
		out[i] = models.Word{Text: w.text, Start: w.start, End: w.end}
	}
	return out
}

// Sanitize repairs recognized segments for direct karaoke use: invalid
// words are dropped, per-segment word times are made monotone, empty
// segments are removed, and segment bounds snap to the surviving words.
func Sanitize(segments []models.Segment) []models.Segment {
	out := make([]models.Segment, 0, len(segments))
	for _, seg := range segments {
		kept := make([]models.Word, 0, len(seg.Words))
		prev := 0.0
		if len(out) > 0 {
			prev = out[len(out)-1].End
		}
		for _, w := range seg.Words {
			if !w.Valid() {
				continue
			}
			if w.Start < prev {
				w.Start = prev
			}
			if w.End < w.Start {
				w.End = w.Start
			}
			kept = append(kept, w)
			prev = w.End
		}
		if len(kept) == 0 || strings.TrimSpace(seg.Text) == "" {
			continue
		}
		seg.Words = kept
		seg.ClampToWords()
		out = append(out, seg)
	}
	return out
}

// overlapGap is the silence inserted when two consecutive lines overlap.
const overlapGap = 0.05

// resolveOverlaps splits any overlap between consecutive segments at its
// midpoint, pulling boundary words inside the new bounds.
func resolveOverlaps(segments []models.Segment) []models.Segment {
	for i := 1; i < len(segments); i++ {
		prev := &segments[i-1]
		cur := &segments[i]
		if cur.Start >= prev.End {
			continue
		}

		mid := (cur.Start + prev.End) / 2
		prevEnd := mid - overlapGap/2
		curStart := mid + overlapGap/2
		if prevEnd < prev.Start {
			prevEnd = prev.Start
			curStart = prevEnd + overlapGap
		}

		for j := len(prev.Words) - 1; j >= 0; j-- {
			w := &prev.Words[j]
			if w.End > prevEnd {
				w.End = prevEnd
			}
			if w.Start > w.End {
				w.Start = w.End
			}
		}
		for j := range cur.Words {
			w := &cur.Words[j]
			if w.Start < curStart {
				w.Start = curStart
			}
			if w.End < w.Start {
				w.End = w.Start
			}
		}
		prev.ClampToWords()
		cur.ClampToWords()
	}
	return segments
}
