// Package lyrics finds official lyrics for a track via the Genius API and
// ranks candidates against the video title with fuzzy matching.
package lyrics

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// titleStopwords are decorations common in video titles that hurt search
// quality and never appear in song metadata.
var titleStopwords = map[string]bool{
	"official":   true,
	"video":      true,
	"audio":      true,
	"lyrics":     true,
	"lyric":      true,
	"hd":         true,
	"hq":         true,
	"4k":         true,
	"mv":         true,
	"m/v":        true,
	"visualizer": true,
	"remastered": true,
	"live":       true,
	"feat":       true,
	"feat.":      true,
	"ft":         true,
	"ft.":        true,
}

var (
	bracketPattern = regexp.MustCompile(`[\(\[\{][^\)\]\}]*[\)\]\}]`)
	spacePattern   = regexp.MustCompile(`\s+`)

	// artistSeparatorPattern splits a collaboration credit like
	// "A, B & C feat. D" into individual artists.
	artistSeparatorPattern = regexp.MustCompile(`(?i)\s*,\s*|\s*&\s*|\s+feat\.?\s+|\s+ft\.?\s+`)
)

// NormalizeTitle cleans a video title for lyric search: NFKC folding,
// bracketed decorations removed, stopwords dropped, whitespace collapsed.
func NormalizeTitle(title string) string {
	s := norm.NFKC.String(title)
	s = bracketPattern.ReplaceAllString(s, " ")
	s = strings.ToLower(s)

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		trimmed := strings.Trim(w, `"'|.,!?~`)
		if trimmed == "" || titleStopwords[trimmed] {
			continue
		}
		kept = append(kept, trimmed)
	}
	return spacePattern.ReplaceAllString(strings.Join(kept, " "), " ")
}

// PrimaryArtist returns the first artist of a collaboration credit. Lyric
// providers index songs under the primary artist, so "A feat. B" searches
// better as just "A".
func PrimaryArtist(credit string) string {
	parts := artistSeparatorPattern.Split(credit, 2)
	return strings.TrimSpace(parts[0])
}

// SplitArtistTitle splits "Artist - Title" style strings. The second
// return is false when no separator is present.
func SplitArtistTitle(s string) (artist, title string, ok bool) {
	for _, sep := range []string{" - ", " – ", " — ", " | "} {
		if idx := strings.Index(s, sep); idx > 0 {
			return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+len(sep):]), true
		}
	}
	return "", strings.TrimSpace(s), false
}
