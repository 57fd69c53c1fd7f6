package lyrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/unicode/norm"

	"github.com/karaforge/karaforge/internal/models"
)

const (
	// minAcceptableScore is the ranking floor. Hits below it are skipped
	// unless nothing at all passes, in which case the best hit is kept.
	minAcceptableScore = 50
	// maxCandidates caps how many candidates get their lyrics fetched.
	maxCandidates = 7

	searchCacheSize = 256
	lyricsCacheSize = 1024
)

var wsPattern = regexp.MustCompile(`\s+`)

// normalizeText prepares a string for fuzzy comparison: NFKC folding,
// lowercase, punctuation stripped, whitespace collapsed.
func normalizeText(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}
	return strings.TrimSpace(wsPattern.ReplaceAllString(sb.String(), " "))
}

// similarity scores two normalized strings on a 0-100 scale.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return matchr.JaroWinkler(a, b, false) * 100
}

// scoreHit ranks a search hit against the query. Title similarity carries
// most of the weight.
func scoreHit(hit Hit, titleNorm, artistNorm string) int {
	titleScore := similarity(normalizeText(hit.Title), titleNorm)
	artistScore := 0.0
	if artistNorm != "" {
		artistScore = similarity(normalizeText(hit.Artist), artistNorm)
	}
	return int(math.Round(0.7*titleScore + 0.3*artistScore))
}

// Service finds ranked lyric candidates for a track.
type Service struct {
	client *Client
	logger *slog.Logger

	searchCache *lruCache[string, []Hit]
	lyricsCache *lruCache[int64, string]
}

// NewService creates a lyric ranking service on top of the given client.
func NewService(client *Client, logger *slog.Logger) *Service {
	return &Service{
		client:      client,
		logger:      logger.With("component", "lyrics"),
		searchCache: newLRUCache[string, []Hit](searchCacheSize),
		lyricsCache: newLRUCache[int64, string](lyricsCacheSize),
	}
}

// Enabled reports whether the underlying provider is configured.
func (s *Service) Enabled() bool {
	return s.client.Enabled()
}

// SearchCandidates returns up to maxCandidates lyric candidates for the
// given title and artist, best match first. Hits whose lyric pages yield
// no text are dropped.
func (s *Service) SearchCandidates(ctx context.Context, title, artist string) ([]models.GeniusCandidate, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("lyric provider is not configured")
	}

	hits, err := s.search(ctx, title, artist)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		s.logger.Info("no lyric provider hits", "title", title, "artist", artist)
		return nil, nil
	}

	selected := selectCandidates(hits, normalizeText(title), normalizeText(artist))

	out := make([]models.GeniusCandidate, 0, len(selected))
	for _, hit := range selected {
		text, err := s.lyricsFor(ctx, hit.ID)
		if err != nil {
			s.logger.Warn("fetching candidate lyrics failed", "title", hit.Title, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		out = append(out, models.GeniusCandidate{
			Title:  hit.Title,
			Artist: hit.Artist,
			Lyrics: strings.TrimSpace(text),
			URL:    hit.URL,
		})
		if len(out) >= maxCandidates {
			break
		}
	}
	return out, nil
}

// BestLyrics returns the lyric text of the single best candidate, or ""
// when the provider has nothing usable.
func (s *Service) BestLyrics(ctx context.Context, title, artist string) (string, error) {
	candidates, err := s.SearchCandidates(ctx, title, artist)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[0].Lyrics, nil
}

// selectCandidates sorts hits by score and keeps the ones above the
// ranking floor. When none pass, the single best hit is kept so callers
// still get the provider's top answer.
func selectCandidates(hits []Hit, titleNorm, artistNorm string) []Hit {
	type scored struct {
		score int
		hit   Hit
	}
	ranked := make([]scored, 0, len(hits))
	for _, hit := range hits {
		ranked = append(ranked, scored{scoreHit(hit, titleNorm, artistNorm), hit})
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	selected := make([]Hit, 0, maxCandidates)
	for _, r := range ranked {
		if len(selected) >= maxCandidates {
			break
		}
		if r.score >= minAcceptableScore {
			selected = append(selected, r.hit)
		}
	}
	if len(selected) == 0 && len(ranked) > 0 {
		selected = append(selected, ranked[0].hit)
	}
	return selected
}

func (s *Service) search(ctx context.Context, title, artist string) ([]Hit, error) {
	key := normalizeText(title) + "\x00" + normalizeText(artist)
	if hits, ok := s.searchCache.Get(key); ok {
		return hits, nil
	}
	hits, err := s.client.Search(ctx, title, artist)
	if err != nil {
		return nil, err
	}
	s.searchCache.Put(key, hits)
	return hits, nil
}

func (s *Service) lyricsFor(ctx context.Context, songID int64) (string, error) {
	if text, ok := s.lyricsCache.Get(songID); ok {
		return text, nil
	}
	text, err := s.client.Lyrics(ctx, songID)
	if err != nil {
		return "", err
	}
	s.lyricsCache.Put(songID, text)
	return text, nil
}
