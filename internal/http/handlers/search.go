package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/karaforge/karaforge/internal/media/fetcher"
	"github.com/karaforge/karaforge/internal/models"
)

// Suggester resolves free-text queries to media suggestions.
type Suggester interface {
	Suggestions(ctx context.Context, query string, count int) ([]fetcher.Metadata, error)
}

// LyricSearcher finds ranked lyric candidates for a track.
type LyricSearcher interface {
	Enabled() bool
	SearchCandidates(ctx context.Context, title, artist string) ([]models.GeniusCandidate, error)
}

// SearchHandler handles media suggestions and lyric candidate lookup.
type SearchHandler struct {
	suggester Suggester
	lyrics    LyricSearcher
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(suggester Suggester, lyrics LyricSearcher) *SearchHandler {
	return &SearchHandler{suggester: suggester, lyrics: lyrics}
}

// SuggestionsInput is the input for search suggestions.
type SuggestionsInput struct {
	Query string `query:"q" doc:"Free-text search query"`
}

// SuggestionsBody is the response body for search suggestions.
type SuggestionsBody struct {
	Suggestions []models.SuggestionItem `json:"suggestions"`
}

// SuggestionsOutput is the output for search suggestions.
type SuggestionsOutput struct {
	Body SuggestionsBody
}

// CandidatesInput is the input for lyric candidate lookup.
type CandidatesInput struct {
	Title  string `query:"title" required:"true" doc:"Track title"`
	Artist string `query:"artist" doc:"Track artist"`
}

// CandidatesBody is the response body for lyric candidate lookup.
type CandidatesBody struct {
	Candidates []models.GeniusCandidate `json:"candidates"`
}

// CandidatesOutput is the output for lyric candidate lookup.
type CandidatesOutput struct {
	Body CandidatesBody
}

// Register registers the search routes with the API.
func (h *SearchHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSuggestions",
		Method:      http.MethodGet,
		Path:        "/api/suggestions",
		Summary:     "Search suggestions",
		Description: "Returns media search suggestions for an autocomplete query",
		Tags:        []string{"Search"},
	}, h.GetSuggestions)

	huma.Register(api, huma.Operation{
		OperationID: "getGeniusCandidates",
		Method:      http.MethodGet,
		Path:        "/api/genius_candidates",
		Summary:     "Lyric candidates",
		Description: "Returns ranked lyric candidates with fetched text",
		Tags:        []string{"Search"},
	}, h.GetGeniusCandidates)
}

// GetSuggestions returns media suggestions for a query. An empty query
// yields an empty list rather than an error so typeahead clients can call
// it unconditionally.
func (h *SearchHandler) GetSuggestions(ctx context.Context, input *SuggestionsInput) (*SuggestionsOutput, error) {
	out := &SuggestionsOutput{Body: SuggestionsBody{Suggestions: []models.SuggestionItem{}}}

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return out, nil
	}

	metas, err := h.suggester.Suggestions(ctx, query, 5)
	if err != nil {
		return nil, huma.Error502BadGateway("searching media site", err)
	}
	for _, m := range metas {
		out.Body.Suggestions = append(out.Body.Suggestions, models.SuggestionItem{
			ID:         m.ID,
			Title:      m.Title,
			Thumbnail:  m.Thumbnail,
			URL:        m.WebpageURL,
			Uploader:   m.Uploader,
			UploaderID: m.UploaderID,
		})
	}
	return out, nil
}

// GetGeniusCandidates returns lyric candidates for a title and artist.
func (h *SearchHandler) GetGeniusCandidates(ctx context.Context, input *CandidatesInput) (*CandidatesOutput, error) {
	if h.lyrics == nil || !h.lyrics.Enabled() {
		return nil, huma.Error503ServiceUnavailable("lyric provider is not configured")
	}

	candidates, err := h.lyrics.SearchCandidates(ctx, input.Title, input.Artist)
	if err != nil {
		return nil, huma.Error502BadGateway("searching lyric provider", err)
	}
	if candidates == nil {
		candidates = []models.GeniusCandidate{}
	}
	return &CandidatesOutput{Body: CandidatesBody{Candidates: candidates}}, nil
}
