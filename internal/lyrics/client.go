package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/karaforge/karaforge/internal/httpclient"
	"github.com/karaforge/karaforge/internal/observability"
	"github.com/karaforge/karaforge/internal/urlutil"
)

const (
	defaultAPIBase = "https://api.genius.com"
	defaultWebBase = "https://genius.com"
	userAgent      = "karaforge/1.0"
)

// junkLinePattern matches Genius page chrome that leaks into scraped lyric
// text.
var junkLinePattern = regexp.MustCompile(`(?i)^(?:\d+\s*contributors?|you might also like|embed|\d+k? embed)$`)

// sectionHeaderPattern matches lines like "[Verse 1]" or "[Chorus]".
var sectionHeaderPattern = regexp.MustCompile(`^\s*\[[^\]]+\]\s*$`)

// Hit is one search result from the lyric provider API.
type Hit struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
}

// ClientConfig configures the lyric provider client.
type ClientConfig struct {
	// Token is the API bearer token. An empty token disables the client.
	Token observability.Secret
	// APIBase overrides the API endpoint, used in tests.
	APIBase string
	// WebBase overrides the song page host, used in tests.
	WebBase string
	// Hits is the per-search result count, clamped to [1, 10].
	Hits int
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Client talks to the Genius REST API and scrapes song pages for lyric
// text. The API itself never returns lyrics.
type Client struct {
	token   observability.Secret
	apiBase string
	webBase string
	hits    int
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a lyric provider client. A client without a token is
// valid but disabled.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.WebBase == "" {
		cfg.WebBase = defaultWebBase
	}
	cfg.APIBase = urlutil.NormalizeBaseURL(cfg.APIBase)
	cfg.WebBase = urlutil.NormalizeBaseURL(cfg.WebBase)
	if cfg.Hits < 1 {
		cfg.Hits = 5
	}
	if cfg.Hits > 10 {
		cfg.Hits = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	// Provider calls go through the resilient client so transient upstream
	// failures retry and a dead provider fails fast.
	outbound := httpclient.New(httpclient.Config{
		Timeout:   cfg.Timeout,
		UserAgent: userAgent,
		Logger:    logger,
	})
	c := &Client{
		token:   cfg.Token,
		apiBase: cfg.APIBase,
		webBase: cfg.WebBase,
		hits:    cfg.Hits,
		http:    outbound.StandardClient(),
		logger:  logger.With("component", "lyrics"),
	}
	if !c.Enabled() {
		c.logger.Warn("lyric provider token not configured, integration disabled")
	}
	return c
}

// Enabled reports whether the client has an API token.
func (c *Client) Enabled() bool {
	return c.token != ""
}

// Search queries the provider for songs matching title and optional
// artist. The cleaned title-only query is retried when the combined query
// returns nothing.
func (c *Client) Search(ctx context.Context, title, artist string) ([]Hit, error) {
	if !c.Enabled() {
		return nil, nil
	}

	cleanTitle := NormalizeTitle(title)
	cleanArtist := NormalizeTitle(artist)

	queries := make([]string, 0, 2)
	switch {
	case cleanTitle == "" && cleanArtist == "":
		return nil, nil
	case cleanArtist == "":
		queries = append(queries, cleanTitle)
	case cleanTitle == "":
		queries = append(queries, cleanArtist)
	default:
		queries = append(queries, cleanArtist+" "+cleanTitle, cleanTitle)
	}

	for _, q := range queries {
		hits, err := c.searchOnce(ctx, q)
		if err != nil {
			c.logger.Warn("lyric search attempt failed", "query", q, "error", err)
			continue
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}
	return nil, nil
}

func (c *Client) searchOnce(ctx context.Context, query string) ([]Hit, error) {
	u := c.apiBase + "/search?" + url.Values{
		"q":        {query},
		"per_page": {fmt.Sprint(c.hits)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+string(c.token))
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lyric search: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Response struct {
			Hits []struct {
				Result struct {
					ID            int64  `json:"id"`
					Title         string `json:"title"`
					FullTitle     string `json:"full_title"`
					URL           string `json:"url"`
					PrimaryArtist struct {
						Name string `json:"name"`
					} `json:"primary_artist"`
				} `json:"result"`
			} `json:"hits"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("lyric search: decoding response: %w", err)
	}

	out := make([]Hit, 0, len(body.Response.Hits))
	for _, h := range body.Response.Hits {
		r := h.Result
		if r.ID == 0 {
			continue
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = strings.TrimSpace(r.FullTitle)
		}
		out = append(out, Hit{
			ID:     r.ID,
			Title:  title,
			Artist: strings.TrimSpace(r.PrimaryArtist.Name),
			URL:    strings.TrimSpace(r.URL),
		})
	}
	return out, nil
}

// Lyrics fetches and scrapes the song page for the given ID, returning
// plain lyric text with section headers and page chrome removed.
func (c *Client) Lyrics(ctx context.Context, songID int64) (string, error) {
	if !c.Enabled() || songID == 0 {
		return "", nil
	}

	u := fmt.Sprintf("%s/songs/%d", c.webBase, songID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching song page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("song page: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading song page: %w", err)
	}
	return ExtractLyrics(strings.NewReader(string(body)))
}

// ExtractLyrics parses a song page and returns cleaned lyric text from
// the lyric container elements.
func ExtractLyrics(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing song page: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inside bool) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "div" && hasAttr(n, "data-lyrics-container", "true"):
				inside = true
			case inside && n.Data == "br":
				sb.WriteByte('\n')
			case inside && (n.Data == "script" || n.Data == "style"):
				return
			}
		}
		if inside && n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, inside)
		}
		// Block elements inside the container end their own line.
		if inside && n.Type == html.ElementNode && (n.Data == "div" || n.Data == "p") {
			sb.WriteByte('\n')
		}
	}
	walk(doc, false)

	lines := strings.Split(sb.String(), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || junkLinePattern.MatchString(line) || sectionHeaderPattern.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), nil
}

func hasAttr(n *html.Node, key, val string) bool {
	for _, a := range n.Attr {
		if a.Key == key && a.Val == val {
			return true
		}
	}
	return false
}
