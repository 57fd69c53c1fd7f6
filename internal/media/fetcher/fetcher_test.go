package fetcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"watch url with params", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", true},
		{"short url", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"short url with query", "https://youtu.be/dQw4w9WgXcQ?si=xyz", "dQw4w9WgXcQ", true},
		{"embed url", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"shorts url", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"bare id", "dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"free text", "rick astley never gonna give you up", "", false},
		{"empty", "", "", false},
		{"too short", "abc123", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractVideoID(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		stderr string
		want   ErrorKind
	}{
		{"ERROR: Video unavailable", ErrKindUnavailable},
		{"ERROR: Private video. Sign in if you've been granted access", ErrKindUnavailable},
		{"ERROR: Sign in to confirm your age. This video may be age-restricted", ErrKindAgeRestricted},
		{"ERROR: The uploader has not made this video available in your country", ErrKindGeoBlocked},
		{"ERROR: This video has been removed due to a copyright claim", ErrKindCopyright},
		{"ERROR: This live event will begin in 3 hours", ErrKindFutureLive},
		{"ERROR: Login required to access this video", ErrKindLoginRequired},
		{"ERROR: Unsupported URL: https://example.com/page", ErrKindUnsupportedURL},
		{"ERROR: Requested format is not available", ErrKindFormatUnavailable},
		{"ERROR: ytsearch5: No video results", ErrKindNoResults},
		{"ERROR: HTTP Error 404: Not Found", ErrKindNotFound},
		{"ERROR: unable to download video data: timed out", ErrKindNetwork},
		{"ERROR: something odd happened", ErrKindGeneric},
		{"", ErrKindGeneric},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStderr(tt.stderr))
		})
	}
}

func TestFetchError_UserMessage(t *testing.T) {
	err := &FetchError{Kind: ErrKindAgeRestricted, Source: "abc"}
	assert.Contains(t, err.UserMessage(), "age-restricted")
	assert.Contains(t, err.Error(), "age_restricted")

	generic := &FetchError{Kind: ErrKindGeneric, Source: "abc", Detail: "boom"}
	assert.Contains(t, generic.Error(), "boom")
}

func TestNewFetchError(t *testing.T) {
	err := newFetchError("dQw4w9WgXcQ", []string{
		"[youtube] extracting",
		"ERROR: Video unavailable",
	})
	assert.Equal(t, ErrKindUnavailable, err.Kind)
	assert.Equal(t, "ERROR: Video unavailable", err.Detail)
}

func TestSuggestionTarget(t *testing.T) {
	// A URL query resolves to that single video, not a text search.
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		suggestionTarget("https://youtu.be/dQw4w9WgXcQ", 5))
	assert.Equal(t, "ytsearch5:never gonna give you up",
		suggestionTarget("never gonna give you up", 5))
}

func TestParseSuggestions(t *testing.T) {
	stdout := `{"id":"aaaaaaaaaaa","title":"First"}
{"id":"bbbbbbbbbbb","title":"Second","webpage_url":"https://example.com/b"}

{"id":"aaaaaaaaaaa","title":"First again"}
{"title":"no id"}
not json
`
	got := parseSuggestions(stdout)
	require.Len(t, got, 2)
	assert.Equal(t, "aaaaaaaaaaa", got[0].ID)
	assert.Equal(t, "https://www.youtube.com/watch?v=aaaaaaaaaaa", got[0].WebpageURL)
	assert.Equal(t, "https://example.com/b", got[1].WebpageURL)
}

func TestCachedVideo(t *testing.T) {
	dir := t.TempDir()
	f := New("yt-dlp", dir, 60*time.Second, 3, slog.Default())

	_, ok := f.CachedVideo("dQw4w9WgXcQ")
	assert.False(t, ok, "empty cache")

	videoDir := f.VideoDir("dQw4w9WgXcQ")
	require.NoError(t, os.MkdirAll(videoDir, 0o755))

	// Tiny files do not count as cached downloads.
	small := filepath.Join(videoDir, "dQw4w9WgXcQ.mp4")
	require.NoError(t, os.WriteFile(small, []byte("x"), 0o644))
	_, ok = f.CachedVideo("dQw4w9WgXcQ")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(small, make([]byte, 2048), 0o644))
	path, ok := f.CachedVideo("dQw4w9WgXcQ")
	require.True(t, ok)
	assert.Equal(t, small, path)

	// Non-media files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(videoDir, "info.json"), make([]byte, 2048), 0o644))
	path, ok = f.CachedVideo("dQw4w9WgXcQ")
	require.True(t, ok)
	assert.Equal(t, small, path)
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := New("", dir, time.Minute, 1, slog.Default())

	meta := &Metadata{ID: "dQw4w9WgXcQ", Title: "Test Song", Uploader: "Tester"}
	require.NoError(t, os.MkdirAll(f.VideoDir(meta.ID), 0o755))
	require.NoError(t, f.saveMetadata(meta))

	got, err := f.loadMetadata("dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Test Song", got.Title)

	_, err = f.loadMetadata("missing")
	assert.Error(t, err)
}
