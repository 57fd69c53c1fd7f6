// Package fetcher downloads source media by supervising the yt-dlp binary.
//
// Downloads land under a per-video directory in the downloads root so a
// rerun of the same video skips the network entirely.
package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// videoIDPattern matches the 11-character video identifier used by the
// supported streaming site, either bare or embedded in a URL.
var videoIDPattern = regexp.MustCompile(`(?:v=|youtu\.be/|/embed/|/shorts/|^)([a-zA-Z0-9_-]{11})(?:[?&#]|$)`)

// Metadata is the subset of downloader JSON output the pipeline needs.
type Metadata struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	WebpageURL string  `json:"webpage_url"`
	Uploader   string  `json:"uploader"`
	UploaderID string  `json:"uploader_id"`
}

// Result describes a completed download.
type Result struct {
	VideoID string
	Title   string
	// Uploader is the channel or artist name, when the site reports one.
	Uploader string
	// Path is the downloaded media file on disk.
	Path string
	// FromCache is true when the file already existed and no download ran.
	FromCache bool
}

// Fetcher supervises yt-dlp for downloads, searches, and suggestions.
type Fetcher struct {
	binary        string
	downloadsDir  string
	socketTimeout time.Duration
	retries       int
	logger        *slog.Logger
}

// New creates a Fetcher. binary may be a bare name resolved via PATH.
func New(binary, downloadsDir string, socketTimeout time.Duration, retries int, logger *slog.Logger) *Fetcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Fetcher{
		binary:        binary,
		downloadsDir:  downloadsDir,
		socketTimeout: socketTimeout,
		retries:       retries,
		logger:        logger.With("component", "fetcher"),
	}
}

// ExtractVideoID pulls the 11-character video ID out of a URL, or returns
// false when the input is not a recognizable video URL.
func ExtractVideoID(input string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// VideoDir returns the download directory for a video.
func (f *Fetcher) VideoDir(videoID string) string {
	return filepath.Join(f.downloadsDir, videoID)
}

// CachedVideo returns the previously downloaded media file for a video, if
// one exists and is non-trivial in size.
func (f *Fetcher) CachedVideo(videoID string) (string, bool) {
	dir := f.VideoDir(videoID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".mp4" && ext != ".mkv" && ext != ".webm" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() < 1024 {
			continue
		}
		return filepath.Join(dir, name), true
	}
	return "", false
}

// Fetch resolves source (a URL or free-text query) and downloads the video.
// A cached download is returned without touching the network.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*Result, error) {
	target := source
	if id, ok := ExtractVideoID(source); ok {
		if path, cached := f.CachedVideo(id); cached {
			meta, err := f.loadMetadata(id)
			title, uploader := "", ""
			if err == nil {
				title, uploader = meta.Title, meta.Uploader
			}
			f.logger.Info("using cached download", "video_id", id)
			return &Result{VideoID: id, Title: title, Uploader: uploader, Path: path, FromCache: true}, nil
		}
	} else if !strings.Contains(source, "://") {
		// Free text resolves to the first search hit.
		target = "ytsearch1:" + source
	}

	meta, err := f.probe(ctx, target)
	if err != nil {
		return nil, err
	}

	if path, cached := f.CachedVideo(meta.ID); cached {
		f.logger.Info("using cached download", "video_id", meta.ID)
		return &Result{VideoID: meta.ID, Title: meta.Title, Uploader: meta.Uploader, Path: path, FromCache: true}, nil
	}

	path, err := f.download(ctx, meta)
	if err != nil {
		return nil, err
	}
	return &Result{VideoID: meta.ID, Title: meta.Title, Uploader: meta.Uploader, Path: path}, nil
}

// Suggestions runs a metadata-only search and returns up to count hits.
// A query that is already a video URL resolves to that one video instead
// of a text search over its characters.
func (f *Fetcher) Suggestions(ctx context.Context, query string, count int) ([]Metadata, error) {
	if count < 1 {
		count = 5
	}
	args := f.commonArgs()
	args = append(args,
		"--skip-download",
		"--dump-json",
		"--flat-playlist",
		suggestionTarget(query, count),
	)

	stdout, stderrLines, err := f.run(ctx, args)
	if err != nil {
		return nil, newFetchError(query, stderrLines)
	}
	return parseSuggestions(stdout), nil
}

// suggestionTarget maps a suggestion query to a downloader target.
func suggestionTarget(query string, count int) string {
	if id, ok := ExtractVideoID(query); ok {
		return "https://www.youtube.com/watch?v=" + id
	}
	return fmt.Sprintf("ytsearch%d:%s", count, query)
}

// parseSuggestions decodes line-delimited metadata JSON, dropping entries
// without an id and repeats of the same video.
func parseSuggestions(stdout string) []Metadata {
	var out []Metadata
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(line), &meta); err != nil {
			continue
		}
		if meta.ID == "" || seen[meta.ID] {
			continue
		}
		seen[meta.ID] = true
		if meta.WebpageURL == "" {
			meta.WebpageURL = "https://www.youtube.com/watch?v=" + meta.ID
		}
		out = append(out, meta)
	}
	return out
}

// probe fetches metadata for a target without downloading.
func (f *Fetcher) probe(ctx context.Context, target string) (*Metadata, error) {
	args := f.commonArgs()
	args = append(args, "--skip-download", "--dump-json", "--no-playlist", target)

	stdout, stderrLines, err := f.run(ctx, args)
	if err != nil {
		return nil, newFetchError(target, stderrLines)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &meta); err != nil {
		return nil, &FetchError{Kind: ErrKindNotFound, Source: target, Detail: "no metadata in downloader output"}
	}
	if meta.ID == "" {
		return nil, &FetchError{Kind: ErrKindNotFound, Source: target}
	}
	return &meta, nil
}

// download runs the actual media download for known metadata.
func (f *Fetcher) download(ctx context.Context, meta *Metadata) (string, error) {
	dir := f.VideoDir(meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	outTemplate := filepath.Join(dir, "%(id)s.%(ext)s")
	args := f.commonArgs()
	args = append(args,
		"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"--merge-output-format", "mp4",
		"--no-playlist",
		"-o", outTemplate,
		"https://www.youtube.com/watch?v="+meta.ID,
	)

	f.logger.Info("downloading video", "video_id", meta.ID, "title", meta.Title)
	_, stderrLines, err := f.run(ctx, args)
	if err != nil {
		return "", newFetchError(meta.ID, stderrLines)
	}

	if err := f.saveMetadata(meta); err != nil {
		f.logger.Warn("saving download metadata failed", "video_id", meta.ID, "error", err)
	}

	path, ok := f.CachedVideo(meta.ID)
	if !ok {
		return "", &FetchError{Kind: ErrKindGeneric, Source: meta.ID, Detail: "downloader produced no output file"}
	}
	return path, nil
}

// commonArgs returns the flags shared by every downloader invocation.
func (f *Fetcher) commonArgs() []string {
	return []string{
		"--no-warnings",
		"--no-progress",
		"--socket-timeout", strconv.Itoa(int(f.socketTimeout.Seconds())),
		"--retries", strconv.Itoa(f.retries),
	}
}

// run executes the downloader, capturing stdout fully and keeping a ring
// buffer of recent stderr lines for error classification.
func (f *Fetcher) run(ctx context.Context, args []string) (string, []string, error) {
	cmd := exec.CommandContext(ctx, f.binary, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", nil, fmt.Errorf("getting stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, fmt.Errorf("getting stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("starting downloader: %w", err)
	}

	const maxLines = 100
	var (
		stderrLines []string
		stderrMu    sync.Mutex
		wg          sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrMu.Lock()
			if len(stderrLines) >= maxLines {
				stderrLines = stderrLines[1:]
			}
			stderrLines = append(stderrLines, scanner.Text())
			stderrMu.Unlock()
		}
	}()

	var out strings.Builder
	outScanner := bufio.NewScanner(stdout)
	outScanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for outScanner.Scan() {
		out.WriteString(outScanner.Text())
		out.WriteByte('\n')
	}

	wg.Wait()
	waitErr := cmd.Wait()

	stderrMu.Lock()
	lines := append([]string(nil), stderrLines...)
	stderrMu.Unlock()

	if waitErr != nil {
		if ctx.Err() != nil {
			return "", lines, ctx.Err()
		}
		f.logger.Debug("downloader failed", "error", waitErr, "stderr_tail", lastLine(lines))
		return "", lines, waitErr
	}
	return out.String(), lines, nil
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

// metadataPath is the sidecar file holding download metadata for reruns.
func (f *Fetcher) metadataPath(videoID string) string {
	return filepath.Join(f.VideoDir(videoID), "info.json")
}

func (f *Fetcher) saveMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.metadataPath(meta.ID), data, 0o644)
}

func (f *Fetcher) loadMetadata(videoID string) (*Metadata, error) {
	data, err := os.ReadFile(f.metadataPath(videoID))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
