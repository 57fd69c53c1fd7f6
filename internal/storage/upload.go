package storage

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MaxUploadSize caps uploaded local files at 500 MiB.
const MaxUploadSize = 500 << 20

// uploadChunkSize is the streaming copy granularity for uploads.
const uploadChunkSize = 1 << 20

// allowedUploadExtensions whitelists the container and audio formats the
// pipeline can process.
var allowedUploadExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true,
	".mov": true, ".m4v": true,
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true, ".ogg": true,
}

// ErrUploadTooLarge is returned when an upload exceeds MaxUploadSize.
var ErrUploadTooLarge = errors.New("uploaded file exceeds the size limit")

// ErrUnsupportedFormat is returned for extensions outside the whitelist.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// AllowedUploadExtension reports whether the filename's extension is
// accepted for upload.
func AllowedUploadExtension(filename string) bool {
	return allowedUploadExtensions[strings.ToLower(filepath.Ext(filename))]
}

// SanitizeStem reduces a filename stem to [A-Za-z0-9_], replacing every
// other rune with an underscore. The result doubles as the video id for
// local-file jobs.
func SanitizeStem(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var sb strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := strings.Trim(sb.String(), "_")
	if out == "" {
		return "upload"
	}
	return out
}

// Upload is a stored local-file input.
type Upload struct {
	VideoID string
	Path    string
	Title   string
}

// SaveUpload validates and streams an uploaded file into the downloads
// tree. The file is copied in 1 MiB chunks and rejected as soon as it
// crosses MaxUploadSize.
func (l *Layout) SaveUpload(filename string, r io.Reader) (*Upload, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedUploadExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	videoID := SanitizeStem(filename)
	rel := filepath.Join(videoID, videoID+ext)

	limited := &cappedReader{r: r, remaining: MaxUploadSize}
	if err := l.downloads.AtomicWriteReader(rel, limited); err != nil {
		if errors.Is(err, ErrUploadTooLarge) {
			return nil, ErrUploadTooLarge
		}
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	abs, err := l.downloads.ResolvePath(rel)
	if err != nil {
		return nil, err
	}
	l.logger.Info("upload stored", "video_id", videoID, "path", abs)
	return &Upload{VideoID: videoID, Path: abs, Title: videoID}, nil
}

// cappedReader fails the copy once more than remaining bytes have been
// read, reading at most uploadChunkSize per call.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrUploadTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	if len(p) > uploadChunkSize {
		p = p[:uploadChunkSize]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrUploadTooLarge
	}
	return n, err
}
