package pipeline

import (
	"context"

	"github.com/karaforge/karaforge/internal/analyzer"
	"github.com/karaforge/karaforge/internal/ffmpeg"
	"github.com/karaforge/karaforge/internal/media/fetcher"
	"github.com/karaforge/karaforge/internal/models"
	"github.com/karaforge/karaforge/internal/separator"
)

// State carries one job's intermediate artifacts between stages. It is
// owned by the job goroutine and never shared.
type State struct {
	Req models.JobRequest

	// Resolved during download or import.
	VideoID  string
	Title    string
	Uploader string

	// Filesystem artifacts.
	VideoPath        string
	AudioPath        string
	AudioHash        string
	InstrumentalPath string
	SubtitlePath     string

	// ProcessedURI is the published artifact's servable URI.
	ProcessedURI string

	// Stage outputs.
	Analysis   *analyzer.Analysis
	Separation *separator.Result
	Recognized []models.Segment
	Karaoke    []models.Segment

	// Result is assembled by the finalize stage.
	Result *models.JobResult
}

// MediaFetcher resolves a URL or search text and downloads the source.
type MediaFetcher interface {
	Fetch(ctx context.Context, source string) (*fetcher.Result, error)
}

// AudioExtractor turns any input container into canonical WAV.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, outPath string) error
}

// AudioAnalyzer estimates tempo and key from a WAV file.
type AudioAnalyzer interface {
	Analyze(ctx context.Context, audioPath string) (*analyzer.Analysis, error)
}

// TrackSeparator produces stems and the instrumental mixdown.
type TrackSeparator interface {
	Separate(ctx context.Context, videoID, audioPath string) (*separator.Result, error)
	MixInstrumental(ctx context.Context, res *separator.Result) (string, error)
}

// SpeechRecognizer produces word-timestamped transcription segments.
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, audioPath, language string) ([]models.Segment, error)
	ModelTag() string
	EngineVersion() string
}

// LyricProvider fetches official lyric text for a track.
type LyricProvider interface {
	Enabled() bool
	BestLyrics(ctx context.Context, title, artist string) (string, error)
}

// MediaProber inspects a media file's streams and duration.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// VideoMuxer renders the final karaoke video.
type VideoMuxer interface {
	Mux(ctx context.Context, params ffmpeg.MuxParams, progressCh chan<- ffmpeg.Progress) error
}
