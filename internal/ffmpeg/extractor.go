package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Audio extraction format expected by the separator and analyzer.
const (
	extractSampleRate = 44100
	extractChannels   = 2

	// minExtractSize guards against silently truncated extraction output.
	minExtractSize = 1024
)

// Extractor produces the working WAV audio track from a source video.
type Extractor struct {
	binary string
	logger *slog.Logger
}

// NewExtractor creates an Extractor using the given FFmpeg binary path.
func NewExtractor(ffmpegPath string, logger *slog.Logger) *Extractor {
	return &Extractor{
		binary: ffmpegPath,
		logger: logger.With("component", "extractor"),
	}
}

// Extract decodes the audio track of videoPath into a 44.1kHz stereo
// 16-bit PCM WAV at outPath. The output is size-validated so downstream
// stages never operate on a truncated file.
func (e *Extractor) Extract(ctx context.Context, videoPath, outPath string) error {
	cmd := NewCommandBuilder(e.binary).
		HideBanner().
		Overwrite().
		Input(videoPath).
		NoVideo().
		AudioCodec("pcm_s16le").
		SampleRate(extractSampleRate).
		AudioChannels(extractChannels).
		Output(outPath).
		Build()

	e.logger.Debug("extracting audio", "input", videoPath, "output", outPath)
	if err := cmd.Run(ctx); err != nil {
		return fmt.Errorf("extracting audio: %w", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("extracted audio missing: %w", err)
	}
	if info.Size() < minExtractSize {
		return fmt.Errorf("extracted audio too small (%d bytes), source may have no audio track", info.Size())
	}
	return nil
}
