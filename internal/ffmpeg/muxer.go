package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// Final output encoding parameters.
const (
	muxVideoCRF    = 20
	muxVideoPreset = "medium"
	muxAudioCodec  = "aac"
	muxAudioRate   = "320k"
	muxSampleRate  = 48000
)

// MuxParams describes one final karaoke mux.
type MuxParams struct {
	// VideoPath is the original source video.
	VideoPath string
	// AudioPath is the instrumental track to lay under the video.
	AudioPath string
	// SubtitlePath is the ASS file to burn in. Empty skips subtitles.
	SubtitlePath string
	// OutputPath is the final MP4 destination.
	OutputPath string

	// PitchSemitones shifts the instrumental with tempo preserved.
	// Zero means no shift. Values are clamped to one octave either way.
	PitchSemitones float64

	// LegacyPitch uses the resample-based shifter that also changes
	// tempo, for clients that asked for the old behavior.
	LegacyPitch bool
}

// Muxer assembles the final karaoke video.
type Muxer struct {
	binary string
	logger *slog.Logger
}

// NewMuxer creates a Muxer using the given FFmpeg binary path.
func NewMuxer(ffmpegPath string, logger *slog.Logger) *Muxer {
	return &Muxer{
		binary: ffmpegPath,
		logger: logger.With("component", "muxer"),
	}
}

// Mux renders the final video. When no subtitles are burned in, the video
// stream is first tried as a straight copy and only re-encoded if the
// container rejects it. progressCh may be nil.
func (m *Muxer) Mux(ctx context.Context, params MuxParams, progressCh chan<- Progress) error {
	if params.SubtitlePath == "" {
		err := m.run(ctx, params, false, true, progressCh)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("stream copy failed, re-encoding video", "error", err)
		return m.run(ctx, params, false, false, progressCh)
	}
	return m.run(ctx, params, true, false, progressCh)
}

func (m *Muxer) run(ctx context.Context, params MuxParams, burnSubtitles, copyVideo bool, progressCh chan<- Progress) error {
	b := NewCommandBuilder(m.binary).
		HideBanner().
		Stats().
		Overwrite().
		Input(params.VideoPath).
		Input(params.AudioPath)

	if burnSubtitles {
		b.VideoFilter("subtitles=" + escapeFilterPath(params.SubtitlePath))
	}

	if copyVideo {
		b.VideoCodec("copy")
	} else {
		b.VideoCodec("libx264").
			CRF(muxVideoCRF).
			VideoPreset(muxVideoPreset)
	}

	b.Map("0:v:0").
		Map("1:a:0").
		AudioCodec(muxAudioCodec).
		AudioBitrate(muxAudioRate).
		SampleRate(muxSampleRate)

	if filter := pitchFilter(params.PitchSemitones, params.LegacyPitch); filter != "" {
		b.AudioFilter(filter)
	}

	b.FastStart().
		ShortestOutput().
		Output(params.OutputPath)

	cmd := b.Build()
	m.logger.Debug("muxing final video", "output", params.OutputPath, "copy_video", copyVideo, "subtitles", burnSubtitles)
	return cmd.RunWithProgress(ctx, progressCh)
}

// PitchRatio converts a semitone shift to a frequency ratio.
func PitchRatio(semitones float64) float64 {
	return math.Pow(2, semitones/12.0)
}

// pitchFilter builds the audio filter for a semitone shift. The ratio is
// clamped to [0.5, 2.0], one octave either way.
func pitchFilter(semitones float64, legacy bool) string {
	if semitones == 0 {
		return ""
	}
	ratio := PitchRatio(semitones)
	if ratio < 0.5 {
		ratio = 0.5
	}
	if ratio > 2.0 {
		ratio = 2.0
	}

	if legacy {
		// Resample-based shift: pitch and tempo move together.
		return fmt.Sprintf("asetrate=%d*%.6f,aresample=%d",
			muxSampleRate, ratio, muxSampleRate)
	}
	return fmt.Sprintf("rubberband=pitch=%.6f:tempo=1.0", ratio)
}

// escapeFilterPath escapes a path for use inside an FFmpeg filter value.
// Backslashes, colons, and quotes all terminate or alter filter parsing.
func escapeFilterPath(path string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
		`[`, `\[`,
		`]`, `\]`,
		`,`, `\,`,
		`;`, `\;`,
	)
	return r.Replace(path)
}
