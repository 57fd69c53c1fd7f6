package separator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/karaforge/karaforge/internal/cache"
	"github.com/karaforge/karaforge/internal/ffmpeg"
)

// InstrumentalFile is the filename of the mixed non-vocal track.
const InstrumentalFile = "instrumental.wav"

// MixInstrumental mixes drums, bass, and other into a single instrumental
// WAV next to the stems. The mix normalizes loudness so the instrumental
// sits at a consistent level regardless of how hot the stems came out.
func (s *Separator) MixInstrumental(ctx context.Context, res *Result) (string, error) {
	outPath := filepath.Join(res.Dir, InstrumentalFile)
	if res.FromCache && cache.ValidFile(outPath) {
		return outPath, nil
	}

	b := ffmpeg.NewCommandBuilder(s.cfg.FFmpegPath).
		HideBanner().
		Overwrite().
		Input(res.Stems["drums"]).
		Input(res.Stems["bass"]).
		Input(res.Stems["other"]).
		FilterComplex("amix=inputs=3:duration=first:dropout_transition=2,dynaudnorm").
		AudioCodec("pcm_s24le").
		SampleRate(48000).
		Output(outPath)

	cmd := b.Build()
	s.logger.Debug("mixing instrumental", "output", outPath)
	if err := cmd.Run(ctx); err != nil {
		return "", fmt.Errorf("mixing instrumental: %w", err)
	}
	if !cache.ValidFile(outPath) {
		return "", fmt.Errorf("instrumental mix missing or truncated at %s", outPath)
	}
	return outPath, nil
}
