package ffmpeg

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		HideBanner().
		Overwrite().
		Input("in.mp4").
		NoVideo().
		AudioCodec("pcm_s16le").
		SampleRate(44100).
		AudioChannels(2).
		Output("out.wav").
		Build()

	s := cmd.String()
	assert.Contains(t, s, "-loglevel error")
	assert.Contains(t, s, "-hide_banner")
	assert.Contains(t, s, "-y")
	assert.Contains(t, s, "-i in.mp4")
	assert.Contains(t, s, "-vn")
	assert.Contains(t, s, "-c:a pcm_s16le")
	assert.Contains(t, s, "-ar 44100")
	assert.Contains(t, s, "-ac 2")
	assert.True(t, strings.HasSuffix(s, "out.wav"))
}

func TestCommandBuilder_MultipleInputs(t *testing.T) {
	cmd := NewCommandBuilder("").
		Input("video.mp4").
		Input("audio.wav").
		Map("0:v:0").
		Map("1:a:0").
		Output("out.mp4").
		Build()

	assert.Equal(t, "ffmpeg", cmd.Binary)
	s := cmd.String()
	assert.Contains(t, s, "-i video.mp4 -i audio.wav")
	assert.Contains(t, s, "-map 0:v:0")
	assert.Contains(t, s, "-map 1:a:0")
	assert.Equal(t, "video.mp4", cmd.Input)
}

func TestCommandBuilder_Filters(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Input("in.mp4").
		VideoFilter("subtitles=lyrics.ass").
		AudioFilter("rubberband=pitch=1.059463:tempo=1.0").
		Output("out.mp4").
		Build()

	s := cmd.String()
	assert.Contains(t, s, "-vf subtitles=lyrics.ass")
	assert.Contains(t, s, "-af rubberband=pitch=1.059463:tempo=1.0")
}

func TestCommand_RunMissingBinary(t *testing.T) {
	cmd := NewCommandBuilder("/nonexistent/ffmpeg-binary").
		Input("in.mp4").
		Output("out.mp4").
		Build()

	err := cmd.Run(context.Background())
	assert.Error(t, err)
}

func TestCommand_RunRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewCommandBuilder("sleep").Build()
	cmd.Args = []string{"5"}

	err := cmd.Run(ctx)
	assert.Error(t, err)
}

func TestStderrTimeParsing(t *testing.T) {
	m := timePattern.FindStringSubmatch("frame= 100 fps=25 time=00:01:23.45 bitrate= 500kb/s speed=1.2x")
	require.NotNil(t, m)
	assert.Equal(t, "01", m[2])
	assert.Equal(t, "23", m[3])

	sm := speedPattern.FindStringSubmatch("time=00:01:23.45 speed=1.2x")
	require.NotNil(t, sm)
	assert.Equal(t, "1.2", sm[1])
}

func TestPitchRatio(t *testing.T) {
	assert.InDelta(t, 1.0, PitchRatio(0), 1e-9)
	assert.InDelta(t, 2.0, PitchRatio(12), 1e-9)
	assert.InDelta(t, 0.5, PitchRatio(-12), 1e-9)
	assert.InDelta(t, math.Pow(2, 1.0/12), PitchRatio(1), 1e-9)
}

func TestPitchFilter(t *testing.T) {
	assert.Empty(t, pitchFilter(0, false))

	up := pitchFilter(2, false)
	assert.Contains(t, up, "rubberband=pitch=")
	assert.Contains(t, up, "tempo=1.0")

	// The resample shifter changes pitch and tempo together, so no
	// atempo stage must follow the resample.
	legacy := pitchFilter(2, true)
	assert.Equal(t, "asetrate=48000*1.122462,aresample=48000", legacy)
	assert.NotContains(t, legacy, "atempo")

	// Shifts beyond an octave clamp to the octave ratio.
	clamped := pitchFilter(24, false)
	assert.Contains(t, clamped, "pitch=2.000000")
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `/tmp/out/lyrics.ass`, escapeFilterPath("/tmp/out/lyrics.ass"))
	assert.Equal(t, `C\:\\media\\a\'s.ass`, escapeFilterPath(`C:\media\a's.ass`))
	assert.Equal(t, `/a\,b/c\;d\[1\].ass`, escapeFilterPath(`/a,b/c;d[1].ass`))
}

func TestProbeResult_Helpers(t *testing.T) {
	r := &ProbeResult{
		Streams: []StreamInfo{
			{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080},
			{CodecType: "audio", CodecName: "aac", Channels: 2},
		},
		Format: FormatInfo{Duration: "213.400000"},
	}

	assert.True(t, r.HasAudio())
	assert.True(t, r.HasVideo())
	assert.Equal(t, "h264", r.VideoCodec())
	assert.InDelta(t, 213.4, r.DurationSeconds(), 1e-9)

	empty := &ProbeResult{}
	assert.False(t, empty.HasAudio())
	assert.Zero(t, empty.DurationSeconds())
	assert.Empty(t, empty.VideoCodec())
}

func TestProcessMonitor_StartStop(t *testing.T) {
	pm := NewProcessMonitor(1)
	pm.SetInterval(10 * time.Millisecond)
	pm.Start()
	time.Sleep(30 * time.Millisecond)
	pm.Stop()

	stats := pm.Stats()
	assert.Equal(t, 1, stats.PID)
	assert.False(t, stats.LastUpdated.IsZero())
	assert.Greater(t, stats.Duration, time.Duration(0))
}

func TestExtractor_MissingInput(t *testing.T) {
	e := NewExtractor("/nonexistent/ffmpeg-binary", slog.Default())
	err := e.Extract(context.Background(), "in.mp4", t.TempDir()+"/out.wav")
	assert.Error(t, err)
}
