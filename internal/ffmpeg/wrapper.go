// Package ffmpeg wraps the FFmpeg and ffprobe binaries for audio
// extraction, mixing, and the final karaoke mux.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Command represents a single FFmpeg invocation.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string

	cmd     *exec.Cmd
	started time.Time
	mu      sync.RWMutex

	monitor *ProcessMonitor

	stderrLines []string
	stderrMu    sync.RWMutex
}

// Progress reports transcode position parsed from FFmpeg stderr.
type Progress struct {
	Time  time.Duration `json:"time"`
	Speed float64       `json:"speed"`
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	inputs     []string
	filterArgs []string
	audioArgs  []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a builder for the given FFmpeg binary path.
// An empty path resolves "ffmpeg" via PATH.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats enables progress stats output on stderr.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// Input appends an input source. Multiple inputs are supported for mixing.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputs = append(b.inputs, input)
	return b
}

// InputArgs adds arguments applied before the next input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// NoVideo drops the video stream.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// SampleRate sets the audio sample rate.
func (b *CommandBuilder) SampleRate(hz int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(hz))
	return b
}

// AudioChannels sets the number of audio channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// CRF sets the constant rate factor for quality-targeted encoding.
func (b *CommandBuilder) CRF(value int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-crf", strconv.Itoa(value))
	return b
}

// VideoFilter adds a video filter to the -vf chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// AudioFilter adds an audio filter to the -af chain.
func (b *CommandBuilder) AudioFilter(filter string) *CommandBuilder {
	b.audioArgs = append(b.audioArgs, filter)
	return b
}

// FilterComplex sets a -filter_complex graph for multi-input mixing.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-filter_complex", graph)
	return b
}

// Map adds a -map stream selector.
func (b *CommandBuilder) Map(spec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", spec)
	return b
}

// FastStart moves the moov atom to the front for progressive playback.
func (b *CommandBuilder) FastStart() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", "+faststart")
	return b
}

// ShortestOutput stops at the shortest input stream.
func (b *CommandBuilder) ShortestOutput() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-shortest")
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	for _, in := range b.inputs {
		args = append(args, "-i", in)
	}

	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}
	if len(b.audioArgs) > 0 {
		args = append(args, "-af", strings.Join(b.audioArgs, ","))
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	input := ""
	if len(b.inputs) > 0 {
		input = b.inputs[0]
	}

	return &Command{
		Binary:      b.binary,
		Args:        args,
		Input:       input,
		Output:      b.output,
		stderrLines: make([]string, 0, 100),
	}
}

// String returns the command as a shell-style string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command, capturing stderr for diagnostics. On failure
// the returned error includes the last stderr line.
func (c *Command) Run(ctx context.Context) error {
	return c.RunWithProgress(ctx, nil)
}

// RunWithProgress executes the command and, when progressCh is non-nil,
// reports position updates parsed from stderr. The channel is never closed
// by this method; sends are non-blocking.
func (c *Command) RunWithProgress(ctx context.Context, progressCh chan<- Progress) error {
	c.mu.Lock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.started = time.Now()

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("getting stderr pipe: %w", err)
	}
	c.mu.Unlock()

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	c.mu.Lock()
	c.monitor = NewProcessMonitor(c.cmd.Process.Pid)
	c.monitor.Start()
	c.mu.Unlock()

	done := make(chan struct{})
	go c.consumeStderr(stderr, progressCh, done)

	waitErr := c.cmd.Wait()
	<-done
	c.stopMonitor()

	if waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lines := c.StderrLines()
		if len(lines) > 0 {
			return fmt.Errorf("ffmpeg: %w: %s", waitErr, lines[len(lines)-1])
		}
		return fmt.Errorf("ffmpeg: %w", waitErr)
	}
	return nil
}

// timePattern matches FFmpeg's stderr position report.
var (
	timePattern  = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	speedPattern = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// consumeStderr keeps a ring buffer of recent stderr lines and optionally
// emits parsed progress.
func (c *Command) consumeStderr(r io.Reader, progressCh chan<- Progress, done chan struct{}) {
	defer close(done)

	const maxLines = 100
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()

		if progressCh == nil {
			continue
		}
		if m := timePattern.FindStringSubmatch(line); m != nil {
			hours, _ := strconv.Atoi(m[1])
			mins, _ := strconv.Atoi(m[2])
			secs, _ := strconv.Atoi(m[3])
			centi, _ := strconv.Atoi(m[4])
			p := Progress{
				Time: time.Duration(hours)*time.Hour +
					time.Duration(mins)*time.Minute +
					time.Duration(secs)*time.Second +
					time.Duration(centi)*10*time.Millisecond,
			}
			if sm := speedPattern.FindStringSubmatch(line); sm != nil {
				p.Speed, _ = strconv.ParseFloat(sm[1], 64)
			}
			select {
			case progressCh <- p:
			default:
			}
		}
	}
}

// StderrLines returns a copy of the recent stderr lines.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// Stats returns resource usage for the running process, or nil when no
// monitor is active.
func (c *Command) Stats() *ProcessStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.monitor == nil {
		return nil
	}
	stats := c.monitor.Stats()
	return &stats
}

func (c *Command) stopMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.monitor != nil {
		c.monitor.Stop()
	}
}
