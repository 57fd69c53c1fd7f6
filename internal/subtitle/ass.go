// Package subtitle writes karaoke ASS subtitle files: one dialogue event
// per lyric line with per-word {\k} highlight directives, plus countdown
// and next-up hint events across long instrumental gaps.
package subtitle

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/karaforge/karaforge/internal/models"
)

const (
	// LeadInSeconds shows a line slightly before its first word.
	LeadInSeconds = 0.40
	// PersistSeconds keeps a line visible after its last word.
	PersistSeconds = 0.75
	// MinLineDurationSeconds is the minimum display time for any line.
	MinLineDurationSeconds = 1.2

	// Highlight durations in centiseconds, clamped to keep {\k} sweeps
	// readable.
	minKDurationCS = 5
	maxKDurationCS = 350

	// countdownTriggerGap is the silent stretch that earns a countdown.
	countdownTriggerGap = 4.0
	countdownStep       = 1.0
	countdownTicks      = 3

	// minPreviewSeconds is the shortest useful next-up hint.
	minPreviewSeconds = 0.5
)

// Style carries the visual parameters of the subtitle track. Colors are
// RRGGBB hex; alphas are two hex digits where 00 is opaque.
type Style struct {
	FontName       string
	FontSize       int
	Position       models.SubtitlePosition
	PrimaryColor   string
	HighlightColor string
	OutlineColor   string
	BackColor      string
	PrimaryAlpha   string
	HighlightAlpha string
	OutlineAlpha   string
	BackAlpha      string
}

// DefaultStyle is white text with a cyan highlight sweep at the bottom.
func DefaultStyle() Style {
	return Style{
		FontName:       "Poppins Bold",
		FontSize:       30,
		Position:       models.SubtitleBottom,
		PrimaryColor:   "FFFFFF",
		HighlightColor: "00F0FF",
		OutlineColor:   "000000",
		BackColor:      "000000",
		PrimaryAlpha:   "00",
		HighlightAlpha: "00",
		OutlineAlpha:   "00",
		BackAlpha:      "80",
	}
}

const headerTemplate = `[Script Info]
Title: Karaoke Subtitles
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: None
PlayResX: 1280
PlayResY: 720
Collisions: Normal

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,%[1]s,%[2]d,&H%[8]s%[3]s,&H%[9]s%[4]s,&H%[10]s%[5]s,&H%[11]s%[6]s,-1,0,0,0,100,100,0.2,0,1,%[12].2f,%[13].2f,%[14]d,20,20,%[15]d,1
Style: Highlight,%[1]s,%[2]d,&H%[9]s%[4]s,&H%[8]s%[3]s,&H%[10]s%[5]s,&H%[11]s%[6]s,-1,0,0,0,100,100,0.2,0,1,%[12].2f,%[13].2f,%[14]d,20,20,%[15]d,1
Style: Hint,%[1]s,%[7]d,&H60%[3]s,&H60%[4]s,&H%[10]s%[5]s,&H%[11]s%[6]s,0,0,0,0,100,100,0.2,0,1,%[12].2f,%[13].2f,%[14]d,20,20,%[15]d,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// Generator writes ASS files for karaoke segments.
type Generator struct {
	logger *slog.Logger
}

// NewGenerator creates a subtitle generator.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{logger: logger.With("component", "subtitle")}
}

// Generate writes the subtitle file for the given segments. Segments
// without usable word timing are skipped. An input with no usable
// segments is an error.
func (g *Generator) Generate(path string, segments []models.Segment, style Style) error {
	usable := make([]models.Segment, 0, len(segments))
	for i, seg := range segments {
		if usableSegment(seg) {
			usable = append(usable, seg)
			continue
		}
		g.logger.Warn("skipping segment without timed words", "index", i, "text", seg.Text)
	}
	if len(usable) == 0 {
		return fmt.Errorf("no segments with timed words to render")
	}

	var sb strings.Builder
	sb.WriteString(renderHeader(style))
	sb.WriteByte('\n')

	events := 0
	prevEnd := 0.0
	for _, seg := range usable {
		displayStart := math.Max(0, seg.Start-LeadInSeconds)
		displayEnd := math.Max(seg.End+PersistSeconds, displayStart+MinLineDurationSeconds)

		events += writeGapHints(&sb, prevEnd, displayStart, seg)

		sb.WriteString(fmt.Sprintf("Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			FormatTime(displayStart), FormatTime(displayEnd), karaokeText(seg.Words)))
		events++
		prevEnd = seg.End
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating subtitle directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing subtitle file: %w", err)
	}

	g.logger.Info("subtitle file generated", "path", path, "lines", len(usable), "events", events)
	return nil
}

// writeGapHints emits a next-up preview and a 3-2-1 countdown when the
// silence before a line is long enough. Returns the number of events
// written.
func writeGapHints(sb *strings.Builder, prevEnd, displayStart float64, seg models.Segment) int {
	if seg.Start-prevEnd < countdownTriggerGap {
		return 0
	}
	cdStart := displayStart - countdownTicks*countdownStep
	if cdStart < prevEnd {
		return 0
	}

	events := 0
	previewStart := math.Max(prevEnd, cdStart-2.0)
	if cdStart-previewStart >= minPreviewSeconds {
		sb.WriteString(fmt.Sprintf("Dialogue: 0,%s,%s,Hint,,0,0,0,,Next: %s\n",
			FormatTime(previewStart), FormatTime(cdStart), EscapeText(seg.Text)))
		events++
	}
	for tick := 0; tick < countdownTicks; tick++ {
		start := cdStart + float64(tick)*countdownStep
		sb.WriteString(fmt.Sprintf("Dialogue: 0,%s,%s,Hint,,0,0,0,,%d\n",
			FormatTime(start), FormatTime(start+countdownStep), countdownTicks-tick))
		events++
	}
	return events
}

// karaokeText renders the per-word highlight directives for one line.
func karaokeText(words []models.Word) string {
	var sb strings.Builder
	for i, w := range words {
		cs := int(math.Round(math.Max(0.01, w.End-w.Start) * 100))
		if cs < minKDurationCS {
			cs = minKDurationCS
		}
		if cs > maxKDurationCS {
			cs = maxKDurationCS
		}
		sb.WriteString(`{\k`)
		sb.WriteString(strconv.Itoa(cs))
		sb.WriteString("}")
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(EscapeText(strings.TrimSpace(w.Text)))
	}
	return sb.String()
}

func renderHeader(style Style) string {
	alignment := 2
	marginV := maxInt(20, style.FontSize*11/10)
	if style.Position == models.SubtitleTop {
		alignment = 8
		marginV = maxInt(25, style.FontSize*13/10)
	}
	outline := math.Max(1.0, float64(style.FontSize)/16.0)
	shadow := math.Max(0.8, float64(style.FontSize)/22.0)
	hintSize := maxInt(18, style.FontSize*3/4)

	return fmt.Sprintf(headerTemplate,
		EscapeText(style.FontName),
		style.FontSize,
		assColor(style.PrimaryColor),
		assColor(style.HighlightColor),
		assColor(style.OutlineColor),
		assColor(style.BackColor),
		hintSize,
		style.PrimaryAlpha,
		style.HighlightAlpha,
		style.OutlineAlpha,
		style.BackAlpha,
		outline,
		shadow,
		alignment,
		marginV,
	)
}

// FormatTime renders seconds as the ASS H:MM:SS.cc timestamp.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalCS := int(math.Round(seconds * 100))
	cs := totalCS % 100
	totalSec := totalCS / 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", totalSec/3600, (totalSec/60)%60, totalSec%60, cs)
}

// EscapeText escapes the override-block braces in event text.
func EscapeText(text string) string {
	text = strings.ReplaceAll(text, "{", `\{`)
	return strings.ReplaceAll(text, "}", `\}`)
}

// assColor converts RRGGBB hex to the ASS BBGGRR ordering. Invalid input
// falls back to white.
func assColor(hex string) string {
	if len(hex) != 6 {
		return "FFFFFF"
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "FFFFFF"
	}
	return hex[4:6] + hex[2:4] + hex[0:2]
}

func usableSegment(seg models.Segment) bool {
	if strings.TrimSpace(seg.Text) == "" || len(seg.Words) == 0 || seg.End < seg.Start {
		return false
	}
	for _, w := range seg.Words {
		if strings.TrimSpace(w.Text) == "" || w.End < w.Start {
			return false
		}
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
