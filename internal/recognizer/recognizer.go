// Package recognizer transcribes the separated vocal track with word-level
// timestamps using the whisper.cpp bindings.
//
// The model is loaded lazily on first use and shared across jobs; each
// transcription runs in its own context because whisper contexts are not
// thread-safe while the model is.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/karaforge/karaforge/internal/audio"
	"github.com/karaforge/karaforge/internal/models"
)

// whisperSampleRate is the input rate whisper.cpp expects.
const whisperSampleRate = 16000

// Decoder parameters tuned for sung vocals: wide beam, deterministic
// sampling, no conditioning on previous text so a bad segment cannot
// poison the rest of the song.
const (
	beamSize    = 5
	temperature = 0.0
)

// initialPrompts nudge the decoder toward lyric-style output per language.
var initialPrompts = map[string]string{
	"ru": "Текст песни:",
	"en": "Song lyrics:",
	"ja": "歌詞:",
	"ko": "가사:",
	"zh": "歌词:",
}

// Config holds recognizer settings.
type Config struct {
	// ModelPath is the ggml model file for whisper.cpp.
	ModelPath string
	// ModelTag is the logical model name used in cache identity.
	ModelTag string
	// EngineVersion identifies the recognizer build for cache validation.
	EngineVersion string
}

// Service owns the shared whisper model.
type Service struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	model whisperlib.Model
}

// New creates a Service. The model file is not touched until the first
// transcription.
func New(cfg Config, logger *slog.Logger) *Service {
	if cfg.EngineVersion == "" {
		cfg.EngineVersion = "whisper.cpp"
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With("component", "recognizer"),
	}
}

// ModelTag returns the logical model name.
func (s *Service) ModelTag() string {
	return s.cfg.ModelTag
}

// EngineVersion returns the recognizer version string for cache identity.
func (s *Service) EngineVersion() string {
	return s.cfg.EngineVersion
}

// Close releases the loaded model.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil {
		err := s.model.Close()
		s.model = nil
		return err
	}
	return nil
}

// loadModel loads the shared model on first use.
func (s *Service) loadModel() (whisperlib.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model != nil {
		return s.model, nil
	}
	if s.cfg.ModelPath == "" {
		return nil, errors.New("recognizer model path is not configured")
	}
	s.logger.Info("loading speech model", "path", s.cfg.ModelPath)
	model, err := whisperlib.New(s.cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("loading speech model %q: %w", s.cfg.ModelPath, err)
	}
	s.model = model
	return model, nil
}

// Transcribe runs recognition over a vocal WAV and returns timed segments.
// language may be "auto" to let the model detect it.
func (s *Service) Transcribe(ctx context.Context, audioPath, language string) ([]models.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples, err := loadSamples(audioPath)
	if err != nil {
		return nil, err
	}

	model, err := s.loadModel()
	if err != nil {
		return nil, err
	}

	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("creating recognition context: %w", err)
	}

	if language != "" && language != "auto" {
		if err := wctx.SetLanguage(language); err != nil {
			s.logger.Warn("setting language failed, falling back to detection",
				"language", language, "error", err)
		}
	}
	wctx.SetTranslate(false)
	wctx.SetTokenTimestamps(true)
	wctx.SetBeamSize(beamSize)
	wctx.SetTemperature(temperature)
	if prompt, ok := initialPrompts[language]; ok {
		wctx.SetInitialPrompt(prompt)
	}

	s.logger.Info("transcribing vocals", "input", audioPath, "language", language)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("speech recognition failed: %w", err)
	}

	var segments []models.Segment
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading recognition segment: %w", err)
		}
		if converted, ok := convertSegment(seg); ok {
			segments = append(segments, converted)
		}
	}

	s.logger.Info("transcription finished", "segments", len(segments))
	return segments, nil
}

// loadSamples decodes a WAV file into 16kHz mono float32 samples.
func loadSamples(path string) ([]float32, error) {
	wav, err := audio.DecodeWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("decoding vocal audio: %w", err)
	}
	mono := audio.PCMToFloat32Mono(wav.Data, wav.Channels)
	return audio.ResampleLinear(mono, wav.SampleRate, whisperSampleRate), nil
}

// convertSegment maps a whisper segment to the domain type, dropping
// segments without usable text and tokens without lyric content.
func convertSegment(seg whisperlib.Segment) (models.Segment, bool) {
	text := strings.TrimSpace(seg.Text)
	if text == "" || isNonLyric(text) {
		return models.Segment{}, false
	}

	out := models.Segment{
		Start: seg.Start.Seconds(),
		End:   seg.End.Seconds(),
		Text:  text,
	}
	for _, tok := range seg.Tokens {
		word := strings.TrimSpace(tok.Text)
		if word == "" || strings.HasPrefix(word, "[_") {
			continue
		}
		out.Words = append(out.Words, models.Word{
			Text:  word,
			Start: tok.Start.Seconds(),
			End:   tok.End.Seconds(),
		})
	}
	if len(out.Words) == 0 {
		return models.Segment{}, false
	}
	out.ClampToWords()
	return out, true
}

// isNonLyric filters whisper's sound-event annotations like "[Music]" or
// "(applause)".
func isNonLyric(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 2 {
		return false
	}
	first := t[0]
	last := t[len(t)-1]
	return (first == '[' && last == ']') || (first == '(' && last == ')') ||
		(first == '*' && last == '*')
}
