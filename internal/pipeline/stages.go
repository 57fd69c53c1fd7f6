package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/karaforge/karaforge/internal/align"
	"github.com/karaforge/karaforge/internal/analyzer"
	"github.com/karaforge/karaforge/internal/cache"
	"github.com/karaforge/karaforge/internal/ffmpeg"
	"github.com/karaforge/karaforge/internal/lyrics"
	"github.com/karaforge/karaforge/internal/models"
	"github.com/karaforge/karaforge/internal/recognizer"
	"github.com/karaforge/karaforge/internal/service/progress"
	"github.com/karaforge/karaforge/internal/storage"
	"github.com/karaforge/karaforge/internal/subtitle"
)

// stage is one step of the pipeline. skip is consulted before running;
// skipped stages still emit their progress range so the client percentage
// stays monotone.
type stage struct {
	step string
	name string
	skip func(*State) bool
	run  func(context.Context, *State, *progress.Tracker) error
}

// stages returns the execution sequence. Subtitle stages are skipped when
// the request disables subtitle generation.
func (s *Service) stages() []stage {
	noSubs := func(st *State) bool { return !st.Req.GenerateSubtitles }
	return []stage{
		{step: progress.StepDownload, name: "Fetching source", run: s.stageDownload},
		{step: progress.StepExtractAudio, name: "Extracting audio", run: s.stageExtractAudio},
		{step: progress.StepAnalyzeAudio, name: "Analyzing audio", run: s.stageAnalyzeAudio},
		{step: progress.StepSeparateTracks, name: "Separating tracks", run: s.stageSeparateTracks},
		{step: progress.StepTranscribe, name: "Transcribing vocals", skip: noSubs, run: s.stageTranscribe},
		{step: progress.StepProcessLyrics, name: "Processing lyrics", skip: noSubs, run: s.stageProcessLyrics},
		{step: progress.StepGenerateSubs, name: "Generating subtitles", skip: noSubs, run: s.stageGenerateSubtitles},
		{step: progress.StepMerge, name: "Rendering video", run: s.stageMerge},
		{step: progress.StepFinalize, name: "Finalizing", run: s.stageFinalize},
	}
}

// stageDownload resolves the input into a local video file and a video ID.
// Local uploads are imported in place; URLs and search text go through the
// fetcher.
func (s *Service) stageDownload(ctx context.Context, st *State, _ *progress.Tracker) error {
	if st.Req.Kind == models.SourceLocalFile {
		return s.importLocalFile(st)
	}

	res, err := s.deps.Fetcher.Fetch(ctx, st.Req.URL)
	if err != nil {
		return err
	}
	st.VideoID = res.VideoID
	st.Title = res.Title
	st.Uploader = res.Uploader
	st.VideoPath = res.Path
	return nil
}

// importLocalFile validates a staged upload and derives the video ID from
// its sanitized filename stem.
func (s *Service) importLocalFile(st *State) error {
	info, err := os.Stat(st.Req.LocalPath)
	if err != nil {
		return fmt.Errorf("staged upload missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("staged upload %s is empty", filepath.Base(st.Req.LocalPath))
	}

	base := filepath.Base(st.Req.LocalPath)
	st.VideoID = storage.SanitizeStem(base)
	st.Title = strings.TrimSuffix(base, filepath.Ext(base))
	st.VideoPath = st.Req.LocalPath
	return nil
}

// stageExtractAudio normalizes the input into canonical WAV next to the
// download and fingerprints it for the cache layer.
func (s *Service) stageExtractAudio(ctx context.Context, st *State, _ *progress.Tracker) error {
	dir, err := s.deps.Layout.VideoDownloadDir(st.VideoID)
	if err != nil {
		return err
	}
	out := filepath.Join(dir, st.VideoID+".wav")

	if cache.ValidFile(out) {
		s.logger.Info("reusing extracted audio", "video_id", st.VideoID)
	} else if err := s.deps.Extractor.Extract(ctx, st.VideoPath, out); err != nil {
		return err
	}

	hash, err := cache.HashFile(out)
	if err != nil {
		return fmt.Errorf("hashing extracted audio: %w", err)
	}
	st.AudioPath = out
	st.AudioHash = hash
	return nil
}

// stageAnalyzeAudio estimates tempo and key. Analysis failures are not
// fatal; the job proceeds without BPM/key in its result.
func (s *Service) stageAnalyzeAudio(ctx context.Context, st *State, _ *progress.Tracker) error {
	if entry := s.deps.Store.AnalysisFor(st.VideoID, st.AudioHash); entry != nil {
		st.Analysis = &analyzer.Analysis{
			BPM:           entry.BPM,
			Key:           entry.Key,
			KeyConfidence: entry.KeyConfidence,
		}
		s.logger.Info("using cached audio analysis", "video_id", st.VideoID)
		return nil
	}

	an, err := s.deps.Analyzer.Analyze(ctx, st.AudioPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("audio analysis failed, continuing without it",
			"video_id", st.VideoID, "error", err)
		return nil
	}
	st.Analysis = an

	if err := s.deps.Store.UpdateAnalysis(st.VideoID, st.AudioHash, an.BPM, an.Key, an.KeyConfidence); err != nil {
		s.logger.Warn("caching audio analysis failed", "video_id", st.VideoID, "error", err)
	}
	return nil
}

// stageSeparateTracks runs source separation and mixes the non-vocal
// stems into the instrumental track.
func (s *Service) stageSeparateTracks(ctx context.Context, st *State, tracker *progress.Tracker) error {
	res, err := s.deps.Separator.Separate(ctx, st.VideoID, st.AudioPath)
	if err != nil {
		return err
	}
	st.Separation = res

	tracker.StepProgress(progress.StepSeparateTracks, 0.9, "Mixing instrumental")
	inst, err := s.deps.Separator.MixInstrumental(ctx, res)
	if err != nil {
		return err
	}
	st.InstrumentalPath = inst
	return nil
}

// stageTranscribe produces word-timestamped segments from the vocals
// stem, reusing a cached transcription when its fingerprint and engine
// version still match.
func (s *Service) stageTranscribe(ctx context.Context, st *State, _ *progress.Tracker) error {
	vocals := st.Separation.VocalsPath()
	if vocals == "" {
		return fmt.Errorf("separation produced no vocals stem")
	}

	lang := st.Req.Language
	if lang == "" {
		lang = s.opts.DefaultLanguage
	}
	model := s.deps.Recognizer.ModelTag()
	engine := s.deps.Recognizer.EngineVersion()

	hash, err := cache.HashFile(vocals)
	if err != nil {
		return fmt.Errorf("hashing vocals stem: %w", err)
	}
	docPath := s.deps.Store.TranscriptionPath(st.VideoID, model, lang)

	if s.deps.Store.TranscriptionValid(st.VideoID, model, lang, engine, hash) {
		doc, err := recognizer.LoadTranscription(docPath, engine)
		if err == nil {
			s.logger.Info("using cached transcription", "video_id", st.VideoID, "model", model, "language", lang)
			st.Recognized = doc.Segments
			return nil
		}
		s.logger.Warn("cached transcription unreadable, re-running recognition",
			"video_id", st.VideoID, "error", err)
	}

	segs, err := s.deps.Recognizer.Transcribe(ctx, vocals, lang)
	if err != nil {
		return err
	}
	st.Recognized = segs
	if len(segs) == 0 {
		s.logger.Warn("recognition found no speech", "video_id", st.VideoID)
		return nil
	}

	doc := &recognizer.Transcription{
		EngineVersion: engine,
		Model:         model,
		Language:      lang,
		Segments:      segs,
		CreatedAt:     time.Now(),
	}
	if err := recognizer.SaveTranscription(docPath, doc); err != nil {
		s.logger.Warn("caching transcription failed", "video_id", st.VideoID, "error", err)
	} else if err := s.deps.Store.UpdateTranscription(st.VideoID, model, lang, engine, hash); err != nil {
		s.logger.Warn("recording transcription in cache manifest failed", "video_id", st.VideoID, "error", err)
	}
	return nil
}

// stageProcessLyrics picks the lyric source and aligns it against the
// recognized word timings. Policy: custom lyrics, then the provider's best
// candidate, then the raw recognized text.
func (s *Service) stageProcessLyrics(ctx context.Context, st *State, tracker *progress.Tracker) error {
	if len(st.Recognized) == 0 {
		s.logger.Warn("no recognized speech, skipping lyric processing", "video_id", st.VideoID)
		return nil
	}

	if st.Req.CustomLyrics != "" {
		st.Karaoke = s.deps.Aligner.AlignCustom(st.Req.CustomLyrics, st.Recognized)
		if len(st.Karaoke) > 0 {
			return nil
		}
		s.logger.Warn("custom lyric alignment produced nothing, falling through", "video_id", st.VideoID)
	}

	if s.deps.Lyrics != nil && s.deps.Lyrics.Enabled() {
		title, artist := lyricQuery(st)
		tracker.StepProgress(progress.StepProcessLyrics, 0.3, "Fetching lyrics")
		text, err := s.deps.Lyrics.BestLyrics(ctx, title, artist)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("lyric provider lookup failed", "title", title, "error", err)
		}
		if text != "" {
			st.Karaoke = s.deps.Aligner.Align(align.SplitLyricLines(text), st.Recognized)
			if len(st.Karaoke) > 0 {
				return nil
			}
		}
	}

	st.Karaoke = align.Sanitize(st.Recognized)
	return nil
}

// lyricQuery derives the provider search terms from the resolved title.
// An "Artist - Title" form is split; otherwise the uploader stands in for
// the artist. Collaboration credits search as the primary artist only.
func lyricQuery(st *State) (title, artist string) {
	if a, t, ok := lyrics.SplitArtistTitle(st.Title); ok {
		return lyrics.NormalizeTitle(t), lyrics.PrimaryArtist(a)
	}
	return lyrics.NormalizeTitle(st.Title), lyrics.PrimaryArtist(st.Uploader)
}

// stageGenerateSubtitles writes the ASS file into the processed tree.
// With no karaoke lines the job continues and the mux runs without a
// subtitle track.
func (s *Service) stageGenerateSubtitles(_ context.Context, st *State, _ *progress.Tracker) error {
	if len(st.Karaoke) == 0 {
		s.logger.Warn("no karaoke lines, output will have no subtitle track", "video_id", st.VideoID)
		return nil
	}

	dir, err := s.deps.Layout.VideoProcessedDir(st.VideoID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, storage.SubtitleName(st.VideoID))
	if err := s.deps.Subtitles.Generate(path, st.Karaoke, s.style(st.Req)); err != nil {
		return err
	}
	st.SubtitlePath = path
	return nil
}

// style resolves the subtitle style from configuration defaults and the
// request's overrides.
func (s *Service) style(req models.JobRequest) subtitle.Style {
	style := subtitle.DefaultStyle()
	if s.opts.SubtitleFont != "" {
		style.FontName = s.opts.SubtitleFont
	}
	if models.ValidFontSize(s.opts.SubtitleFontSize) {
		style.FontSize = s.opts.SubtitleFontSize
	}
	if models.ValidFontSize(req.FontSize) {
		style.FontSize = req.FontSize
	}
	if req.SubtitlePosition != "" {
		style.Position = req.SubtitlePosition
	}
	return style
}

// stageMerge renders the final video into the download directory and
// publishes it into the processed tree.
func (s *Service) stageMerge(ctx context.Context, st *State, tracker *progress.Tracker) error {
	dir, err := s.deps.Layout.VideoDownloadDir(st.VideoID)
	if err != nil {
		return err
	}
	outName := storage.OutputVideoName(st.VideoID)
	tmp := filepath.Join(dir, outName)

	var duration float64
	if s.deps.Prober != nil {
		if pr, err := s.deps.Prober.Probe(ctx, st.VideoPath); err == nil {
			duration = pr.DurationSeconds()
		}
	}

	semitones, legacy := pitchParams(st.Req)

	progressCh := make(chan ffmpeg.Progress, 16)
	var fw sync.WaitGroup
	fw.Add(1)
	go func() {
		defer fw.Done()
		for p := range progressCh {
			if duration > 0 {
				tracker.StepProgress(progress.StepMerge, p.Time.Seconds()/duration, "Rendering video")
			}
		}
	}()

	muxErr := s.deps.Muxer.Mux(ctx, ffmpeg.MuxParams{
		VideoPath:      st.VideoPath,
		AudioPath:      st.InstrumentalPath,
		SubtitlePath:   st.SubtitlePath,
		OutputPath:     tmp,
		PitchSemitones: semitones,
		LegacyPitch:    legacy,
	}, progressCh)
	close(progressCh)
	fw.Wait()
	if muxErr != nil {
		return muxErr
	}
	if !cache.ValidFile(tmp) {
		return fmt.Errorf("muxer produced no usable output at %s", tmp)
	}

	uri, err := s.deps.Layout.PublishProcessed(tmp, st.VideoID, outName)
	if err != nil {
		return err
	}
	st.ProcessedURI = uri
	return nil
}

// pitchParams resolves the requested pitch shift. global_pitch takes
// precedence and preserves tempo; the legacy per-stem map collapses to a
// single shift applied without tempo preservation.
func pitchParams(req models.JobRequest) (semitones float64, legacy bool) {
	clamp := func(v float64) float64 {
		if v > 12 {
			return 12
		}
		if v < -12 {
			return -12
		}
		return v
	}

	if req.GlobalPitch != 0 {
		return clamp(req.GlobalPitch), false
	}

	keys := make([]string, 0, len(req.PitchShifts))
	for k := range req.PitchShifts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := req.PitchShifts[k]; v != 0 {
			return clamp(v), true
		}
	}
	return 0, false
}

// stageFinalize assembles the terminal result payload. The key is
// transposed when a whole-semitone pitch shift was applied.
func (s *Service) stageFinalize(_ context.Context, st *State, _ *progress.Tracker) error {
	result := &models.JobResult{
		VideoID:       st.VideoID,
		ProcessedPath: st.ProcessedURI,
		Title:         st.Title,
	}

	// The stem directory sits in the processed tree, so clients can fetch
	// individual stems over the static mount.
	if st.Separation != nil {
		if uri, ok := s.deps.Layout.ProcessedURIFor(st.Separation.Dir); ok {
			result.StemsBasePath = uri
		}
	}

	if st.Analysis != nil && st.Analysis.Key != "" {
		bpm := st.Analysis.BPM
		conf := st.Analysis.KeyConfidence
		key := st.Analysis.Key
		if semis := int(math.Round(st.Req.GlobalPitch)); semis != 0 {
			key = analyzer.TransposeKey(key, semis)
		}
		result.BPM = &bpm
		result.Key = &key
		result.KeyConfidence = &conf
	}

	st.Result = result
	return nil
}
