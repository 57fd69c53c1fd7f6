// Package pipeline drives the karaoke production pipeline: a linear,
// cancellable stage sequence per job with bounded concurrency and
// fine-grained progress reporting through the progress registry.
//
// A submitted job is admitted to the registry immediately and then waits
// for a semaphore slot before heavyweight stages run, so admission itself
// never blocks the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/karaforge/karaforge/internal/align"
	"github.com/karaforge/karaforge/internal/cache"
	"github.com/karaforge/karaforge/internal/media/fetcher"
	"github.com/karaforge/karaforge/internal/models"
	"github.com/karaforge/karaforge/internal/repository"
	"github.com/karaforge/karaforge/internal/service/progress"
	"github.com/karaforge/karaforge/internal/storage"
	"github.com/karaforge/karaforge/internal/subtitle"
)

// Deps bundles the pipeline's stage collaborators.
type Deps struct {
	Fetcher    MediaFetcher
	Extractor  AudioExtractor
	Analyzer   AudioAnalyzer
	Separator  TrackSeparator
	Recognizer SpeechRecognizer
	Lyrics     LyricProvider
	Prober     MediaProber
	Muxer      VideoMuxer
	Aligner    *align.Aligner
	Subtitles  *subtitle.Generator
	Store      *cache.Store
	Layout     *storage.Layout
	Registry   *progress.Registry
	Records    repository.JobRecordRepository
}

// Options carries pipeline tuning taken from configuration.
type Options struct {
	// MaxConcurrent caps how many jobs run heavy stages at once.
	MaxConcurrent int
	// DefaultLanguage is the recognizer language when the request has none.
	DefaultLanguage string
	// SubtitleFont overrides the default subtitle font when non-empty.
	SubtitleFont string
	// SubtitleFontSize is the default size when the request has none.
	SubtitleFontSize int
}

// Service owns job execution. One Service runs for the process lifetime.
type Service struct {
	deps   Deps
	opts   Options
	sem    *semaphore.Weighted
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates the pipeline service.
func New(deps Deps, opts Options, logger *slog.Logger) *Service {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 2
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger: logger.With("component", "pipeline"),
	}
}

// Submit admits a job: it registers the job with the progress registry,
// persists a history row, and starts the pipeline goroutine. The returned
// job ID is immediately observable through the registry.
func (s *Service) Submit(req models.JobRequest) (string, error) {
	if req.URL == "" && req.LocalPath == "" {
		return "", ErrNoInput
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.deps.Registry.Register(req.JobID, cancel); err != nil {
		cancel()
		return "", err
	}

	rec := &models.JobRecord{
		JobID:  req.JobID,
		Kind:   req.Kind,
		Source: req.URL,
		Status: models.JobStatusRunning,
	}
	if req.Kind == models.SourceLocalFile {
		rec.Source = filepath.Base(req.LocalPath)
	}
	if err := s.deps.Records.Create(context.Background(), rec); err != nil {
		s.logger.Warn("creating job history row failed", "job_id", req.JobID, "error", err)
	}

	s.wg.Add(1)
	go s.run(ctx, cancel, rec, req)

	s.logger.Info("job submitted", "job_id", req.JobID, "kind", string(req.Kind))
	return req.JobID, nil
}

// Cancel requests cancellation of a running job.
func (s *Service) Cancel(jobID string) error {
	return s.deps.Registry.Cancel(jobID)
}

// Shutdown cancels all running jobs and waits for their goroutines,
// bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.deps.Registry.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// run executes one job from admission to its terminal state.
func (s *Service) run(ctx context.Context, cancel context.CancelFunc, rec *models.JobRecord, req models.JobRequest) {
	defer s.wg.Done()
	defer cancel()

	st := &State{Req: req}
	logger := s.logger.With("job_id", req.JobID)
	started := time.Now()

	err := s.sem.Acquire(ctx, 1)
	if err == nil {
		err = s.execute(ctx, st, logger)
		s.sem.Release(1)
	}

	s.finish(ctx, st, rec, err, logger, time.Since(started))
}

// execute walks the stage sequence, checking cancellation at every stage
// boundary and translating stage failures into StageErrors.
func (s *Service) execute(ctx context.Context, st *State, logger *slog.Logger) error {
	tracker := s.deps.Registry.Tracker(st.Req.JobID)

	for _, stg := range s.stages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if stg.skip != nil && stg.skip(st) {
			tracker.StartStep(stg.step, "skipped")
			tracker.FinishStep(stg.step, "skipped")
			continue
		}

		tracker.StartStep(stg.step, stg.name)
		start := time.Now()
		if err := stg.run(ctx, st, tracker); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("stage failed", "step", stg.step, "error", err,
				"duration", time.Since(start).Round(time.Millisecond))
			return newStageError(stg.step, err)
		}
		logger.Info("stage complete", "step", stg.step,
			"duration", time.Since(start).Round(time.Millisecond))
		tracker.FinishStep(stg.step, stg.name+" complete")
	}
	return nil
}

// finish records the terminal state in the registry and the history store
// and removes transient artifacts after a failure.
func (s *Service) finish(ctx context.Context, st *State, rec *models.JobRecord, err error, logger *slog.Logger, took time.Duration) {
	rec.VideoID = st.VideoID
	rec.Title = st.Title

	switch {
	case err == nil:
		s.deps.Registry.Complete(st.Req.JobID, st.Result)
		rec.MarkCompleted(st.Result.ProcessedPath)
		logger.Info("job completed", "video_id", st.VideoID, "took", took.Round(time.Millisecond))

	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		s.deps.Registry.MarkCancelled(st.Req.JobID)
		rec.MarkCancelled()
		s.deps.Layout.CleanupFailedJob(st.VideoID)
		logger.Info("job cancelled", "video_id", st.VideoID)

	default:
		s.deps.Registry.Fail(st.Req.JobID, userError(err))
		rec.MarkFailed(err)
		s.deps.Layout.CleanupFailedJob(st.VideoID)
		logger.Error("job failed", "video_id", st.VideoID, "error", err)
	}

	if uerr := s.deps.Records.Update(context.Background(), rec); uerr != nil {
		logger.Warn("updating job history row failed", "error", uerr)
	}
}

// userError maps internal errors to the message shown to clients. Fetch
// errors carry a classified human-readable reason.
func userError(err error) error {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		return errors.New(fe.UserMessage())
	}
	return err
}
