package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/karaforge/karaforge/internal/align"
	"github.com/karaforge/karaforge/internal/analyzer"
	"github.com/karaforge/karaforge/internal/cache"
	"github.com/karaforge/karaforge/internal/config"
	"github.com/karaforge/karaforge/internal/database"
	"github.com/karaforge/karaforge/internal/ffmpeg"
	internalhttp "github.com/karaforge/karaforge/internal/http"
	"github.com/karaforge/karaforge/internal/http/handlers"
	"github.com/karaforge/karaforge/internal/lyrics"
	"github.com/karaforge/karaforge/internal/media/fetcher"
	"github.com/karaforge/karaforge/internal/observability"
	"github.com/karaforge/karaforge/internal/pipeline"
	"github.com/karaforge/karaforge/internal/recognizer"
	"github.com/karaforge/karaforge/internal/repository"
	"github.com/karaforge/karaforge/internal/separator"
	"github.com/karaforge/karaforge/internal/service/progress"
	"github.com/karaforge/karaforge/internal/startup"
	"github.com/karaforge/karaforge/internal/storage"
	"github.com/karaforge/karaforge/internal/subtitle"
	"github.com/karaforge/karaforge/internal/util"
	"github.com/karaforge/karaforge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the karaforge server",
	Long: `Start the karaforge HTTP server and API.

The server provides:
- REST API for submitting and cancelling karaoke jobs
- Live job progress over WebSocket
- Finished videos served from the processed directory
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8000, "Port to listen on")
	serveCmd.Flags().String("database", "karaforge.db", "Job-history database file path")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for downloads, processed files, and the cache")
	serveCmd.Flags().Int("max-concurrent", 2, "Maximum jobs running heavy stages at once")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("jobs.max_concurrent", serveCmd.Flags().Lookup("max-concurrent"))
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	records := repository.NewJobRecordRepository(db.DB)

	// Jobs left in "running" by a crash or restart can never finish.
	if recovered, err := startup.RecoverStaleJobs(cmd.Context(), logger, records); err != nil {
		logger.Warn("stale job recovery failed", slog.String("error", err.Error()))
	} else if recovered > 0 {
		logger.Info("recovered stale job records", slog.Int("count", recovered))
	}

	layout, err := storage.NewLayout(
		cfg.Storage.DownloadsPath(),
		cfg.Storage.ProcessedPath(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	// The cache manifest shares the processed tree, which puts stems and
	// transcriptions behind the static mount.
	store := cache.NewStore(cfg.Storage.ProcessedPath())

	if removed, err := startup.CleanupPartialDownloads(logger, cfg.Storage.DownloadsPath(), startup.DefaultCleanupAge); err == nil && removed > 0 {
		logger.Info("removed orphaned partial downloads", slog.Int("count", removed))
	}

	checkExternalTools(logger, cfg)

	registry := progress.NewRegistry(logger, cfg.Jobs.ProgressTTL)
	if err := registry.StartCleanup(cfg.Jobs.CleanupInterval); err != nil {
		return fmt.Errorf("starting progress cleanup: %w", err)
	}
	defer registry.Stop()

	fetch := fetcher.New(
		cfg.Fetcher.BinaryPath,
		cfg.Storage.DownloadsPath(),
		cfg.Fetcher.SocketTimeout,
		cfg.Fetcher.Retries,
		logger,
	)

	extractor := ffmpeg.NewExtractor(cfg.FFmpeg.BinaryPath, logger)
	prober := ffmpeg.NewProber(cfg.FFmpeg.ProbePath)
	muxer := ffmpeg.NewMuxer(cfg.FFmpeg.BinaryPath, logger)

	sep := separator.New(separator.Config{
		PythonPath:    cfg.Separator.PythonPath,
		Model:         cfg.Separator.Model,
		Device:        cfg.Separator.Device,
		EngineVersion: cfg.Separator.EngineVersion,
		RunTimeout:    cfg.Separator.RunTimeout,
		WaitTimeout:   cfg.Separator.WaitTimeout,
		CheckInterval: cfg.Separator.CheckInterval,
		FFmpegPath:    cfg.FFmpeg.BinaryPath,
	}, store, logger)

	recog := recognizer.New(recognizer.Config{
		ModelPath: cfg.Recognizer.ModelPath,
		ModelTag:  cfg.Recognizer.ModelTag,
	}, logger)
	defer recog.Close()

	lyricsClient := lyrics.NewClient(lyrics.ClientConfig{
		Token:   observability.Secret(cfg.Lyrics.APIToken),
		APIBase: cfg.Lyrics.APIURL,
		WebBase: cfg.Lyrics.WebURL,
		Hits:    cfg.Lyrics.MaxHits,
	}, logger)
	lyricsSvc := lyrics.NewService(lyricsClient, logger)

	aligner := align.New(align.Config{
		Threshold:         float64(cfg.Alignment.MatchThreshold),
		BaseWindow:        cfg.Alignment.BaseWindow,
		ShrunkWindow:      cfg.Alignment.ShrunkWindow,
		ExtendedWindow:    cfg.Alignment.ExtendedWindow,
		TimeTolerance:     cfg.Alignment.TimeTolerance.Seconds(),
		ExtendedTolerance: cfg.Alignment.WideTolerance.Seconds(),
	}, logger)

	pipe := pipeline.New(pipeline.Deps{
		Fetcher:    fetch,
		Extractor:  extractor,
		Analyzer:   analyzer.New(logger),
		Separator:  sep,
		Recognizer: recog,
		Lyrics:     lyricsSvc,
		Prober:     prober,
		Muxer:      muxer,
		Aligner:    aligner,
		Subtitles:  subtitle.NewGenerator(logger),
		Store:      store,
		Layout:     layout,
		Registry:   registry,
		Records:    records,
	}, pipeline.Options{
		MaxConcurrent:    cfg.Jobs.MaxConcurrent,
		DefaultLanguage:  cfg.Recognizer.DefaultLanguage,
		SubtitleFont:     cfg.Subtitles.Font,
		SubtitleFontSize: cfg.Subtitles.DefaultSize,
	}, logger)

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	processHandler := handlers.NewProcessHandler(pipe, records, layout, logger)
	processHandler.Register(server.API())
	processHandler.RegisterRoutes(server.Router())

	handlers.NewSearchHandler(fetch, lyricsSvc).Register(server.API())

	handlers.NewHealthHandler(version.Version, cfg.Separator.Device, registry).
		WithDB(db.DB).
		Register(server.API())

	handlers.NewProgressWSHandler(registry, logger).RegisterRoutes(server.Router())
	handlers.NewStaticHandler(cfg.Storage.ProcessedPath()).RegisterRoutes(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting karaforge server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("device", cfg.Separator.Device),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := pipe.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pipeline shutdown incomplete", slog.String("error", err.Error()))
	}

	return serveErr
}

// checkExternalTools warns at startup about missing external binaries so
// misconfiguration surfaces before the first job fails.
func checkExternalTools(logger *slog.Logger, cfg *config.Config) {
	tools := map[string]string{
		"fetcher":   cfg.Fetcher.BinaryPath,
		"ffmpeg":    cfg.FFmpeg.BinaryPath,
		"ffprobe":   cfg.FFmpeg.ProbePath,
		"separator": cfg.Separator.PythonPath,
	}
	for role, bin := range tools {
		if _, err := util.FindBinary(bin, ""); err != nil {
			logger.Warn("external tool not found, dependent stages will fail",
				slog.String("role", role),
				slog.String("binary", bin),
			)
		}
	}
}

// Compile-time interface checks keep the handler seams honest.
var (
	_ handlers.JobSubmitter  = (*pipeline.Service)(nil)
	_ handlers.Suggester     = (*fetcher.Fetcher)(nil)
	_ handlers.LyricSearcher = (*lyrics.Service)(nil)
)
