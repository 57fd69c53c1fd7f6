// Package separator runs source separation over the extracted audio and
// mixes the non-vocal stems back into an instrumental track.
//
// Separation is delegated to the demucs Python package as a supervised
// subprocess. Output verification polls the filesystem because demucs
// finishes writing stems slightly after the process exits on some
// filesystems.
package separator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/karaforge/karaforge/internal/cache"
	"github.com/karaforge/karaforge/internal/ffmpeg"
)

// StemNames are the four outputs of the demucs models in use.
var StemNames = []string{"vocals", "drums", "bass", "other"}

// Config holds separator tuning.
type Config struct {
	// PythonPath is the interpreter used to run the demucs module.
	PythonPath string
	// Model is the demucs model name.
	Model string
	// Device selects cpu or cuda.
	Device string
	// EngineVersion is the installed demucs package version. It is part
	// of the stem cache identity, so upgrading demucs invalidates old
	// stems.
	EngineVersion string
	// RunTimeout bounds a whole separation run.
	RunTimeout time.Duration
	// WaitTimeout bounds the post-exit wait for stems to appear.
	WaitTimeout time.Duration
	// CheckInterval is the polling interval while waiting for stems.
	CheckInterval time.Duration
	// FFmpegPath is used for the instrumental mixdown.
	FFmpegPath string
}

// Result lists the separated stem files.
type Result struct {
	// Dir is the directory holding the four stems.
	Dir string
	// Stems maps stem name to absolute file path.
	Stems map[string]string
	// FromCache is true when separation was skipped entirely.
	FromCache bool
}

// VocalsPath returns the vocals stem.
func (r *Result) VocalsPath() string {
	return r.Stems["vocals"]
}

// Separator supervises demucs and validates its output.
type Separator struct {
	cfg    Config
	store  *cache.Store
	logger *slog.Logger
}

// New creates a Separator backed by the given cache store.
func New(cfg Config, store *cache.Store, logger *slog.Logger) *Separator {
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 500 * time.Millisecond
	}
	return &Separator{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "separator"),
	}
}

// Separate produces the four stems for audioPath, reusing cached output
// when the input hash matches a previous run.
func (s *Separator) Separate(ctx context.Context, videoID, audioPath string) (*Result, error) {
	inputHash, err := cache.HashFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("hashing separation input: %w", err)
	}

	inputStem := cache.InputStem(audioPath)
	stemDir := s.store.StemDir(videoID, s.cfg.Model, inputStem)

	if s.store.StemsValid(videoID, s.cfg.Model, s.cfg.EngineVersion, inputStem, inputHash) {
		s.logger.Info("using cached stems", "video_id", videoID, "model", s.cfg.Model)
		return s.collect(stemDir, true)
	}

	outRoot := s.store.VideoDir(videoID)
	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating separation output dir: %w", err)
	}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	if err := s.runDemucs(runCtx, outRoot, audioPath); err != nil {
		return nil, err
	}

	if err := s.waitForStems(ctx, stemDir); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(StemNames))
	for _, name := range StemNames {
		files = append(files, name+".wav")
	}
	if err := s.store.UpdateStems(videoID, s.cfg.Model, s.cfg.EngineVersion, inputHash, files); err != nil {
		s.logger.Warn("recording stem cache entry failed", "video_id", videoID, "error", err)
	}

	return s.collect(stemDir, false)
}

// runDemucs executes the separation subprocess with resource sampling.
func (s *Separator) runDemucs(ctx context.Context, outRoot, audioPath string) error {
	args := []string{
		"-m", "demucs.separate",
		"--out", outRoot,
		"-n", s.cfg.Model,
		"-d", s.cfg.Device,
		audioPath,
	}

	cmd := exec.CommandContext(ctx, s.cfg.PythonPath, args...)
	s.logger.Info("running source separation",
		"model", s.cfg.Model,
		"device", s.cfg.Device,
		"input", audioPath,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting demucs: %w", err)
	}

	monitor := ffmpeg.NewProcessMonitor(cmd.Process.Pid)
	monitor.SetInterval(5 * time.Second)
	monitor.Start()
	defer monitor.Stop()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("separation timed out after %s", s.cfg.RunTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("demucs failed: %w", err)
	}

	stats := monitor.Stats()
	s.logger.Info("separation finished",
		"elapsed", time.Since(start).Round(time.Second),
		"peak_rss_mb", stats.MemoryRSS/(1024*1024),
	)
	return nil
}

// waitForStems polls until all four stems exist with plausible sizes.
// Each failed check logs what is actually in the directory, which is the
// only way to tell a slow writer from a model that writes elsewhere.
func (s *Separator) waitForStems(ctx context.Context, stemDir string) error {
	deadline := time.Now().Add(s.cfg.WaitTimeout)
	for {
		if s.stemsPresent(stemDir) {
			return nil
		}
		s.logger.Debug("stems not ready", "dir", stemDir, "present", dirContents(stemDir))
		if time.Now().After(deadline) {
			return fmt.Errorf("stems not present in %s after %s", stemDir, s.cfg.WaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.CheckInterval):
		}
	}
}

// dirContents lists entry names in dir for wait logging.
func dirContents(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (s *Separator) stemsPresent(stemDir string) bool {
	for _, name := range StemNames {
		if !cache.ValidFile(filepath.Join(stemDir, name+".wav")) {
			return false
		}
	}
	return true
}

// collect builds a Result from a stem directory, validating every file.
func (s *Separator) collect(stemDir string, fromCache bool) (*Result, error) {
	stems := make(map[string]string, len(StemNames))
	for _, name := range StemNames {
		path := filepath.Join(stemDir, name+".wav")
		if !cache.ValidFile(path) {
			return nil, fmt.Errorf("stem %s missing or truncated in %s", name, stemDir)
		}
		stems[name] = path
	}
	return &Result{Dir: stemDir, Stems: stems, FromCache: fromCache}, nil
}
