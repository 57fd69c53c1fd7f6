package separator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karaforge/karaforge/internal/cache"
)

func testConfig() Config {
	return Config{
		PythonPath:    "python3",
		Model:         "mdx_extra_q",
		Device:        "cpu",
		EngineVersion: "4.0.1",
		RunTimeout:    40 * time.Minute,
		WaitTimeout:   200 * time.Millisecond,
		CheckInterval: 20 * time.Millisecond,
	}
}

func writeStems(t *testing.T, dir string, names []string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".wav"), make([]byte, size), 0o644))
	}
}

func TestSeparator_Defaults(t *testing.T) {
	s := New(Config{}, cache.NewStore(t.TempDir()), slog.Default())
	assert.Equal(t, "python3", s.cfg.PythonPath)
	assert.Equal(t, 500*time.Millisecond, s.cfg.CheckInterval)
}

func TestSeparate_CachedStems(t *testing.T) {
	root := t.TempDir()
	store := cache.NewStore(root)
	s := New(testConfig(), store, slog.Default())

	audio := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audio, make([]byte, 4096), 0o644))
	hash, err := cache.HashFile(audio)
	require.NoError(t, err)

	stemDir := store.StemDir("vid1", "mdx_extra_q", "audio")
	writeStems(t, stemDir, StemNames, cache.MinValidSize)
	require.NoError(t, store.UpdateStems("vid1", "mdx_extra_q", "4.0.1", hash,
		[]string{"vocals.wav", "drums.wav", "bass.wav", "other.wav"}))

	res, err := s.Separate(context.Background(), "vid1", audio)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Len(t, res.Stems, 4)
	assert.Equal(t, filepath.Join(stemDir, "vocals.wav"), res.VocalsPath())
}

func TestSeparate_EngineUpgradeIgnoresCache(t *testing.T) {
	root := t.TempDir()
	store := cache.NewStore(root)
	cfg := testConfig()
	cfg.PythonPath = "/nonexistent/python-binary"
	s := New(cfg, store, slog.Default())

	audio := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audio, make([]byte, 4096), 0o644))
	hash, err := cache.HashFile(audio)
	require.NoError(t, err)

	// Stems produced by an older demucs release must not be reused.
	stemDir := store.StemDir("vid1", "mdx_extra_q", "audio")
	writeStems(t, stemDir, StemNames, cache.MinValidSize)
	require.NoError(t, store.UpdateStems("vid1", "mdx_extra_q", "3.0.0", hash,
		[]string{"vocals.wav", "drums.wav", "bass.wav", "other.wav"}))

	_, err = s.Separate(context.Background(), "vid1", audio)
	assert.Error(t, err)
}

func TestSeparate_StaleHashIgnoresCache(t *testing.T) {
	root := t.TempDir()
	store := cache.NewStore(root)
	cfg := testConfig()
	cfg.PythonPath = "/nonexistent/python-binary"
	s := New(cfg, store, slog.Default())

	audio := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audio, make([]byte, 4096), 0o644))

	stemDir := store.StemDir("vid1", "mdx_extra_q", "audio")
	writeStems(t, stemDir, StemNames, cache.MinValidSize)
	require.NoError(t, store.UpdateStems("vid1", "mdx_extra_q", "4.0.1", "differenthash",
		[]string{"vocals.wav", "drums.wav", "bass.wav", "other.wav"}))

	// Cache miss forces a real run, which fails on the missing binary.
	_, err := s.Separate(context.Background(), "vid1", audio)
	assert.Error(t, err)
}

func TestWaitForStems(t *testing.T) {
	s := New(testConfig(), cache.NewStore(t.TempDir()), slog.Default())
	stemDir := filepath.Join(t.TempDir(), "stems")

	// Times out when stems never appear.
	err := s.waitForStems(context.Background(), stemDir)
	assert.Error(t, err)

	// Succeeds once stems show up mid-wait.
	go func() {
		time.Sleep(40 * time.Millisecond)
		writeStems(t, stemDir, StemNames, cache.MinValidSize)
	}()
	err = s.waitForStems(context.Background(), stemDir)
	assert.NoError(t, err)
}

func TestWaitForStems_ContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.WaitTimeout = 10 * time.Second
	s := New(cfg, cache.NewStore(t.TempDir()), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := s.waitForStems(ctx, filepath.Join(t.TempDir(), "never"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollect_TruncatedStem(t *testing.T) {
	s := New(testConfig(), cache.NewStore(t.TempDir()), slog.Default())
	stemDir := filepath.Join(t.TempDir(), "stems")
	writeStems(t, stemDir, []string{"vocals", "drums", "bass"}, cache.MinValidSize)
	writeStems(t, stemDir, []string{"other"}, 10)

	_, err := s.collect(stemDir, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other")
}

func TestMixInstrumental_CachedResult(t *testing.T) {
	s := New(testConfig(), cache.NewStore(t.TempDir()), slog.Default())
	stemDir := t.TempDir()
	writeStems(t, stemDir, StemNames, cache.MinValidSize)
	require.NoError(t, os.WriteFile(filepath.Join(stemDir, InstrumentalFile), make([]byte, cache.MinValidSize), 0o644))

	res, err := s.collect(stemDir, true)
	require.NoError(t, err)
	res.FromCache = true

	out, err := s.MixInstrumental(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(stemDir, InstrumentalFile), out)
}
