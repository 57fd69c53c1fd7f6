package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Store manages per-video cache manifests under a processed-output root.
//
// Layout:
//
//	<root>/<video_id>/cache_metadata.json
//	<root>/<video_id>/<model>/<input_stem>/   (separated stems)
//	<root>/<video_id>/transcription_<model>_<lang>.json
type Store struct {
	root string

	mu sync.Mutex
}

// NewStore creates a Store rooted at the processed-output directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// VideoDir returns the artifact directory for a video.
func (s *Store) VideoDir(videoID string) string {
	return filepath.Join(s.root, videoID)
}

// StemDir returns the directory holding separated stems for a video,
// separator model, and input file stem.
func (s *Store) StemDir(videoID, model, inputStem string) string {
	return filepath.Join(s.root, videoID, model, inputStem)
}

// TranscriptionPath returns the transcription file path for a video,
// recognizer model, and language.
func (s *Store) TranscriptionPath(videoID, model, language string) string {
	return filepath.Join(s.root, videoID, TranscriptionFile(model, language))
}

// MetadataPath returns the manifest path for a video.
func (s *Store) MetadataPath(videoID string) string {
	return filepath.Join(s.root, videoID, MetadataFile)
}

// Load reads the manifest for a video. A missing or unreadable manifest
// yields an empty one, so callers treat corruption as a cache miss.
func (s *Store) Load(videoID string) *Metadata {
	meta := &Metadata{VideoID: videoID}

	data, err := os.ReadFile(s.MetadataPath(videoID))
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, meta); err != nil {
		return &Metadata{VideoID: videoID}
	}
	meta.VideoID = videoID
	return meta
}

// Save writes the manifest atomically via a temp file and rename.
func (s *Store) Save(meta *Metadata) error {
	if meta.VideoID == "" {
		return errors.New("metadata has no video ID")
	}
	meta.UpdatedAt = time.Now().UTC()

	dir := s.VideoDir(meta.VideoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating video directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache metadata: %w", err)
	}

	tmp, err := os.CreateTemp(dir, MetadataFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp metadata file: %w", err)
	}
	if err := os.Rename(tmpName, s.MetadataPath(meta.VideoID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing cache metadata: %w", err)
	}
	return nil
}

// UpdateStems records a completed separation run in the manifest.
func (s *Store) UpdateStems(videoID, model, engineVersion, inputHash string, files []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.Load(videoID)
	meta.Stems = &StemsEntry{
		Model:         model,
		EngineVersion: engineVersion,
		InputHash:     inputHash,
		Files:         files,
		CreatedAt:     time.Now().UTC(),
	}
	return s.Save(meta)
}

// UpdateTranscription records a completed recognizer run in the manifest.
func (s *Store) UpdateTranscription(videoID, model, language, engineVersion, inputHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.Load(videoID)
	if meta.Transcriptions == nil {
		meta.Transcriptions = make(map[string]*TranscriptionEntry)
	}
	meta.Transcriptions[TranscriptionKey(model, language)] = &TranscriptionEntry{
		Model:         model,
		Language:      language,
		EngineVersion: engineVersion,
		InputHash:     inputHash,
		File:          TranscriptionFile(model, language),
		CreatedAt:     time.Now().UTC(),
	}
	return s.Save(meta)
}

// UpdateAnalysis records cached audio analysis results in the manifest.
func (s *Store) UpdateAnalysis(videoID, inputHash string, bpm float64, key string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.Load(videoID)
	meta.Analysis = &AnalysisEntry{
		InputHash:     inputHash,
		BPM:           bpm,
		Key:           key,
		KeyConfidence: confidence,
		CreatedAt:     time.Now().UTC(),
	}
	return s.Save(meta)
}

// StemsValid reports whether cached stems exist for the given model,
// engine version, and input hash, and every recorded stem file still
// passes size validation.
func (s *Store) StemsValid(videoID, model, engineVersion, inputStem, inputHash string) bool {
	meta := s.Load(videoID)
	if meta.Stems == nil || meta.Stems.Model != model || meta.Stems.InputHash != inputHash {
		return false
	}
	if meta.Stems.EngineVersion != engineVersion {
		return false
	}
	if len(meta.Stems.Files) == 0 {
		return false
	}
	dir := s.StemDir(videoID, model, inputStem)
	for _, name := range meta.Stems.Files {
		if !ValidFile(filepath.Join(dir, name)) {
			return false
		}
	}
	return true
}

// TranscriptionValid reports whether a cached transcription exists for the
// model, language, engine version, and input hash, and the file on disk is
// still present.
func (s *Store) TranscriptionValid(videoID, model, language, engineVersion, inputHash string) bool {
	meta := s.Load(videoID)
	entry, ok := meta.Transcriptions[TranscriptionKey(model, language)]
	if !ok {
		return false
	}
	if entry.EngineVersion != engineVersion || entry.InputHash != inputHash {
		return false
	}
	info, err := os.Stat(s.TranscriptionPath(videoID, model, language))
	return err == nil && info.Size() > 0
}

// AnalysisFor returns the cached analysis entry when it matches the given
// input hash, or nil on a miss.
func (s *Store) AnalysisFor(videoID, inputHash string) *AnalysisEntry {
	meta := s.Load(videoID)
	if meta.Analysis == nil || meta.Analysis.InputHash != inputHash {
		return nil
	}
	return meta.Analysis
}

// ValidFile reports whether path exists as a regular file of at least
// MinValidSize bytes.
func ValidFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() >= MinValidSize
}

// HashFile computes the SHA-256 of a file, reading in 8KiB chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 8*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading file for hashing: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// InputStem returns the base filename of path without its extension,
// matching the directory name the separator produces for its input.
func InputStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RemoveVideo deletes every artifact for a video. Missing directories are
// not an error.
func (s *Store) RemoveVideo(videoID string) error {
	if videoID == "" {
		return errors.New("video ID is required")
	}
	err := os.RemoveAll(s.VideoDir(videoID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing video artifacts: %w", err)
	}
	return nil
}
