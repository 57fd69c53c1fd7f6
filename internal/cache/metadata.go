// Package cache tracks reusable pipeline artifacts per video so expensive
// stages (separation, transcription, analysis) can be skipped on reruns.
//
// Each video directory carries a cache_metadata.json document describing
// which artifacts exist and the content hash of the audio they were derived
// from. An artifact is only reused when its recorded hash matches the
// current input and the files on disk still pass size validation.
package cache

import "time"

// MetadataFile is the name of the per-video cache manifest.
const MetadataFile = "cache_metadata.json"

// MinValidSize is the minimum size in bytes for a cached artifact to be
// considered real output rather than a truncated write.
const MinValidSize = 1024

// Metadata is the per-video cache manifest.
type Metadata struct {
	// VideoID is the content identifier this manifest belongs to.
	VideoID string `json:"video_id"`

	// Stems describes the cached source-separation output, if any.
	Stems *StemsEntry `json:"stems,omitempty"`

	// Transcriptions maps a transcription key (model and language) to its
	// cached recognizer output.
	Transcriptions map[string]*TranscriptionEntry `json:"transcriptions,omitempty"`

	// Analysis holds cached audio analysis results, if any.
	Analysis *AnalysisEntry `json:"audio_analysis,omitempty"`

	// UpdatedAt is when the manifest was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// StemsEntry records one completed source-separation run.
type StemsEntry struct {
	// Model is the separator model name used (e.g. "mdx_extra_q").
	Model string `json:"model"`

	// EngineVersion is the separator version that produced the stems.
	// Cached output from a different version is not reused.
	EngineVersion string `json:"engine_version"`

	// InputHash is the SHA-256 of the audio the stems were derived from.
	InputHash string `json:"input_hash"`

	// Files lists the stem filenames relative to the stem directory.
	Files []string `json:"files"`

	// CreatedAt is when the separation completed.
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptionEntry records one completed recognizer run.
type TranscriptionEntry struct {
	// Model is the recognizer model tag (e.g. "large-v2").
	Model string `json:"model"`

	// Language is the language the transcription was produced for.
	Language string `json:"language"`

	// EngineVersion is the recognizer version that produced the output.
	// Cached output from a different version is not reused.
	EngineVersion string `json:"engine_version"`

	// InputHash is the SHA-256 of the vocal audio that was transcribed.
	InputHash string `json:"input_hash"`

	// File is the transcription filename relative to the video directory.
	File string `json:"file"`

	// CreatedAt is when the transcription completed.
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisEntry records cached audio analysis results.
type AnalysisEntry struct {
	// InputHash is the SHA-256 of the audio that was analyzed.
	InputHash string `json:"input_hash"`

	// BPM is the estimated tempo in beats per minute, rounded to 0.1.
	BPM float64 `json:"bpm"`

	// Key is the estimated musical key (e.g. "A minor").
	Key string `json:"key"`

	// KeyConfidence is the key estimate confidence in [0, 1].
	KeyConfidence float64 `json:"key_confidence"`

	// CreatedAt is when the analysis completed.
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptionKey builds the manifest key for a model and language pair.
func TranscriptionKey(model, language string) string {
	return model + "_" + language
}

// TranscriptionFile returns the conventional transcription filename for a
// model and language pair.
func TranscriptionFile(model, language string) string {
	return "transcription_" + model + "_" + language + ".json"
}
