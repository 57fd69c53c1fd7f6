package recognizer

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/karaforge/karaforge/internal/models"
)

// Transcription is the on-disk document for one recognizer run. Cached
// documents from a different engine version are discarded.
type Transcription struct {
	EngineVersion string           `json:"engine_version"`
	Model         string           `json:"model"`
	Language      string           `json:"language"`
	Segments      []models.Segment `json:"segments"`
	CreatedAt     time.Time        `json:"created_at"`
}

// SaveTranscription writes the document to path.
func SaveTranscription(path string, doc *Transcription) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcription: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing transcription: %w", err)
	}
	return nil
}

// LoadTranscription reads a document, validating it against the expected
// engine version. A mismatch returns an error so the caller re-runs
// recognition instead of reusing output from an incompatible build.
func LoadTranscription(path, expectVersion string) (*Transcription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Transcription
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing transcription: %w", err)
	}
	if expectVersion != "" && doc.EngineVersion != expectVersion {
		return nil, fmt.Errorf("transcription engine version %q does not match %q", doc.EngineVersion, expectVersion)
	}
	if len(doc.Segments) == 0 {
		return nil, fmt.Errorf("transcription has no segments")
	}
	return &doc, nil
}
