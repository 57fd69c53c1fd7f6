// Package progress provides per-job progress tracking, cancellation, and
// event broadcasting for the karaoke pipeline.
package progress

import (
	"time"

	"github.com/karaforge/karaforge/internal/models"
)

// State represents the lifecycle state of a tracked job.
type State string

const (
	// StateRunning indicates the job is executing.
	StateRunning State = "running"
	// StateCompleted indicates the job finished successfully.
	StateCompleted State = "completed"
	// StateError indicates the job failed.
	StateError State = "error"
	// StateCancelled indicates the job was cancelled by the client.
	StateCancelled State = "cancelled"
)

// IsTerminal returns true for completed, error, or cancelled.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// Pipeline step identifiers, in execution order.
const (
	StepDownload       = "download"
	StepExtractAudio   = "extract_audio"
	StepAnalyzeAudio   = "analyze_audio"
	StepSeparateTracks = "separate_tracks"
	StepTranscribe     = "transcribe"
	StepProcessLyrics  = "process_lyrics"
	StepGenerateSubs   = "generate_subtitles"
	StepMerge          = "merge"
	StepFinalize       = "finalize"
)

// StepRange is the slice of the global 0..100 progress scale owned by one
// pipeline step.
type StepRange struct {
	Start float64
	End   float64
}

// StepRanges maps each pipeline step to its slice of the global scale.
// Per-step fractions are rescaled into these ranges so the client sees a
// single monotone percentage across the whole pipeline.
var StepRanges = map[string]StepRange{
	StepDownload:       {0, 15},
	StepExtractAudio:   {15, 25},
	StepAnalyzeAudio:   {25, 30},
	StepSeparateTracks: {30, 60},
	StepTranscribe:     {60, 80},
	StepProcessLyrics:  {80, 88},
	StepGenerateSubs:   {88, 92},
	StepMerge:          {92, 99},
	StepFinalize:       {99, 100},
}

// Entry is the tracked state of one job.
type Entry struct {
	// JobID is the job's externally visible UUID.
	JobID string `json:"job_id"`
	// State is the current lifecycle state.
	State State `json:"status"`
	// Step is the pipeline step most recently reported.
	Step string `json:"step,omitempty"`
	// Progress is the global completion percentage in [0, 100].
	Progress float64 `json:"progress"`
	// Message describes the current activity.
	Message string `json:"message,omitempty"`
	// Error holds the terminal error message when State is StateError.
	Error string `json:"error,omitempty"`
	// Result is the terminal payload when State is StateCompleted.
	Result *models.JobResult `json:"result,omitempty"`
	// StartedAt is when tracking began.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is when the entry last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand outside the registry lock.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Result != nil {
		result := *e.Result
		clone.Result = &result
	}
	return &clone
}

// Event is delivered to subscribers whenever a job's entry changes.
type Event struct {
	// EventID is a ULID, unique and ordered per registry.
	EventID string `json:"event_id"`
	// Type is one of the EventType constants.
	Type string `json:"event_type"`
	// Entry is a snapshot of the job state at emission time.
	Entry *Entry `json:"entry"`
	// StepStart is true when this event marks the beginning of a step.
	StepStart bool `json:"is_step_start,omitempty"`
	// Timestamp is when the event was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Event types.
const (
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeError     = "error"
	EventTypeCancelled = "cancelled"
)

// eventTypeForState maps a job state to its event type.
func eventTypeForState(s State) string {
	switch s {
	case StateCompleted:
		return EventTypeCompleted
	case StateError:
		return EventTypeError
	case StateCancelled:
		return EventTypeCancelled
	default:
		return EventTypeProgress
	}
}
