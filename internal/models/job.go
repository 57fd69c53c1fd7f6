package models

import (
	"time"

	"gorm.io/gorm"
)

// SourceKind discriminates where a job's input comes from.
type SourceKind string

const (
	// SourceURL is a direct streaming-site URL.
	SourceURL SourceKind = "url"
	// SourceSearch is a free-text query resolved to the first search result.
	SourceSearch SourceKind = "search"
	// SourceLocalFile is an uploaded or locally staged media file.
	SourceLocalFile SourceKind = "local_file"
)

// SubtitlePosition is the vertical placement of the karaoke overlay.
type SubtitlePosition string

const (
	// SubtitleTop renders lyric lines at the top of the frame.
	SubtitleTop SubtitlePosition = "top"
	// SubtitleBottom renders lyric lines at the bottom of the frame.
	SubtitleBottom SubtitlePosition = "bottom"
)

// AllowedFontSizes is the closed set of subtitle font sizes accepted at
// the API boundary.
var AllowedFontSizes = []int{24, 30, 36, 42}

// ValidFontSize reports whether size is one of the allowed subtitle sizes.
func ValidFontSize(size int) bool {
	for _, s := range AllowedFontSizes {
		if s == size {
			return true
		}
	}
	return false
}

// JobRequest carries the immutable inputs of one karaoke job.
type JobRequest struct {
	JobID     string
	Kind      SourceKind
	URL       string // URL or search text when Kind != SourceLocalFile
	LocalPath string // staged file path when Kind == SourceLocalFile

	Language          string
	SubtitlePosition  SubtitlePosition
	GenerateSubtitles bool
	CustomLyrics      string
	FontSize          int

	// GlobalPitch shifts the instrumental by whole semitones in [-12, 12]
	// with tempo preserved. Zero means no shift.
	GlobalPitch float64

	// PitchShifts is the legacy per-stem shift map (stem name -> semitones)
	// applied without tempo preservation.
	PitchShifts map[string]float64
}

// JobResult is the terminal payload of a successful job.
type JobResult struct {
	VideoID       string   `json:"video_id"`
	ProcessedPath string   `json:"processed_path"`
	Title         string   `json:"title"`
	StemsBasePath string   `json:"stems_base_path,omitempty"`
	BPM           *float64 `json:"bpm,omitempty"`
	Key           *string  `json:"key,omitempty"`
	KeyConfidence *float64 `json:"key_confidence,omitempty"`
}

// SuggestionItem is one lightweight search suggestion from the media site.
type SuggestionItem struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	URL        string `json:"url"`
	Uploader   string `json:"uploader,omitempty"`
	UploaderID string `json:"uploader_id,omitempty"`
}

// GeniusCandidate is one ranked lyric candidate with its fetched text.
type GeniusCandidate struct {
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Lyrics string `json:"lyrics"`
	URL    string `json:"url,omitempty"`
}

// JobStatus represents the final status of a processed job.
type JobStatus string

const (
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled.
	JobStatusCancelled JobStatus = "cancelled"
)

// JobRecord is the persisted history row for one accepted job.
type JobRecord struct {
	BaseModel

	// JobID is the externally visible UUID assigned at admission.
	JobID string `gorm:"not null;size:36;uniqueIndex" json:"job_id"`

	// Kind indicates where the input came from.
	Kind SourceKind `gorm:"not null;size:20" json:"kind"`

	// Source is the URL, query, or original filename.
	Source string `gorm:"size:2048" json:"source"`

	// VideoID is the content identifier once resolved.
	VideoID string `gorm:"size:255;index" json:"video_id,omitempty"`

	// Title is the resolved media title.
	Title string `gorm:"size:512" json:"title,omitempty"`

	// Status indicates the final status of the job.
	Status JobStatus `gorm:"not null;default:'running';size:20;index" json:"status"`

	// ProcessedPath is the servable artifact URI on success.
	ProcessedPath string `gorm:"size:1024" json:"processed_path,omitempty"`

	// Error contains the terminal error message if the job failed.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// StartedAt is the timestamp when the pipeline began executing.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is the timestamp when the job reached a terminal state.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// TableName returns the table name for JobRecord.
func (JobRecord) TableName() string {
	return "job_records"
}

// IsFinished returns true if the record is in a terminal state.
func (r *JobRecord) IsFinished() bool {
	return r.Status == JobStatusCompleted || r.Status == JobStatusFailed || r.Status == JobStatusCancelled
}

// MarkCompleted marks the record as completed successfully.
func (r *JobRecord) MarkCompleted(processedPath string) {
	r.Status = JobStatusCompleted
	now := Now()
	r.CompletedAt = &now
	r.ProcessedPath = processedPath
	r.Error = ""
	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// MarkFailed marks the record as failed with an error message.
func (r *JobRecord) MarkFailed(err error) {
	r.Status = JobStatusFailed
	now := Now()
	r.CompletedAt = &now
	if err != nil {
		r.Error = err.Error()
	}
	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// MarkCancelled marks the record as cancelled.
func (r *JobRecord) MarkCancelled() {
	r.Status = JobStatusCancelled
	now := Now()
	r.CompletedAt = &now
	if r.StartedAt != nil {
		r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// Validate performs basic validation on the record.
func (r *JobRecord) Validate() error {
	if r.JobID == "" {
		return ErrJobIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the record and generates its ULID.
func (r *JobRecord) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
	return r.Validate()
}
