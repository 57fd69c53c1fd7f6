// Package handlers implements the karaforge HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/karaforge/karaforge/internal/models"
	"github.com/karaforge/karaforge/internal/repository"
	"github.com/karaforge/karaforge/internal/service/progress"
	"github.com/karaforge/karaforge/internal/storage"
	"github.com/karaforge/karaforge/internal/urlutil"
	"github.com/karaforge/karaforge/pkg/duration"
)

// JobSubmitter admits jobs into the pipeline and cancels them.
type JobSubmitter interface {
	Submit(req models.JobRequest) (string, error)
	Cancel(jobID string) error
}

// ProcessHandler handles job submission, cancellation, and history.
type ProcessHandler struct {
	submitter JobSubmitter
	records   repository.JobRecordRepository
	layout    *storage.Layout
	logger    *slog.Logger
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(submitter JobSubmitter, records repository.JobRecordRepository, layout *storage.Layout, logger *slog.Logger) *ProcessHandler {
	return &ProcessHandler{
		submitter: submitter,
		records:   records,
		layout:    layout,
		logger:    logger.With("component", "process_handler"),
	}
}

// ProcessRequestBody is the JSON body of a URL or search submission.
type ProcessRequestBody struct {
	URL               string             `json:"url" doc:"Media URL or free-text search query"`
	Language          string             `json:"language,omitempty" doc:"Transcription language code, or 'auto'"`
	SubtitlePosition  string             `json:"subtitle_position,omitempty" enum:"top,bottom" doc:"Vertical placement of the lyric overlay"`
	GenerateSubtitles *bool              `json:"generate_subtitles,omitempty" doc:"Whether to transcribe and render subtitles (default true)"`
	CustomLyrics      string             `json:"custom_lyrics,omitempty" doc:"User-supplied lyric text, aligned instead of fetched lyrics"`
	GlobalPitch       float64            `json:"global_pitch,omitempty" minimum:"-12" maximum:"12" doc:"Semitone shift applied to the instrumental"`
	FinalSubtitleSize int                `json:"final_subtitle_size,omitempty" doc:"Subtitle font size: 24, 30, 36, or 42"`
	PitchShifts       map[string]float64 `json:"pitch_shifts,omitempty" doc:"Legacy per-stem semitone shifts"`
}

// ProcessInput is the input for submitting a job.
type ProcessInput struct {
	Body ProcessRequestBody
}

// ProcessAcceptedBody acknowledges an admitted job.
type ProcessAcceptedBody struct {
	JobID string `json:"job_id"`
}

// ProcessOutput is the output for submitting a job.
type ProcessOutput struct {
	Body ProcessAcceptedBody
}

// CancelInput identifies the job to cancel.
type CancelInput struct {
	JobID string `query:"job_id" required:"true" doc:"Job ID to cancel"`
}

// CancelBody acknowledges a cancellation request.
type CancelBody struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// CancelOutput is the output for cancelling a job.
type CancelOutput struct {
	Body CancelBody
}

// ListJobsInput is the input for listing job history.
type ListJobsInput struct {
	Offset int    `query:"offset" minimum:"0" doc:"Rows to skip"`
	Limit  int    `query:"limit" minimum:"1" maximum:"200" doc:"Maximum rows to return"`
	Since  string `query:"since" doc:"Only jobs newer than this, as a duration (\"24h\", \"7 days\") or a relative phrase (\"2 weeks ago\")"`
}

// ListJobsBody is the response body for listing job history.
type ListJobsBody struct {
	Jobs  []*models.JobRecord `json:"jobs"`
	Total int64               `json:"total"`
}

// ListJobsOutput is the output for listing job history.
type ListJobsOutput struct {
	Body ListJobsBody
}

// Register registers the process routes with the API.
func (h *ProcessHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "processJob",
		Method:        http.MethodPost,
		Path:          "/api/process",
		Summary:       "Submit a karaoke job",
		Description:   "Admits a URL or search-query job and returns its ID immediately",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusAccepted,
	}, h.ProcessJob)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodPost,
		Path:        "/api/cancel_job",
		Summary:     "Cancel a running job",
		Tags:        []string{"Jobs"},
	}, h.CancelJob)

	// Legacy clients cancel with a plain GET.
	huma.Register(api, huma.Operation{
		OperationID: "cancelJobGet",
		Method:      http.MethodGet,
		Path:        "/api/cancel_job",
		Summary:     "Cancel a running job",
		Tags:        []string{"Jobs"},
		Hidden:      true,
	}, h.CancelJob)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List job history",
		Tags:        []string{"Jobs"},
	}, h.ListJobs)
}

// RegisterRoutes registers the non-OpenAPI routes on the router. The
// local-file upload streams multipart data and cannot be expressed as a
// buffered huma body.
func (h *ProcessHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/process-local-file", h.UploadLocalFile)
}

// ProcessJob admits a URL or search job.
func (h *ProcessHandler) ProcessJob(ctx context.Context, input *ProcessInput) (*ProcessOutput, error) {
	body := input.Body
	if strings.TrimSpace(body.URL) == "" {
		return nil, huma.Error400BadRequest("url is required")
	}

	req := models.JobRequest{
		Kind:              models.SourceSearch,
		URL:               strings.TrimSpace(body.URL),
		Language:          body.Language,
		SubtitlePosition:  models.SubtitlePosition(body.SubtitlePosition),
		GenerateSubtitles: body.GenerateSubtitles == nil || *body.GenerateSubtitles,
		CustomLyrics:      body.CustomLyrics,
		FontSize:          body.FinalSubtitleSize,
		GlobalPitch:       body.GlobalPitch,
		PitchShifts:       body.PitchShifts,
	}
	if urlutil.IsRemoteURL(req.URL) {
		req.Kind = models.SourceURL
	}
	if req.Language == "" {
		req.Language = "auto"
	}

	if err := models.ValidateRequest(&req); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	jobID, err := h.submitter.Submit(req)
	if err != nil {
		return nil, huma.Error500InternalServerError("admitting job", err)
	}
	return &ProcessOutput{Body: ProcessAcceptedBody{JobID: jobID}}, nil
}

// CancelJob requests cancellation of a running job.
func (h *ProcessHandler) CancelJob(ctx context.Context, input *CancelInput) (*CancelOutput, error) {
	if err := h.submitter.Cancel(input.JobID); err != nil {
		if errors.Is(err, progress.ErrJobNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.JobID))
		}
		return nil, huma.Error500InternalServerError("cancelling job", err)
	}
	return &CancelOutput{Body: CancelBody{Status: "cancellation_requested", JobID: input.JobID}}, nil
}

// ListJobs returns persisted job history, newest first, optionally
// bounded to jobs created since a point in time.
func (h *ProcessHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	limit := input.Limit
	if limit == 0 {
		limit = 50
	}

	var (
		jobs  []*models.JobRecord
		total int64
		err   error
	)
	if input.Since != "" {
		since, parseErr := parseSince(input.Since)
		if parseErr != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid since value %q", input.Since))
		}
		jobs, total, err = h.records.ListSince(ctx, since, input.Offset, limit)
	} else {
		jobs, total, err = h.records.List(ctx, input.Offset, limit)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("listing jobs", err)
	}
	return &ListJobsOutput{Body: ListJobsBody{Jobs: jobs, Total: total}}, nil
}

// parseSince turns a since filter into an absolute time. Plain durations
// ("24h", "7 days") count back from now; anything else is tried as a
// relative phrase ("2 weeks ago").
func parseSince(s string) (time.Time, error) {
	if d, err := duration.Parse(s); err == nil && d > 0 {
		return time.Now().Add(-d), nil
	}
	return duration.ParseRelative(s)
}

// UploadLocalFile accepts a multipart upload and admits it as a local-file
// job. The file part is streamed to disk without buffering it in memory.
func (h *ProcessHandler) UploadLocalFile(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	fields := map[string]string{}
	var upload *storage.Upload

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "reading multipart body")
			return
		}
		if part.FileName() == "" {
			fields[part.FormName()] = readFormValue(part)
			continue
		}

		upload, err = h.layout.SaveUpload(part.FileName(), part)
		part.Close()
		switch {
		case errors.Is(err, storage.ErrUnsupportedFormat):
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, storage.ErrUploadTooLarge):
			writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		case err != nil:
			h.logger.Error("storing upload failed", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "storing upload")
			return
		}
	}

	if upload == nil {
		writeJSONError(w, http.StatusBadRequest, "file part is required")
		return
	}

	req := models.JobRequest{
		Kind:              models.SourceLocalFile,
		LocalPath:         upload.Path,
		Language:          fields["language"],
		SubtitlePosition:  models.SubtitlePosition(fields["subtitle_position"]),
		GenerateSubtitles: fields["generate_subtitles"] != "false",
		CustomLyrics:      fields["custom_lyrics"],
	}
	if req.Language == "" {
		req.Language = "auto"
	}
	if v := fields["global_pitch"]; v != "" {
		if pitch, err := strconv.ParseFloat(v, 64); err == nil {
			req.GlobalPitch = pitch
		}
	}
	if v := fields["final_subtitle_size"]; v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			req.FontSize = size
		}
	}

	if err := models.ValidateRequest(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.submitter.Submit(req)
	if err != nil {
		h.logger.Error("admitting local-file job failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "admitting job")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ProcessAcceptedBody{JobID: jobID})
}

// readFormValue reads a non-file multipart part, bounded to keep a
// malicious field from buffering unbounded data.
func readFormValue(part *multipart.Part) string {
	defer part.Close()
	b, _ := io.ReadAll(io.LimitReader(part, 64<<10))
	return strings.TrimSpace(string(b))
}

// writeJSONError writes a minimal JSON error body.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
