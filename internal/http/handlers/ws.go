package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/karaforge/karaforge/internal/models"
	"github.com/karaforge/karaforge/internal/service/progress"
)

// wsPollInterval bounds how often a progress socket re-reads the registry.
const wsPollInterval = 300 * time.Millisecond

// wsWriteTimeout bounds each frame write.
const wsWriteTimeout = 5 * time.Second

// ProgressWSHandler streams per-job progress over WebSocket.
type ProgressWSHandler struct {
	registry *progress.Registry
	logger   *slog.Logger
}

// NewProgressWSHandler creates a new progress WebSocket handler.
func NewProgressWSHandler(registry *progress.Registry, logger *slog.Logger) *ProgressWSHandler {
	return &ProgressWSHandler{
		registry: registry,
		logger:   logger.With("component", "progress_ws"),
	}
}

// progressFrame is one message on the progress socket.
type progressFrame struct {
	JobID    string            `json:"job_id"`
	Progress float64           `json:"progress"`
	Step     string            `json:"step,omitempty"`
	Message  string            `json:"message,omitempty"`
	Error    bool              `json:"error,omitempty"`
	Result   *models.JobResult `json:"result,omitempty"`
}

// RegisterRoutes registers the WebSocket route on the router.
func (h *ProgressWSHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/ws/progress/{job_id}", h.Serve)
}

// Serve upgrades the connection and streams the job's progress until the
// job reaches a terminal state or the client goes away. The current state
// is sent immediately on connect; later frames are sent only when the
// entry changes.
func (h *ProgressWSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	entry, err := h.registry.Snapshot(jobID)
	if errors.Is(err, progress.ErrJobNotFound) {
		frame := progressFrame{
			JobID:    jobID,
			Progress: 100,
			Message:  "Job not found",
			Error:    true,
		}
		h.writeFrame(ctx, conn, frame)
		conn.Close(websocket.StatusPolicyViolation, "unknown job")
		return
	}

	if done := h.send(ctx, conn, entry); done {
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	last := entry
	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entry, err := h.registry.Snapshot(jobID)
		if err != nil {
			// The entry expired out of the registry mid-stream.
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if entry.UpdatedAt.Equal(last.UpdatedAt) && entry.Progress == last.Progress {
			continue
		}
		last = entry

		if done := h.send(ctx, conn, entry); done {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// send writes one frame for the entry and reports whether the stream is
// finished.
func (h *ProgressWSHandler) send(ctx context.Context, conn *websocket.Conn, entry *progress.Entry) bool {
	frame := progressFrame{
		JobID:    entry.JobID,
		Progress: entry.Progress,
		Step:     entry.Step,
		Message:  entry.Message,
		Error:    entry.State == progress.StateError,
		Result:   entry.Result,
	}
	if entry.State == progress.StateError && entry.Error != "" {
		frame.Message = entry.Error
	}
	if !h.writeFrame(ctx, conn, frame) {
		return true
	}
	return entry.State.IsTerminal() || entry.Progress >= 100
}

// writeFrame writes one JSON frame with a bounded deadline. It returns
// false when the client is gone.
func (h *ProgressWSHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame progressFrame) bool {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		return false
	}
	return true
}
