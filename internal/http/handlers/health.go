package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/karaforge/karaforge/internal/service/progress"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	device    string
	startTime time.Time
	registry  *progress.Registry
	db        *gorm.DB
}

// NewHealthHandler creates a new health handler. The device string names
// the compute device the separator and recognizer run on.
func NewHealthHandler(version, device string, registry *progress.Registry) *HealthHandler {
	return &HealthHandler{
		version:   version,
		device:    device,
		startTime: time.Now(),
		registry:  registry,
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// JobStats summarizes the progress registry.
type JobStats struct {
	Active  int `json:"active"`
	Tracked int `json:"tracked"`
}

// SystemInfo carries host load and memory usage.
type SystemInfo struct {
	Cores             int     `json:"cores"`
	Load1Min          float64 `json:"load_1min"`
	Load5Min          float64 `json:"load_5min"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	MemoryTotalMB     float64 `json:"memory_total_mb"`
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Device        string            `json:"device"`
	Timestamp     string            `json:"timestamp"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Jobs          JobStats          `json:"jobs"`
	System        SystemInfo        `json:"system"`
	Checks        map[string]string `json:"checks"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health, job counts, and system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Device:        h.device,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Jobs:          h.jobStats(),
		System:        h.systemInfo(),
		Checks: map[string]string{
			"database": h.databaseStatus(ctx),
		},
	}
	if resp.Checks["database"] == "error" {
		resp.Status = "degraded"
	}

	return &HealthOutput{Body: resp}, nil
}

// jobStats counts active and tracked jobs in the registry. Tracked
// includes terminal entries still inside the retention window.
func (h *HealthHandler) jobStats() JobStats {
	stats := JobStats{}
	if h.registry == nil {
		return stats
	}
	for _, e := range h.registry.List() {
		stats.Tracked++
		if !e.State.IsTerminal() {
			stats.Active++
		}
	}
	return stats
}

// systemInfo returns host load averages and memory usage.
func (h *HealthHandler) systemInfo() SystemInfo {
	info := SystemInfo{Cores: runtime.NumCPU()}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
	}
	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		info.MemoryUsedPercent = vmStat.UsedPercent
		info.MemoryTotalMB = float64(vmStat.Total) / 1024 / 1024
	}
	return info
}

// databaseStatus pings the job-history database.
func (h *HealthHandler) databaseStatus(ctx context.Context) string {
	if h.db == nil {
		return "unknown"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return "error"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "error"
	}
	return "ok"
}
