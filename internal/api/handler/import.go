package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/service"
)

const keepAliveInterval = 15 * time.Second

// ImportController is the part of the bootstrap controller the HTTP API
// exposes.
type ImportController interface {
	CheckAndBootstrap(ctx context.Context) (service.BootstrapResult, error)
	TriggerImport(ctx context.Context, sourceIDs []string, targetCount int) (service.TriggerResult, error)
	GetProgress(ctx context.Context, jobID string) (domain.JobSnapshot, error)
	GetImportStatus(ctx context.Context) (service.ImportStatus, error)
	Progress() *service.Broadcaster
}

// JobLister reads job history.
type JobLister interface {
	ListRecentJobs(ctx context.Context, limit int) ([]domain.ImportJob, error)
	ListChildJobs(ctx context.Context, bulkID string) ([]domain.ImportJob, error)
}

// ImportHandler serves /api/v1/imports.
type ImportHandler struct {
	imports ImportController
	jobs    JobLister
}

// NewImportHandler creates a new import handler.
// Parameters:
//   - imports: bootstrap controller.
//   - jobs: job history reader.
//
// Returns:
//   - *ImportHandler: initialized handler.
func NewImportHandler(imports ImportController, jobs JobLister) *ImportHandler {
	return &ImportHandler{imports: imports, jobs: jobs}
}

// TriggerRequest is the body of POST /api/v1/imports/trigger.
type TriggerRequest struct {
	SourceIDs   []string `json:"source_ids"`
	TargetCount int      `json:"target_count" binding:"min=0,max=1000000"`
}

// Bootstrap handles POST /api/v1/imports/bootstrap.
func (h *ImportHandler) Bootstrap(c *gin.Context) {
	res, err := h.imports.CheckAndBootstrap(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Triggered {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// Trigger handles POST /api/v1/imports/trigger. A run already in flight
// answers 409 with the same body shape.
func (h *ImportHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
	}

	res, err := h.imports.TriggerImport(c.Request.Context(), req.SourceIDs, req.TargetCount)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.AlreadyRunning {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// GetJob handles GET /api/v1/imports/jobs/:id.
func (h *ImportHandler) GetJob(c *gin.Context) {
	snap, err := h.imports.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListJobs handles GET /api/v1/imports/jobs?limit=N, newest first.
func (h *ImportHandler) ListJobs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	jobs, err := h.jobs.ListRecentJobs(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetBulkChildren handles GET /api/v1/imports/jobs/:id/children.
func (h *ImportHandler) GetBulkChildren(c *gin.Context) {
	snap, err := h.imports.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !snap.Bulk {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a bulk job"})
		return
	}
	children, err := h.jobs.ListChildJobs(c.Request.Context(), snap.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bulk_job": snap, "jobs": children})
}

// Status handles GET /api/v1/imports/status.
func (h *ImportHandler) Status(c *gin.Context) {
	status, err := h.imports.GetImportStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Progress streams progress events as Server-Sent Events. With ?job_id= the
// stream is filtered to that job and ends after its final event.
func (h *ImportHandler) Progress(c *gin.Context) {
	events, unsubscribe := h.imports.Progress().Subscribe()
	defer unsubscribe()

	jobID := c.Query("job_id")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case p, ok := <-events:
			if !ok {
				return false
			}
			if jobID != "" && p.JobID != jobID {
				return true
			}
			c.SSEvent("progress", p)
			return !(jobID != "" && p.Done())
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
