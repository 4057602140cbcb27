package handlers

import (
	"context"
	"net/http"

	"assessapp/internal/observability"
	"assessapp/internal/worker"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// Scheduler is the part of the background scheduler the admin API drives
type Scheduler interface {
	GetStatus() worker.Status
	GetHistory() []worker.RunRecord
	RunJob(ctx context.Context, name string) (worker.RunRecord, error)
	Pause(ctx context.Context)
	Resume(ctx context.Context)
}

// WorkerAdminHandler handles administrative operations on background jobs
type WorkerAdminHandler struct {
	scheduler Scheduler
	logger    *observability.Logger
}

// NewWorkerAdminHandlerWithLogger creates a new WorkerAdminHandler
func NewWorkerAdminHandlerWithLogger(scheduler Scheduler, logger *observability.Logger) *WorkerAdminHandler {
	return &WorkerAdminHandler{scheduler: scheduler, logger: logger}
}

// GetWorkerStatus returns the job table and the recent run history
func (h *WorkerAdminHandler) GetWorkerStatus(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "get_worker_status")
	defer observability.FinishSpan(span, nil)

	c.JSON(http.StatusOK, gin.H{
		"status":  h.scheduler.GetStatus(),
		"history": h.scheduler.GetHistory(),
	})
}

// RunJob triggers a job by name and waits for it to finish
func (h *WorkerAdminHandler) RunJob(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "run_worker_job",
		attribute.String("job.name", c.Param("name")))
	defer observability.FinishSpan(span, nil)

	rec, err := h.scheduler.RunJob(ctx, c.Param("name"))
	if err != nil {
		h.logger.Warn(ctx, "Manual job run failed", map[string]interface{}{
			"job":   c.Param("name"),
			"error": err.Error(),
		})
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": rec})
}

// PauseWorker stops scheduled runs until resumed. Manual runs still work.
func (h *WorkerAdminHandler) PauseWorker(c *gin.Context) {
	h.scheduler.Pause(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Worker paused"})
}

// ResumeWorker re-enables scheduled runs
func (h *WorkerAdminHandler) ResumeWorker(c *gin.Context) {
	h.scheduler.Resume(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Worker resumed"})
}
