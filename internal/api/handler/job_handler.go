package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/order-fulfillment/internal/api/dto"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListQueues handles GET /api/v1/queues
// Returns the job count per status of every queue
func (h *JobHandler) ListQueues(c *gin.Context) {
	resp := dto.ListQueuesResponse{Queues: make([]dto.QueueDTO, 0, len(queue.Names()))}
	for _, name := range queue.Names() {
		counts, err := h.queue.Store().Counts(c.Request.Context(), name)
		if err != nil {
			h.logger.Error("Failed to count jobs", slog.String("queue", name), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count jobs",
			})
			return
		}
		resp.Queues = append(resp.Queues, dto.QueueDTO{Name: name, Counts: counts})
	}
	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/queues/:queue/jobs
// Lists jobs of one queue, newest first, with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	queueName := c.Param("queue")
	if _, err := h.queue.Policy(queueName); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Unknown queue",
		})
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	status := queue.Status(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// One extra row tells whether another page exists.
	jobs, err := h.queue.Store().List(c.Request.Context(), queue.ListFilter{
		Queue:  queueName,
		Status: status,
		Limit:  req.PageSize + 1,
		After:  cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(j)
	}
	if hasMore {
		resp.NextCursor = EncodeJobCursor(jobs[len(jobs)-1])
	}

	c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	j, err := h.queue.Store().Get(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, jobID, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(j))
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Moves a failed job back to waiting with a fresh attempt budget
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.queue.Retry(c.Request.Context(), jobID); err != nil {
		h.writeError(c, jobID, "Failed to retry job", err)
		return
	}

	h.logger.Info("Job requeued by operator", slog.String("job_id", jobID))
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": queue.StatusWaiting,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Removes a job that is not currently being processed
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.queue.Store().Remove(c.Request.Context(), jobID); err != nil {
		h.writeError(c, jobID, "Failed to delete job", err)
		return
	}

	h.logger.Info("Job deleted by operator", slog.String("job_id", jobID))
	c.Status(http.StatusNoContent)
}

// jobID validates the :job_id path parameter
func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) writeError(c *gin.Context, jobID, msg string, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, queue.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error(msg, slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": msg,
		})
	}
}
