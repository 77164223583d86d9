package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/tagqueue/internal/api/dto"
	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/events"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// NextCursorHeader carries the cursor of the next page of GET /jobs
	NextCursorHeader = "X-Next-Cursor"
)

// CreateJob handles POST /jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid JSON"})
		return
	}

	job := domain.NewJob(req.Tags, req.Data)
	if err := h.store.Enqueue(c.Request.Context(), job); err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.Any("tags", job.Tags),
	)

	if err := h.publisher.Publish(c.Request.Context(), events.NewEvent(events.JobEnqueued, job, "")); err != nil {
		h.logger.Warn("Failed to publish event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	c.JSON(http.StatusCreated, job)
}

// GetJob handles GET /jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /jobs. Without page_size every job is returned;
// with it the response is one page and X-Next-Cursor points at the next.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	var status domain.Status
	if req.Status != "" {
		s, err := domain.ParseStatus(req.Status)
		if err != nil {
			h.writeError(c, err)
			return
		}
		status = s
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.writeError(c, err)
		return
	}

	all, err := h.store.AllJobs(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	jobs := make([]*domain.Job, 0, len(all))
	for _, j := range all {
		if status != "" && j.Status != status {
			continue
		}
		if req.Tag != "" && !j.TagSet().Has(req.Tag) {
			continue
		}
		jobs = append(jobs, j)
	}

	if req.PageSize <= 0 && cursor == nil {
		c.JSON(http.StatusOK, jobs)
		return
	}

	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	page, hasMore, err := pageAfter(jobs, cursor, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if hasMore {
		c.Header(NextCursorHeader, EncodeJobCursor(page[len(page)-1]))
	}
	c.JSON(http.StatusOK, page)
}

// Stats handles GET /stats
func (h *JobHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	size, err := h.store.QueueSize(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	processing, err := h.store.ProcessingJobs(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	active, err := h.store.ActiveTags(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if active == nil {
		active = []string{}
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		QueueSize:  size,
		Processing: len(processing),
		ActiveTags: active,
	})
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// Ready handles GET /ready by pinging the store
func (h *JobHandler) Ready(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}
