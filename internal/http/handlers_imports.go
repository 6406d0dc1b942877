package http

import (
	"database/sql"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"stocksync/internal/config"
	"stocksync/internal/model"
	"stocksync/internal/scheduler"
	"stocksync/internal/store"
)

// enqueueImportHandler creates a new queued import job. The job is
// picked up by a worker on its next poll tick; this endpoint never runs
// the import inline.
func enqueueImportHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	sched := c.Locals("scheduler").(*scheduler.Scheduler)

	var req EnqueueImportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(EnqueueImportResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid JSON body",
		})
	}

	if req.SourceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(EnqueueImportResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "sourceId is required",
		})
	}
	if cfg.Source(req.SourceID) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(EnqueueImportResponse{
			Success: false,
			Code:    "UNKNOWN_SOURCE",
			Error:   "no configured source with id " + req.SourceID,
		})
	}

	kind := req.Kind
	if kind == "" {
		kind = "full"
	}

	createdBy := "api"
	if val := c.Locals("apiKey"); val != nil {
		if key, ok := val.(store.APIKey); ok && key.Label != "" {
			createdBy = key.Label
		}
	}

	job, err := sched.Enqueue(c.Context(), req.SourceID, kind, createdBy)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(EnqueueImportResponse{
			Success: false,
			Code:    "ENQUEUE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(EnqueueImportResponse{
		Success: true,
		Job:     toImportJobItem(job),
	})
}

// importsListHandler lists import jobs, newest first.
func importsListHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	status := c.Query("status")
	if status != "" && !model.IsValidStatus(status) {
		return c.Status(fiber.StatusBadRequest).JSON(ListImportsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid status filter",
		})
	}

	limit, offset, err := pagination(c, 50, 500)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ListImportsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   err.Error(),
		})
	}

	jobs, err := st.ListJobs(c.Context(), store.JobListFilter{
		Status: status,
		Kind:   c.Query("kind"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ListImportsResponse{
			Success: false,
			Code:    "JOB_LIST_FAILED",
			Error:   err.Error(),
		})
	}

	items := make([]ImportJobItem, 0, len(jobs))
	for i := range jobs {
		items = append(items, *toImportJobItem(&jobs[i]))
	}

	return c.JSON(ListImportsResponse{Success: true, Jobs: items})
}

// importDetailHandler returns one job's current state.
func importDetailHandler(c *fiber.Ctx) error {
	sched := c.Locals("scheduler").(*scheduler.Scheduler)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ImportDetailResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	job, err := sched.Job(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(ImportDetailResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "no import job with id " + id.String(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ImportDetailResponse{
			Success: false,
			Code:    "JOB_LOOKUP_FAILED",
			Error:   err.Error(),
		})
	}

	return c.JSON(ImportDetailResponse{Success: true, Job: toImportJobItem(job)})
}

// importLogsHandler returns a job's log entries in chronological order.
func importLogsHandler(c *fiber.Ctx) error {
	sched := c.Locals("scheduler").(*scheduler.Scheduler)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ImportLogsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	limit, offset, err := pagination(c, 200, 1000)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ImportLogsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   err.Error(),
		})
	}

	logs, err := sched.Logs(c.Context(), id, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ImportLogsResponse{
			Success: false,
			Code:    "LOG_LIST_FAILED",
			Error:   err.Error(),
		})
	}

	items := make([]ImportLogItem, 0, len(logs))
	for _, entry := range logs {
		items = append(items, ImportLogItem{
			Level:     string(entry.Level),
			Message:   entry.Message,
			Details:   entry.Details,
			CreatedAt: entry.CreatedAt,
		})
	}

	return c.JSON(ImportLogsResponse{Success: true, Logs: items})
}

// importErrorsHandler returns a job's structured failure records.
func importErrorsHandler(c *fiber.Ctx) error {
	sched := c.Locals("scheduler").(*scheduler.Scheduler)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ImportErrorsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid job id",
		})
	}

	limit, offset, err := pagination(c, 200, 1000)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ImportErrorsResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   err.Error(),
		})
	}

	records, err := sched.Errors(c.Context(), id, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ImportErrorsResponse{
			Success: false,
			Code:    "ERROR_LIST_FAILED",
			Error:   err.Error(),
		})
	}

	items := make([]ImportErrorItem, 0, len(records))
	for _, r := range records {
		items = append(items, ImportErrorItem{
			Stage:        r.Stage,
			ErrorMessage: r.ErrorMessage,
			ErrorCode:    r.ErrorCode,
			ExternalID:   r.ExternalID,
			RetryCount:   r.RetryCount,
			Resolved:     r.Resolved,
			CreatedAt:    r.CreatedAt,
		})
	}

	return c.JSON(ImportErrorsResponse{Success: true, Errors: items})
}

// pagination parses limit/offset query params with a default and cap.
func pagination(c *fiber.Ctx, def, max int) (int32, int32, error) {
	limit := def
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, errors.New("invalid limit value")
		}
		if n > max {
			n = max
		}
		limit = n
	}

	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("invalid offset value")
		}
		offset = n
	}

	return int32(limit), int32(offset), nil
}
