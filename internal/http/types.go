package http

import (
	"encoding/json"
	"time"

	"stocksync/internal/model"
)

// ErrorResponse is the error envelope shared by all endpoints.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// EnqueueImportRequest is the POST /v1/imports input shape.
type EnqueueImportRequest struct {
	SourceID string `json:"sourceId"`
	Kind     string `json:"kind"`
}

// ImportJobItem is the wire shape for one import job.
type ImportJobItem struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"sourceId"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	TotalItems     int        `json:"totalItems"`
	ProcessedItems int        `json:"processedItems"`
	ErrorCount     int        `json:"errorCount"`
	LastCheckpoint string     `json:"lastCheckpoint,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

func toImportJobItem(job *model.Job) *ImportJobItem {
	return &ImportJobItem{
		ID:             job.ID.String(),
		SourceID:       job.SourceID,
		Kind:           job.Kind,
		Status:         string(job.Status),
		CreatedBy:      job.CreatedBy,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		ErrorCount:     job.ErrorCount,
		LastCheckpoint: job.LastCheckpoint,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
	}
}

// EnqueueImportResponse is returned by POST /v1/imports.
type EnqueueImportResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Job     *ImportJobItem `json:"job,omitempty"`
}

// ListImportsResponse is returned by GET /v1/imports.
type ListImportsResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Jobs    []ImportJobItem `json:"jobs,omitempty"`
}

// ImportDetailResponse is returned by GET /v1/imports/:id.
type ImportDetailResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Job     *ImportJobItem `json:"job,omitempty"`
}

// ImportLogItem is the wire shape for one job log line.
type ImportLogItem struct {
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ImportLogsResponse is returned by GET /v1/imports/:id/logs.
type ImportLogsResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Logs    []ImportLogItem `json:"logs,omitempty"`
}

// ImportErrorItem is the wire shape for one structured error record.
type ImportErrorItem struct {
	Stage        string    `json:"stage"`
	ErrorMessage string    `json:"errorMessage"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ExternalID   string    `json:"externalId,omitempty"`
	RetryCount   int       `json:"retryCount"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ImportErrorsResponse is returned by GET /v1/imports/:id/errors.
type ImportErrorsResponse struct {
	Success bool              `json:"success"`
	Code    string            `json:"code,omitempty"`
	Error   string            `json:"error,omitempty"`
	Errors  []ImportErrorItem `json:"errors,omitempty"`
}
