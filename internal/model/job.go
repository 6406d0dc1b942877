package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an import job. These values
// must match the text values stored in the database (import_jobs.status).
//
// Centralizing these here avoids scattering string literals like
// "queued" or "running" across packages.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// LogLevel classifies import job log entries.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Job is one unit of schedulable import work. Rows are created in
// queued state by the lifecycle API and mutated only by the claim step
// (queued -> running) and the runner (running -> success/failed/queued).
type Job struct {
	ID             uuid.UUID  `json:"id"`
	SourceID       string     `json:"sourceId"`
	Kind           string     `json:"kind"`
	Status         Status     `json:"status"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	TotalItems     int        `json:"totalItems"`
	ProcessedItems int        `json:"processedItems"`
	ErrorCount     int        `json:"errorCount"`
	LastCheckpoint string     `json:"lastCheckpoint,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

// JobLogEntry is one append-only narrative log line for a job.
type JobLogEntry struct {
	ID        int64           `json:"id"`
	JobID     uuid.UUID       `json:"jobId"`
	Level     LogLevel        `json:"level"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// JobErrorRecord is a structured, queryable failure record for operator
// triage, distinct from the narrative log trace.
type JobErrorRecord struct {
	ID           int64     `json:"id"`
	JobID        uuid.UUID `json:"jobId"`
	Stage        string    `json:"stage"`
	ErrorMessage string    `json:"errorMessage"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ExternalID   string    `json:"externalId,omitempty"`
	RetryCount   int       `json:"retryCount"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Product is one catalog item written by the sample importer. The
// scheduler core never touches this table; it exists so import
// processors have a real target to upsert into.
type Product struct {
	ExternalID string    `json:"externalId"`
	SourceID   string    `json:"sourceId"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"priceCents"`
	Currency   string    `json:"currency"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
