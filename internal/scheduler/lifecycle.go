package scheduler

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"stocksync/internal/model"
)

// Enqueue inserts a new queued import job. The job becomes eligible for
// execution on the next poll tick; enqueueing never runs it inline.
func (s *Scheduler) Enqueue(ctx context.Context, sourceID, kind, createdBy string) (*model.Job, error) {
	job, err := s.store.InsertJob(ctx, sourceID, kind, createdBy)
	if err != nil {
		return nil, err
	}

	details, _ := json.Marshal(map[string]string{"sourceId": sourceID, "kind": kind, "createdBy": createdBy})
	s.appendLog(job.ID, model.LogInfo, "job enqueued", details)
	s.logger.Infow("import job enqueued",
		"job_id", job.ID, "source_id", sourceID, "kind", kind, "created_by", createdBy)

	return job, nil
}

// Job returns the current state of a job.
func (s *Scheduler) Job(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Logs returns a job's narrative log in chronological order.
func (s *Scheduler) Logs(ctx context.Context, id uuid.UUID, limit, offset int32) ([]model.JobLogEntry, error) {
	return s.store.GetLogs(ctx, id, limit, offset)
}

// Errors returns a job's structured failure records in chronological order.
func (s *Scheduler) Errors(ctx context.Context, id uuid.UUID, limit, offset int32) ([]model.JobErrorRecord, error) {
	return s.store.GetErrors(ctx, id, limit, offset)
}

// Progress is a pass-through for processors to report item counters
// while a job runs. External callers should treat it as internal.
func (s *Scheduler) Progress(ctx context.Context, id uuid.UUID, processed, total int) error {
	return s.store.UpdateProgress(ctx, id, processed, total)
}

// Checkpoint is a pass-through for processors to persist a resumability
// token, read back from the job row on a retried execution.
func (s *Scheduler) Checkpoint(ctx context.Context, id uuid.UUID, token string) error {
	return s.store.UpdateCheckpoint(ctx, id, token)
}
