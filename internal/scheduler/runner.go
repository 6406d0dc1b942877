package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"stocksync/internal/metrics"
	"stocksync/internal/model"
)

// ProcessError is an optional typed error processors can return to
// attach a machine-readable code and the external ID of the import item
// that failed. Extracted with errors.As; plain errors work fine too.
type ProcessError struct {
	Code       string
	ExternalID string
	Err        error
}

func (e *ProcessError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Err.Error()
}

func (e *ProcessError) Unwrap() error { return e.Err }

// runJob owns one claimed job from invocation to terminal or requeued
// state. The claim already persisted status=running; the runner never
// re-sets it.
func (s *Scheduler) runJob(ctx context.Context, cancel context.CancelFunc, job *model.Job) {
	defer cancel()
	defer s.release(job.ID)

	s.appendLog(job.ID, model.LogInfo, "job started", nil)
	s.logger.Infow("import job started",
		"job_id", job.ID, "source_id", job.SourceID, "kind", job.Kind, "attempt", job.ErrorCount+1)

	err := s.proc.Process(ctx, job)

	// Bookkeeping below must not ride the per-job context: it may be
	// cancelled, and final state still has to be persisted.
	bg := context.Background()
	now := time.Now().UTC()

	// Cancellation takes priority over error handling so a deliberately
	// stopped job is never retried, even if the processor happened to
	// return cleanly after the signal fired.
	if ctx.Err() != nil {
		if ferr := s.store.FinalizeJob(bg, job.ID, model.StatusFailed, &now); ferr != nil {
			s.logger.Errorw("failed to finalize cancelled job", "job_id", job.ID, "error", ferr)
		}
		s.appendLog(job.ID, model.LogWarn, "job cancelled", nil)
		s.logger.Warnw("import job cancelled", "job_id", job.ID)
		metrics.RecordJobFinished(job.Kind, "cancelled")
		return
	}

	if err == nil {
		if ferr := s.store.FinalizeJob(bg, job.ID, model.StatusSuccess, &now); ferr != nil {
			s.logger.Errorw("failed to finalize successful job", "job_id", job.ID, "error", ferr)
		}
		s.appendLog(job.ID, model.LogInfo, "job completed", nil)
		s.logger.Infow("import job completed", "job_id", job.ID)
		metrics.RecordJobFinished(job.Kind, "success")
		return
	}

	s.failOrRetry(bg, job, err, now)
}

// failOrRetry records the processor failure and either requeues the job
// or marks it permanently failed once the retry cap is reached.
func (s *Scheduler) failOrRetry(ctx context.Context, job *model.Job, procErr error, now time.Time) {
	var code, externalID string
	var perr *ProcessError
	if errors.As(procErr, &perr) {
		code = perr.Code
		externalID = perr.ExternalID
	}

	count, err := s.store.IncrementErrorCount(ctx, job.ID)
	if err != nil {
		// Without a trustworthy attempt count the retry cap cannot be
		// enforced, so fail the job rather than risk an unbounded loop.
		s.logger.Errorw("failed to increment error count, failing job", "job_id", job.ID, "error", err)
		count = s.cfg.MaxRetries
	}

	if aerr := s.store.AppendError(ctx, job.ID, "process", procErr.Error(), code, externalID, count); aerr != nil {
		s.logger.Errorw("failed to append error record", "job_id", job.ID, "error", aerr)
	}

	if count < s.cfg.MaxRetries {
		// Requeue with finished_at cleared so the job is a claim
		// candidate again on a future tick.
		if ferr := s.store.FinalizeJob(ctx, job.ID, model.StatusQueued, nil); ferr != nil {
			s.logger.Errorw("failed to requeue job", "job_id", job.ID, "error", ferr)
		}
		details, _ := json.Marshal(map[string]any{"attempt": count, "maxRetries": s.cfg.MaxRetries})
		s.appendLog(job.ID, model.LogWarn, fmt.Sprintf("job failed, retrying (attempt %d of %d)", count, s.cfg.MaxRetries), details)
		s.logger.Warnw("import job requeued for retry",
			"job_id", job.ID, "attempt", count, "max_retries", s.cfg.MaxRetries, "error", procErr)
		metrics.RecordJobRetry(job.Kind)
		return
	}

	if ferr := s.store.FinalizeJob(ctx, job.ID, model.StatusFailed, &now); ferr != nil {
		s.logger.Errorw("failed to finalize failed job", "job_id", job.ID, "error", ferr)
	}
	s.appendLog(job.ID, model.LogError, fmt.Sprintf("job failed permanently after %d attempts", count), nil)
	s.logger.Errorw("import job failed permanently",
		"job_id", job.ID, "attempts", count, "error", procErr)
	metrics.RecordJobFinished(job.Kind, "failed")
}

// appendLog writes a job log line, reporting (but not propagating)
// store failures: log writes are observational and must never change a
// job's outcome.
func (s *Scheduler) appendLog(id uuid.UUID, level model.LogLevel, message string, details json.RawMessage) {
	if err := s.store.AppendLog(context.Background(), id, level, message, details); err != nil {
		s.logger.Errorw("failed to append job log", "job_id", id, "error", err)
	}
}
