package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"stocksync/internal/model"
)

// Store wraps access to the database. All mutation of job rows goes
// through single-row statements; the claim step is a conditional update
// so that multiple scheduler processes can safely share one database.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

const jobColumns = `id, source_id, kind, status, created_by,
	total_items, processed_items, error_count, last_checkpoint,
	created_at, started_at, finished_at`

func scanJob(row *sql.Row) (*model.Job, error) {
	var job model.Job
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&job.ID,
		&job.SourceID,
		&job.Kind,
		&job.Status,
		&job.CreatedBy,
		&job.TotalItems,
		&job.ProcessedItems,
		&job.ErrorCount,
		&job.LastCheckpoint,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

// InsertJob creates a new queued import job row.
func (s *Store) InsertJob(ctx context.Context, sourceID, kind, createdBy string) (*model.Job, error) {
	// Prefer uuidv7 so job IDs sort roughly by creation time.
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	query := `
		INSERT INTO import_jobs (id, source_id, kind, status, created_by)
		VALUES ($1, $2, $3, 'queued', $4)
		RETURNING ` + jobColumns

	job, err := scanJob(s.DB.QueryRowContext(ctx, query, id, sourceID, kind, createdBy))
	if err != nil {
		return nil, errors.Wrap(err, "insert job")
	}
	return job, nil
}

// OldestQueued returns the oldest queued job, or nil when the queue is
// empty. This is only a claim candidate; the caller must still win the
// conditional update in ClaimJob before running it.
func (s *Store) OldestQueued(ctx context.Context) (*model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM import_jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT 1`

	job, err := scanJob(s.DB.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select oldest queued job")
	}
	return job, nil
}

// ClaimJob attempts to transition a job from queued to running. It
// returns nil, nil when the row was already claimed by another
// scheduler instance between candidate selection and this update; the
// caller must treat that as a benign miss, not an error.
func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	query := `
		UPDATE import_jobs
		SET status = 'running', started_at = now(), finished_at = NULL
		WHERE id = $1 AND status = 'queued'
		RETURNING ` + jobColumns

	job, err := scanJob(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim job")
	}
	return job, nil
}

// FinalizeJob sets a job's terminal or requeued state. A nil finishedAt
// clears the column, which is required when requeuing so the job does
// not look finished while it waits for another claim.
func (s *Store) FinalizeJob(ctx context.Context, id uuid.UUID, status model.Status, finishedAt *time.Time) error {
	var ft sql.NullTime
	if finishedAt != nil {
		ft = sql.NullTime{Time: *finishedAt, Valid: true}
	}

	query := `UPDATE import_jobs SET status = $2, finished_at = $3 WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, string(status), ft); err != nil {
		return errors.Wrapf(err, "finalize job %s as %s", id, status)
	}
	return nil
}

// IncrementErrorCount bumps a job's failed-attempt counter and returns
// the new persisted value. Increment and read happen in one statement
// so the caller never sees a stale in-memory copy.
func (s *Store) IncrementErrorCount(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE import_jobs
		SET error_count = error_count + 1
		WHERE id = $1
		RETURNING error_count`

	var count int
	if err := s.DB.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "increment error count for job %s", id)
	}
	return count, nil
}

// AppendLog writes one narrative log line for a job. Details, when
// present, are stored as JSONB.
func (s *Store) AppendLog(ctx context.Context, id uuid.UUID, level model.LogLevel, message string, details json.RawMessage) error {
	var d pqtype.NullRawMessage
	if len(details) > 0 {
		d = pqtype.NullRawMessage{RawMessage: details, Valid: true}
	}

	query := `
		INSERT INTO import_job_logs (job_id, level, message, details)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.DB.ExecContext(ctx, query, id, string(level), message, d); err != nil {
		return errors.Wrapf(err, "append log for job %s", id)
	}
	return nil
}

// AppendError writes one structured failure record for a job.
func (s *Store) AppendError(ctx context.Context, id uuid.UUID, stage, message, code, externalID string, retryCount int) error {
	query := `
		INSERT INTO import_job_errors (job_id, stage, error_message, error_code, external_id, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.DB.ExecContext(ctx, query, id, stage, message, code, externalID, retryCount); err != nil {
		return errors.Wrapf(err, "append error record for job %s", id)
	}
	return nil
}

// UpdateProgress records the processor's item counters for a job.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error {
	query := `UPDATE import_jobs SET processed_items = $2, total_items = $3 WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, processed, total); err != nil {
		return errors.Wrapf(err, "update progress for job %s", id)
	}
	return nil
}

// UpdateCheckpoint stores the processor's opaque resumability token.
func (s *Store) UpdateCheckpoint(ctx context.Context, id uuid.UUID, checkpoint string) error {
	query := `UPDATE import_jobs SET last_checkpoint = $2 WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, checkpoint); err != nil {
		return errors.Wrapf(err, "update checkpoint for job %s", id)
	}
	return nil
}

// GetJob fetches a single job by ID. Returns sql.ErrNoRows when absent.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1`
	return scanJob(s.DB.QueryRowContext(ctx, query, id))
}

// JobListFilter narrows ListJobs results.
type JobListFilter struct {
	Status string
	Kind   string
	Limit  int32
	Offset int32
}

// ListJobs returns jobs newest-first, optionally filtered by status and kind.
func (s *Store) ListJobs(ctx context.Context, f JobListFilter) ([]model.Job, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `
		SELECT ` + jobColumns + `
		FROM import_jobs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.DB.QueryContext(ctx, query, f.Status, f.Kind, f.Limit, f.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var job model.Job
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(
			&job.ID, &job.SourceID, &job.Kind, &job.Status, &job.CreatedBy,
			&job.TotalItems, &job.ProcessedItems, &job.ErrorCount, &job.LastCheckpoint,
			&job.CreatedAt, &startedAt, &finishedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan job row")
		}
		if startedAt.Valid {
			t := startedAt.Time
			job.StartedAt = &t
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			job.FinishedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetLogs returns a job's log entries in chronological order.
func (s *Store) GetLogs(ctx context.Context, id uuid.UUID, limit, offset int32) ([]model.JobLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, job_id, level, message, details, created_at
		FROM import_job_logs
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.DB.QueryContext(ctx, query, id, limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "list logs for job %s", id)
	}
	defer rows.Close()

	var entries []model.JobLogEntry
	for rows.Next() {
		var e model.JobLogEntry
		var details pqtype.NullRawMessage
		if err := rows.Scan(&e.ID, &e.JobID, &e.Level, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan log row")
		}
		if details.Valid {
			e.Details = details.RawMessage
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetErrors returns a job's error records in chronological order.
func (s *Store) GetErrors(ctx context.Context, id uuid.UUID, limit, offset int32) ([]model.JobErrorRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, job_id, stage, error_message, error_code, external_id, retry_count, resolved, created_at
		FROM import_job_errors
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.DB.QueryContext(ctx, query, id, limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "list error records for job %s", id)
	}
	defer rows.Close()

	var records []model.JobErrorRecord
	for rows.Next() {
		var r model.JobErrorRecord
		if err := rows.Scan(&r.ID, &r.JobID, &r.Stage, &r.ErrorMessage, &r.ErrorCode, &r.ExternalID, &r.RetryCount, &r.Resolved, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan error record row")
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpsertProduct writes one catalog item from an import source.
func (s *Store) UpsertProduct(ctx context.Context, p model.Product) error {
	query := `
		INSERT INTO products (external_id, source_id, name, price_cents, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (source_id, external_id)
		DO UPDATE SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
		              currency = EXCLUDED.currency, updated_at = now()`
	if _, err := s.DB.ExecContext(ctx, query, p.ExternalID, p.SourceID, p.Name, p.PriceCents, p.Currency); err != nil {
		return errors.Wrapf(err, "upsert product %s/%s", p.SourceID, p.ExternalID)
	}
	return nil
}

// DeleteExpiredJobs removes terminal jobs finished before the cutoff.
// Logs and error records go with them via ON DELETE CASCADE.
func (s *Store) DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM import_jobs
		WHERE status IN ('success', 'failed') AND finished_at < $1`

	res, err := s.DB.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete expired jobs")
	}
	return res.RowsAffected()
}
