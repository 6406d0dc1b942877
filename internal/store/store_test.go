package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"stocksync/internal/model"
)

var jobTestColumns = []string{
	"id", "source_id", "kind", "status", "created_by",
	"total_items", "processed_items", "error_count", "last_checkpoint",
	"created_at", "started_at", "finished_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func queuedJobRow(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows(jobTestColumns).
		AddRow(id, "acme", "full", "queued", "api", 0, 0, 0, "", time.Now().UTC(), nil, nil)
}

func TestInsertJobReturnsQueuedRow(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO import_jobs`).
		WithArgs(sqlmock.AnyArg(), "acme", "full", "api").
		WillReturnRows(queuedJobRow(id))

	job, err := st.InsertJob(context.Background(), "acme", "full", "api")
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if job.Status != model.StatusQueued {
		t.Errorf("expected queued status, got %s", job.Status)
	}
	if job.SourceID != "acme" || job.Kind != "full" {
		t.Errorf("unexpected job fields: %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOldestQueuedEmptyQueue(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM import_jobs`).
		WillReturnError(sql.ErrNoRows)

	job, err := st.OldestQueued(context.Background())
	if err != nil {
		t.Fatalf("OldestQueued: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil on empty queue, got %+v", job)
	}
}

func TestClaimJobWinsConditionalUpdate(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	started := time.Now().UTC()

	rows := sqlmock.NewRows(jobTestColumns).
		AddRow(id, "acme", "full", "running", "api", 0, 0, 0, "", time.Now().UTC(), started, nil)
	mock.ExpectQuery(`UPDATE import_jobs`).
		WithArgs(id).
		WillReturnRows(rows)

	job, err := st.ClaimJob(context.Background(), id)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected claimed job, got nil")
	}
	if job.Status != model.StatusRunning {
		t.Errorf("expected running status, got %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("expected startedAt populated from the claim")
	}
}

func TestClaimJobLosesRaceReturnsNil(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	// Zero rows back from the conditional update means another instance
	// moved the job out of queued first.
	mock.ExpectQuery(`UPDATE import_jobs`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	job, err := st.ClaimJob(context.Background(), id)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil on lost claim, got %+v", job)
	}
}

func TestFinalizeJobRequeueClearsFinishedAt(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE import_jobs SET status`).
		WithArgs(id, "queued", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.FinalizeJob(context.Background(), id, model.StatusQueued, nil); err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFinalizeJobFailedSetsFinishedAt(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE import_jobs SET status`).
		WithArgs(id, "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.FinalizeJob(context.Background(), id, model.StatusFailed, &now); err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}
}

func TestIncrementErrorCountReturnsPersistedValue(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE import_jobs`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"error_count"}).AddRow(2))

	count, err := st.IncrementErrorCount(context.Background(), id)
	if err != nil {
		t.Fatalf("IncrementErrorCount: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestAppendLogWithDetails(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`INSERT INTO import_job_logs`).
		WithArgs(id, "warn", "job failed, retrying", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.AppendLog(context.Background(), id, model.LogWarn, "job failed, retrying", []byte(`{"attempt":1}`))
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
}

func TestAppendErrorRecord(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`INSERT INTO import_job_errors`).
		WithArgs(id, "process", "missing name", "INVALID_ITEM", "sku-42", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.AppendError(context.Background(), id, "process", "missing name", "INVALID_ITEM", "sku-42", 1)
	if err != nil {
		t.Fatalf("AppendError: %v", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM import_jobs WHERE id`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := st.GetJob(context.Background(), id)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListJobsAppliesFilters(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()

	rows := sqlmock.NewRows(jobTestColumns).
		AddRow(id, "acme", "full", "failed", "api", 10, 4, 3, "4", time.Now().UTC(), time.Now().UTC(), time.Now().UTC())
	mock.ExpectQuery(`SELECT (.+) FROM import_jobs`).
		WithArgs("failed", "", int32(50), int32(0)).
		WillReturnRows(rows)

	jobs, err := st.ListJobs(context.Background(), JobListFilter{Status: "failed"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status != model.StatusFailed || jobs[0].FinishedAt == nil {
		t.Errorf("unexpected job: %+v", jobs[0])
	}
}

func TestDeleteExpiredJobs(t *testing.T) {
	st, mock := newMockStore(t)
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM import_jobs`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := st.DeleteExpiredJobs(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteExpiredJobs: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}
}

func TestUpsertProduct(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO products`).
		WithArgs("sku-1", "acme", "Widget", int64(1999), "USD").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.UpsertProduct(context.Background(), model.Product{
		ExternalID: "sku-1",
		SourceID:   "acme",
		Name:       "Widget",
		PriceCents: 1999,
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
}
