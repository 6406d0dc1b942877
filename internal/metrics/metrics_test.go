package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	// Record a single request and ensure it appears in the export.
	RecordRequest("GET", "/v1/imports", 200, 42)

	out := Export()
	if !strings.Contains(out, "stocksync_http_requests_total{method=\"GET\",path=\"/v1/imports\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for GET /v1/imports in export, got:\n%s", out)
	}
	if !strings.Contains(out, "stocksync_http_request_duration_ms_sum") || !strings.Contains(out, "stocksync_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordJobLifecycleMetrics(t *testing.T) {
	RecordJobStarted("full")
	RecordJobRetry("full")
	RecordJobFinished("full", "success")
	RecordJobFinished("delta", "failed")

	out := Export()
	if !strings.Contains(out, "stocksync_jobs_started_total{kind=\"full\"}") {
		t.Fatalf("expected jobs_started_total for kind full, got:\n%s", out)
	}
	if !strings.Contains(out, "stocksync_jobs_retried_total{kind=\"full\"}") {
		t.Fatalf("expected jobs_retried_total for kind full, got:\n%s", out)
	}
	if !strings.Contains(out, "stocksync_jobs_finished_total{kind=\"full\",outcome=\"success\"}") {
		t.Fatalf("expected jobs_finished_total success for kind full, got:\n%s", out)
	}
	if !strings.Contains(out, "stocksync_jobs_finished_total{kind=\"delta\",outcome=\"failed\"}") {
		t.Fatalf("expected jobs_finished_total failed for kind delta, got:\n%s", out)
	}
}

func TestRecordRetentionMetrics(t *testing.T) {
	RecordRetentionJobs(3)

	out := Export()
	if !strings.Contains(out, "stocksync_retention_jobs_deleted_total") {
		t.Fatalf("expected retention counter in export, got:\n%s", out)
	}
}
