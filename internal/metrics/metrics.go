package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests and job lifecycle.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsStarted  = make(map[string]int64)
	jobsFinished = make(map[jobKey]int64)
	jobsRetried  = make(map[string]int64)

	retentionJobsDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type jobKey struct {
	Kind    string
	Outcome string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJobStarted increments the counter of claimed job executions.
func RecordJobStarted(kind string) {
	mu.Lock()
	defer mu.Unlock()
	jobsStarted[kind]++
}

// RecordJobFinished increments the counter of terminal job outcomes
// (success, failed, cancelled).
func RecordJobFinished(kind, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	jobsFinished[jobKey{Kind: kind, Outcome: outcome}]++
}

// RecordJobRetry increments the counter of requeued job attempts.
func RecordJobRetry(kind string) {
	mu.Lock()
	defer mu.Unlock()
	jobsRetried[kind]++
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL cleanup.
func RecordRetentionJobs(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP stocksync_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE stocksync_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "stocksync_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP stocksync_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE stocksync_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP stocksync_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE stocksync_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "stocksync_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "stocksync_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	// Job lifecycle metrics
	b.WriteString("# HELP stocksync_jobs_started_total Total claimed job executions\n")
	b.WriteString("# TYPE stocksync_jobs_started_total counter\n")

	var startKinds []string
	for k := range jobsStarted {
		startKinds = append(startKinds, k)
	}
	sort.Strings(startKinds)
	for _, k := range startKinds {
		fmt.Fprintf(&b, "stocksync_jobs_started_total{kind=\"%s\"} %d\n", k, jobsStarted[k])
	}

	b.WriteString("# HELP stocksync_jobs_finished_total Total terminal job outcomes\n")
	b.WriteString("# TYPE stocksync_jobs_finished_total counter\n")

	var finKeys []jobKey
	for k := range jobsFinished {
		finKeys = append(finKeys, k)
	}
	sort.Slice(finKeys, func(i, j int) bool {
		if finKeys[i].Kind != finKeys[j].Kind {
			return finKeys[i].Kind < finKeys[j].Kind
		}
		return finKeys[i].Outcome < finKeys[j].Outcome
	})
	for _, k := range finKeys {
		fmt.Fprintf(&b, "stocksync_jobs_finished_total{kind=\"%s\",outcome=\"%s\"} %d\n",
			k.Kind, k.Outcome, jobsFinished[k])
	}

	b.WriteString("# HELP stocksync_jobs_retried_total Total requeued job attempts\n")
	b.WriteString("# TYPE stocksync_jobs_retried_total counter\n")

	var retryKinds []string
	for k := range jobsRetried {
		retryKinds = append(retryKinds, k)
	}
	sort.Strings(retryKinds)
	for _, k := range retryKinds {
		fmt.Fprintf(&b, "stocksync_jobs_retried_total{kind=\"%s\"} %d\n", k, jobsRetried[k])
	}

	b.WriteString("# HELP stocksync_retention_jobs_deleted_total Jobs deleted by TTL cleanup\n")
	b.WriteString("# TYPE stocksync_retention_jobs_deleted_total counter\n")
	fmt.Fprintf(&b, "stocksync_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	return b.String()
}
