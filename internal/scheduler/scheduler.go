// Package scheduler drives persistent background import jobs: it polls
// the durable job store for queued work, claims jobs with a conditional
// update so at most one scheduler process runs any given job, and
// supervises each claimed job through success, retry, or failure.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stocksync/internal/metrics"
	"stocksync/internal/model"
)

// Store is the durable job store contract the scheduler depends on. It
// is satisfied by the Postgres-backed store and by in-memory fakes in
// tests. Any backend works as long as ClaimJob is a real compare-and-
// swap on the job's status.
type Store interface {
	InsertJob(ctx context.Context, sourceID, kind, createdBy string) (*model.Job, error)
	OldestQueued(ctx context.Context) (*model.Job, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	FinalizeJob(ctx context.Context, id uuid.UUID, status model.Status, finishedAt *time.Time) error
	IncrementErrorCount(ctx context.Context, id uuid.UUID) (int, error)
	AppendLog(ctx context.Context, id uuid.UUID, level model.LogLevel, message string, details json.RawMessage) error
	AppendError(ctx context.Context, id uuid.UUID, stage, message, code, externalID string, retryCount int) error
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error
	UpdateCheckpoint(ctx context.Context, id uuid.UUID, checkpoint string) error
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	GetLogs(ctx context.Context, id uuid.UUID, limit, offset int32) ([]model.JobLogEntry, error)
	GetErrors(ctx context.Context, id uuid.UUID, limit, offset int32) ([]model.JobErrorRecord, error)
}

// Processor performs the domain-specific import work for one claimed
// job. It must check ctx cooperatively at safe points; the scheduler
// cannot interrupt a processor that ignores cancellation. A processor
// is guaranteed exclusivity for its own job but must tolerate other
// jobs running concurrently.
type Processor interface {
	Process(ctx context.Context, job *model.Job) error
}

// Config controls one scheduler instance. Zero values fall back to the
// defaults below, so tests can vary a single knob.
type Config struct {
	PollInterval      time.Duration
	MaxConcurrentJobs int
	MaxRetries        int
}

const (
	defaultPollInterval      = 5 * time.Second
	defaultMaxConcurrentJobs = 2
	defaultMaxRetries        = 3
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// Scheduler polls for queued jobs and runs them under a concurrency
// ceiling. Claimed jobs execute on their own goroutines; the poll loop
// never waits on job completion, only on the count of active jobs.
type Scheduler struct {
	cfg    Config
	store  Store
	proc   Processor
	logger *zap.SugaredLogger

	mu         sync.Mutex
	running    bool
	cancelPoll context.CancelFunc
	parentCtx  context.Context
	active     map[uuid.UUID]context.CancelFunc
}

// New constructs a Scheduler. The processor may be nil for api-only
// processes that just enqueue and observe jobs; Start requires one.
func New(cfg Config, st Store, proc Processor, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		store:  st,
		proc:   proc,
		logger: logger,
		active: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start begins the poll cycle. Calling Start while already running is a
// no-op. The given context is the parent of every per-job context, so
// cancelling it cancels in-flight jobs as well as polling.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.parentCtx = ctx

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancelPoll = cancel

	go s.pollLoop(pollCtx)

	s.logger.Infow("scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"max_concurrent_jobs", s.cfg.MaxConcurrentJobs,
		"max_retries", s.cfg.MaxRetries)
}

// Stop halts future polling and signals cancellation to every active
// job. It does not block waiting for jobs to finish; in-flight runners
// do their own final-state bookkeeping even after their entry is gone
// from the active map.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancelPoll()

	for id, cancel := range s.active {
		s.logger.Warnw("cancelling active import job", "job_id", id)
		cancel()
	}
	s.active = make(map[uuid.UUID]context.CancelFunc)

	s.logger.Infow("scheduler stopped")
}

// ActiveJobs reports how many jobs are currently executing.
func (s *Scheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.tick(ctx); err != nil {
			// A failed tick (store unavailable, usually) must not stop
			// the scheduler; the next tick retries.
			s.logger.Errorw("scheduler tick failed", "error", err)
		}
	}
}

// tick performs at most one claim-and-launch cycle. The concurrency
// ceiling is soft admission control: when all slots are full the tick
// does nothing rather than queue claim attempts.
func (s *Scheduler) tick(ctx context.Context) error {
	s.mu.Lock()
	capacity := s.cfg.MaxConcurrentJobs - len(s.active)
	s.mu.Unlock()
	if capacity <= 0 {
		return nil
	}

	job, err := s.claimNext(ctx)
	if err != nil || job == nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(s.parentCtx)

	s.mu.Lock()
	if !s.running {
		// Stop raced the claim. The job context's parent is already
		// cancelled with the scheduler's; let the runner observe it.
		s.active[job.ID] = cancel
		cancel()
	} else {
		s.active[job.ID] = cancel
	}
	s.mu.Unlock()

	metrics.RecordJobStarted(job.Kind)
	go s.runJob(jobCtx, cancel, job)

	return nil
}

// claimNext is the claim arbiter: read the oldest queued candidate,
// then attempt the conditional update. Losing the race to another
// scheduler instance is a benign miss (nil, nil), retried next tick.
func (s *Scheduler) claimNext(ctx context.Context) (*model.Job, error) {
	candidate, err := s.store.OldestQueued(ctx)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}

	job, err := s.store.ClaimJob(ctx, candidate.ID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Another instance claimed it between select and update.
		s.logger.Debugw("claim lost to concurrent scheduler", "job_id", candidate.ID)
		return nil, nil
	}
	return job, nil
}

// release frees a job's concurrency slot. Runners call it exactly once
// via defer; after Stop cleared the map the delete is a no-op.
func (s *Scheduler) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
