// Package importer implements the catalog feed processor that the
// scheduler drives. One Process call imports one source's feed into the
// products table, reporting progress and checkpoints along the way so a
// retried execution can resume instead of restarting.
package importer

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stocksync/internal/config"
	"stocksync/internal/model"
	"stocksync/internal/scheduler"
)

// Store is the slice of the job store the importer writes through:
// catalog rows plus the progress/checkpoint fields of its own job.
type Store interface {
	UpsertProduct(ctx context.Context, p model.Product) error
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, total int) error
	UpdateCheckpoint(ctx context.Context, id uuid.UUID, checkpoint string) error
}

const defaultCheckpointEvery = 50

// Catalog imports product feeds from configured external sources.
type Catalog struct {
	cfg    *config.Config
	store  Store
	client *http.Client
	logger *zap.SugaredLogger
}

// New constructs a Catalog importer with an HTTP client sized from config.
func New(cfg *config.Config, st Store, logger *zap.SugaredLogger) *Catalog {
	timeout := time.Duration(cfg.Importer.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Catalog{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Process implements scheduler.Processor. The job's kind is forwarded
// to the source untouched; full and delta feeds are the source's
// distinction, not the importer's.
func (c *Catalog) Process(ctx context.Context, job *model.Job) error {
	src := c.cfg.Source(job.SourceID)
	if src == nil {
		return &scheduler.ProcessError{
			Code: "UNKNOWN_SOURCE",
			Err:  errors.Newf("no configured source with id %q", job.SourceID),
		}
	}

	items, err := c.fetchFeed(ctx, src, job.Kind)
	if err != nil {
		return err
	}

	total := len(items)

	// A requeued job resumes from its last persisted checkpoint rather
	// than re-importing the whole feed.
	start := 0
	if job.LastCheckpoint != "" {
		if n, perr := strconv.Atoi(job.LastCheckpoint); perr == nil && n > 0 && n <= total {
			start = n
			c.logger.Infow("resuming import from checkpoint",
				"job_id", job.ID, "source_id", src.ID, "resume_at", start, "total", total)
		}
	}

	if err := c.store.UpdateProgress(ctx, job.ID, start, total); err != nil {
		return errors.Wrap(err, "record initial progress")
	}

	every := c.cfg.Importer.CheckpointEvery
	if every <= 0 {
		every = defaultCheckpointEvery
	}

	for i := start; i < total; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item := items[i]
		if item.ExternalID == "" || item.Name == "" {
			return &scheduler.ProcessError{
				Code:       "INVALID_ITEM",
				ExternalID: item.ExternalID,
				Err:        errors.Newf("feed item %d is missing required fields", i),
			}
		}

		product := model.Product{
			ExternalID: item.ExternalID,
			SourceID:   src.ID,
			Name:       item.Name,
			PriceCents: item.PriceCents,
			Currency:   item.Currency,
		}
		if product.Currency == "" {
			product.Currency = src.Currency
		}

		if err := c.store.UpsertProduct(ctx, product); err != nil {
			return &scheduler.ProcessError{
				ExternalID: item.ExternalID,
				Err:        errors.Wrapf(err, "upsert item %s", item.ExternalID),
			}
		}

		done := i + 1
		if done%every == 0 || done == total {
			if err := c.store.UpdateProgress(ctx, job.ID, done, total); err != nil {
				return errors.Wrap(err, "record progress")
			}
			if err := c.store.UpdateCheckpoint(ctx, job.ID, strconv.Itoa(done)); err != nil {
				return errors.Wrap(err, "record checkpoint")
			}
		}
	}

	c.logger.Infow("catalog import finished",
		"job_id", job.ID, "source_id", src.ID, "imported", total-start, "total", total)
	return nil
}
