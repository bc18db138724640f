package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
	"github.com/google/uuid"
)

// DispatchWorker drains the durable dispatch queue. Claimed jobs fan out
// across a bounded pool; a job whose invitation is leased elsewhere is
// released back to the queue instead of burning a retry.
type DispatchWorker struct {
	logger      *slog.Logger
	jobs        ports.DispatchJobRepository
	service     *application.Service
	interval    time.Duration
	batchSize   int
	claimTTL    time.Duration
	concurrency int
}

func NewDispatchWorker(
	logger *slog.Logger,
	jobs ports.DispatchJobRepository,
	service *application.Service,
	interval time.Duration,
	batchSize int,
	claimTTL time.Duration,
	concurrency int,
) *DispatchWorker {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &DispatchWorker{
		logger:      logger,
		jobs:        jobs,
		service:     service,
		interval:    interval,
		batchSize:   batchSize,
		claimTTL:    claimTTL,
		concurrency: concurrency,
	}
}

func (w *DispatchWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "dispatch iteration failed",
				"module", "events.dispatch_worker",
				"layer", "adapter",
				"operation", "dispatch_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *DispatchWorker) processOnce(ctx context.Context) error {
	claimToken := uuid.NewString()
	now := time.Now().UTC()
	jobs, err := w.jobs.ClaimDue(ctx, w.batchSize, claimToken, now.Add(w.claimTTL), now)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job ports.DispatchJob) {
			defer wg.Done()
			defer func() { <-sem }()
			w.processJob(ctx, job, claimToken)
		}(job)
	}
	wg.Wait()
	return nil
}

func (w *DispatchWorker) processJob(ctx context.Context, job ports.DispatchJob, claimToken string) {
	resolution, err := w.service.ProcessDispatchJob(ctx, job)
	now := time.Now().UTC()
	switch {
	case errors.Is(err, domain.ErrLeaseConflict):
		// Another worker holds the invitation; try again shortly.
		_ = w.jobs.Reschedule(ctx, job.JobID, claimToken, now.Add(w.interval))
	case err != nil:
		w.logger.ErrorContext(ctx, "dispatch job failed",
			"module", "events.dispatch_worker",
			"layer", "adapter",
			"operation", "process_job",
			"outcome", "failure",
			"job_id", job.JobID,
			"invitation_id", job.InvitationID,
			"error", err,
		)
		_ = w.jobs.Reschedule(ctx, job.JobID, claimToken, now.Add(w.interval))
	case resolution.Done:
		_ = w.jobs.Complete(ctx, job.JobID, claimToken, now)
	default:
		_ = w.jobs.Reschedule(ctx, job.JobID, claimToken, resolution.RetryAt)
	}
}
