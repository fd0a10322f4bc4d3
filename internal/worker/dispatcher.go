package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// Dispatcher polls for claimable jobs and hands each claim to the runner.
// One dispatcher runs one job at a time; horizontal scale comes from running
// more worker processes, which the lease claim keeps safe.
type Dispatcher struct {
	Jobs   domain.JobRepository
	Runner *Runner
	Poll   time.Duration
	Lease  time.Duration
	Sleep  func(context.Context, time.Duration) error
}

// NewDispatcher constructs a dispatcher with defaults applied.
func NewDispatcher(jobs domain.JobRepository, runner *Runner, poll, lease time.Duration) *Dispatcher {
	if poll <= 0 {
		poll = 3 * time.Second
	}
	if lease <= 0 {
		lease = 60 * time.Second
	}
	return &Dispatcher{Jobs: jobs, Runner: runner, Poll: poll, Lease: lease, Sleep: sleepCtx}
}

// Run claims and executes jobs until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started",
		slog.Duration("poll_interval", d.Poll),
		slog.Duration("lease", d.Lease))
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("dispatcher stopping")
			return err
		}
		job, ok, err := d.Jobs.ClaimNext(ctx, d.Lease)
		if err != nil {
			slog.Error("job claim failed", slog.Any("error", err))
			if sErr := d.Sleep(ctx, d.Poll); sErr != nil {
				return sErr
			}
			continue
		}
		if !ok {
			if sErr := d.Sleep(ctx, d.Poll); sErr != nil {
				return sErr
			}
			continue
		}
		// Best-effort claim class: an interrupted run leaves current_row set.
		class := "queued"
		if job.CurrentRow != nil {
			class = "expired"
		}
		observability.JobsClaimedTotal.WithLabelValues(class).Inc()
		slog.Info("job claimed",
			slog.String("job_id", job.ID),
			slog.String("class", class),
			slog.Int("rows_processed", job.RowsProcessed),
			slog.Int("total_rows", job.TotalRows))
		if runErr := d.Runner.Run(ctx, job); runErr != nil && !errors.Is(runErr, context.Canceled) {
			slog.Error("job run failed", slog.String("job_id", job.ID), slog.Any("error", runErr))
		}
	}
}
