package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/observability"
)

// ExpiredLeaseCounter is the slice of the jobs repository the sweeper needs.
type ExpiredLeaseCounter interface {
	CountExpiredLeases(ctx context.Context, now time.Time) (int, error)
}

// LeaseSweeper periodically counts processing jobs whose lease expired and
// exposes the number as a gauge. It never reclaims jobs itself; ClaimNext
// owns reclamation, the sweeper only makes stalls visible.
type LeaseSweeper struct {
	jobs     ExpiredLeaseCounter
	interval time.Duration
	grace    time.Duration
}

// NewLeaseSweeper constructs a sweeper. grace is subtracted from now so
// leases in the middle of a normal reclaim are not reported.
func NewLeaseSweeper(jobs ExpiredLeaseCounter, interval, grace time.Duration) *LeaseSweeper {
	if jobs == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if grace < 0 {
		grace = 0
	}
	return &LeaseSweeper{jobs: jobs, interval: interval, grace: grace}
}

// Run sweeps until the context is cancelled.
func (s *LeaseSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("lease sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *LeaseSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "LeaseSweeper.sweepOnce")
	defer span.End()

	n, err := s.jobs.CountExpiredLeases(ctx, time.Now().Add(-s.grace))
	if err != nil {
		span.RecordError(err)
		slog.Error("lease sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("jobs.expired_leases", n))
	observability.ExpiredLeases.Set(float64(n))
	if n > 0 {
		slog.Warn("jobs with expired leases awaiting reclaim", slog.Int("count", n))
	}
}
