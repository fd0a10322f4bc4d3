package usecase

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// StatusService serves job status and log reads.
type StatusService struct {
	Jobs domain.JobRepository
}

// NewStatusService constructs a StatusService.
func NewStatusService(jobs domain.JobRepository) *StatusService {
	return &StatusService{Jobs: jobs}
}

// Get returns a job owned by userID.
func (s *StatusService) Get(ctx domain.Context, userID, jobID string) (domain.Job, error) {
	tracer := otel.Tracer("usecase.status")
	ctx, span := tracer.Start(ctx, "status.Get")
	defer span.End()

	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.UserID != userID {
		return domain.Job{}, fmt.Errorf("op=status.get: %w", domain.ErrNotFound)
	}
	return j, nil
}

// Logs returns the job's log entries in order.
func (s *StatusService) Logs(ctx domain.Context, userID, jobID string) ([]domain.JobLog, error) {
	tracer := otel.Tracer("usecase.status")
	ctx, span := tracer.Start(ctx, "status.Logs")
	defer span.End()

	if _, err := s.Get(ctx, userID, jobID); err != nil {
		return nil, err
	}
	logs, err := s.Jobs.ListLogs(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=status.logs: %w", err)
	}
	return logs, nil
}
