package usecase

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// ControlService applies the user-facing pause/resume/stop intents. Controls
// only flip the persisted status; the worker observes the change at its next
// row boundary. A transition whose predicate does not hold (wrong current
// status, racing actor) reports ErrConflict.
type ControlService struct {
	Jobs   domain.JobRepository
	Events domain.EventPublisher // optional
}

// NewControlService constructs a ControlService.
func NewControlService(jobs domain.JobRepository, events domain.EventPublisher) *ControlService {
	return &ControlService{Jobs: jobs, Events: events}
}

// getOwned loads a job and enforces tenant isolation. Jobs of other users are
// indistinguishable from absent ones.
func (s *ControlService) getOwned(ctx domain.Context, userID, jobID string) (domain.Job, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.UserID != userID {
		return domain.Job{}, fmt.Errorf("op=control: %w", domain.ErrNotFound)
	}
	return j, nil
}

// Pause requests a pause of a queued or processing job.
func (s *ControlService) Pause(ctx domain.Context, userID, jobID string) error {
	tracer := otel.Tracer("usecase.control")
	ctx, span := tracer.Start(ctx, "control.Pause")
	defer span.End()

	j, err := s.getOwned(ctx, userID, jobID)
	if err != nil {
		return err
	}
	matched, err := s.Jobs.TransitionStatus(ctx, jobID,
		[]domain.JobStatus{domain.JobQueued, domain.JobProcessing}, domain.JobPaused,
		domain.TransitionExtra{})
	if err != nil {
		return fmt.Errorf("op=control.pause: %w", err)
	}
	if !matched {
		return fmt.Errorf("op=control.pause: %w: job is not pausable", domain.ErrConflict)
	}
	s.afterTransition(ctx, j, domain.JobPaused, "paused by user")
	return nil
}

// Resume moves a paused job back to processing and clears its error details
// so the worker retries the prompt that caused an auto-pause. A worker waiting
// at the pause boundary picks the job up in place; if its worker died, the
// expired-lease claim path reclaims it.
func (s *ControlService) Resume(ctx domain.Context, userID, jobID string) error {
	tracer := otel.Tracer("usecase.control")
	ctx, span := tracer.Start(ctx, "control.Resume")
	defer span.End()

	j, err := s.getOwned(ctx, userID, jobID)
	if err != nil {
		return err
	}
	empty := ""
	matched, err := s.Jobs.TransitionStatus(ctx, jobID,
		[]domain.JobStatus{domain.JobPaused}, domain.JobProcessing,
		domain.TransitionExtra{ClearErrorDetails: true, ErrorMessage: &empty})
	if err != nil {
		return fmt.Errorf("op=control.resume: %w", err)
	}
	if !matched {
		return fmt.Errorf("op=control.resume: %w: job is not paused", domain.ErrConflict)
	}
	s.afterTransition(ctx, j, domain.JobProcessing, "resumed by user")
	return nil
}

// Stop terminates a job. A running worker writes its final partial when it
// observes the status; a queued job simply never starts.
func (s *ControlService) Stop(ctx domain.Context, userID, jobID string) error {
	tracer := otel.Tracer("usecase.control")
	ctx, span := tracer.Start(ctx, "control.Stop")
	defer span.End()

	j, err := s.getOwned(ctx, userID, jobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	matched, err := s.Jobs.TransitionStatus(ctx, jobID,
		[]domain.JobStatus{domain.JobQueued, domain.JobProcessing, domain.JobPaused}, domain.JobStopped,
		domain.TransitionExtra{FinishedAt: &now, ClearLease: true, ClearErrorDetails: true})
	if err != nil {
		return fmt.Errorf("op=control.stop: %w", err)
	}
	if !matched {
		return fmt.Errorf("op=control.stop: %w: job already finished", domain.ErrConflict)
	}
	s.afterTransition(ctx, j, domain.JobStopped, "stopped by user")
	return nil
}

func (s *ControlService) afterTransition(ctx domain.Context, j domain.Job, to domain.JobStatus, msg string) {
	_ = s.Jobs.AppendLog(ctx, j.ID, domain.LogInfo, msg)
	publishEvent(ctx, s.Events, domain.JobEvent{
		JobID: j.ID, UserID: j.UserID, Status: to,
		RowsProcessed: j.RowsProcessed, TotalRows: j.TotalRows, At: time.Now().UTC(),
	})
}
