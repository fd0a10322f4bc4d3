package usecase

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/worker"
)

// OptionsService writes the per-job controls blob. The worker re-reads it at
// run start and after every resume, so updating options on a paused job takes
// effect on the next resumed row.
type OptionsService struct {
	Jobs  domain.JobRepository
	Blobs domain.BlobStore
}

// NewOptionsService constructs an OptionsService.
func NewOptionsService(jobs domain.JobRepository, blobs domain.BlobStore) *OptionsService {
	return &OptionsService{Jobs: jobs, Blobs: blobs}
}

// Set stores the controls blob for a job owned by userID.
func (s *OptionsService) Set(ctx domain.Context, userID, jobID string, opts domain.JobOptions) error {
	tracer := otel.Tracer("usecase.options")
	ctx, span := tracer.Start(ctx, "options.Set")
	defer span.End()

	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.UserID != userID {
		return fmt.Errorf("op=options.set: %w", domain.ErrNotFound)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("op=options.set: %w: job already finished", domain.ErrConflict)
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("op=options.set: %w", err)
	}
	if err := s.Blobs.Put(ctx, worker.OptionsPath(userID, jobID), raw, "application/json"); err != nil {
		return fmt.Errorf("op=options.set: %w", err)
	}
	return nil
}
