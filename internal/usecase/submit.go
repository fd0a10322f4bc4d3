// Package usecase wires the control-plane operations: job submission, the
// pause/resume/stop controls, status reads, artifact downloads, and provider
// key management. Handlers stay thin; everything stateful goes through the
// domain ports here.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
	"github.com/fairyhunter13/ai-table-enricher/internal/tabular"
	"github.com/fairyhunter13/ai-table-enricher/internal/worker"
)

const maxPrompts = 10

var validate = validator.New()

var allowedProviders = map[string]struct{}{
	domain.ProviderOpenAI:     {},
	domain.ProviderAnthropic:  {},
	domain.ProviderGemini:     {},
	domain.ProviderPerplexity: {},
}

// SubmitInput is one job submission.
type SubmitInput struct {
	UserID   string              `validate:"required"`
	Filename string              `validate:"required"`
	Data     []byte              `validate:"required"`
	Prompts  []domain.PromptSpec `validate:"required,min=1"`
	Options  *domain.JobOptions
}

// SubmitService accepts an uploaded table plus prompts and enqueues a job.
type SubmitService struct {
	Jobs   domain.JobRepository
	Files  domain.FileRepository
	Blobs  domain.BlobStore
	Events domain.EventPublisher // optional
}

// NewSubmitService constructs a SubmitService.
func NewSubmitService(jobs domain.JobRepository, files domain.FileRepository, blobs domain.BlobStore, events domain.EventPublisher) *SubmitService {
	return &SubmitService{Jobs: jobs, Files: files, Blobs: blobs, Events: events}
}

// Submit validates the input table and prompts, stores the blob and metadata,
// writes the optional controls blob, and creates the job in queued.
func (s *SubmitService) Submit(ctx domain.Context, in SubmitInput) (string, error) {
	tracer := otel.Tracer("usecase.submit")
	ctx, span := tracer.Start(ctx, "submit.Submit")
	defer span.End()

	if err := validate.Struct(in); err != nil {
		return "", fmt.Errorf("op=submit: %w: %v", domain.ErrInvalidArgument, err)
	}
	if len(in.Prompts) > maxPrompts {
		return "", fmt.Errorf("op=submit: %w: at most %d prompts per job", domain.ErrInvalidArgument, maxPrompts)
	}
	if err := validatePrompts(in.Prompts); err != nil {
		return "", err
	}

	mt := mimetype.Detect(in.Data)
	if !mt.Is("text/csv") && !mt.Is("text/plain") && !mt.Is("application/csv") {
		return "", fmt.Errorf("op=submit: %w: unsupported upload type %s", domain.ErrInvalidArgument, mt.String())
	}

	headers, rows, err := tabular.Parse(in.Data)
	if err != nil {
		return "", fmt.Errorf("op=submit: %w: %v", domain.ErrInvalidArgument, err)
	}
	if len(headers) == 0 {
		return "", fmt.Errorf("op=submit: %w: table has no header row", domain.ErrInvalidArgument)
	}

	path := fmt.Sprintf("inputs/%s/%s.csv", in.UserID, uuid.New().String())
	if err := s.Blobs.Put(ctx, path, in.Data, "text/csv"); err != nil {
		return "", fmt.Errorf("op=submit: %w", err)
	}
	fileID, err := s.Files.Create(ctx, domain.InputFile{
		UserID:   in.UserID,
		Path:     path,
		Filename: in.Filename,
		MIME:     mt.String(),
		Size:     int64(len(in.Data)),
	})
	if err != nil {
		return "", fmt.Errorf("op=submit: %w", err)
	}

	jobID, err := s.Jobs.Create(ctx, domain.Job{
		UserID:    in.UserID,
		FileID:    fileID,
		Status:    domain.JobQueued,
		Prompts:   in.Prompts,
		TotalRows: len(rows),
	})
	if err != nil {
		return "", fmt.Errorf("op=submit: %w", err)
	}

	// The controls blob must exist before a worker can claim the job; the
	// runner's one-shot retry covers the remaining window.
	if in.Options != nil {
		raw, mErr := json.Marshal(in.Options)
		if mErr == nil {
			if pErr := s.Blobs.Put(ctx, worker.OptionsPath(in.UserID, jobID), raw, "application/json"); pErr != nil {
				slog.Warn("controls blob write failed", slog.String("job_id", jobID), slog.Any("error", pErr))
			}
		}
	}

	if lErr := s.Jobs.AppendLog(ctx, jobID, domain.LogInfo,
		fmt.Sprintf("job created: %d rows, %d prompts", len(rows), len(in.Prompts))); lErr != nil {
		slog.Warn("job log append failed", slog.String("job_id", jobID), slog.Any("error", lErr))
	}
	publishEvent(ctx, s.Events, domain.JobEvent{
		JobID: jobID, UserID: in.UserID, Status: domain.JobQueued,
		TotalRows: len(rows), At: time.Now().UTC(),
	})
	slog.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("user_id", in.UserID),
		slog.Int("rows", len(rows)),
		slog.Int("prompts", len(in.Prompts)))
	return jobID, nil
}

func validatePrompts(prompts []domain.PromptSpec) error {
	seen := make(map[string]struct{}, len(prompts))
	for i, p := range prompts {
		if strings.TrimSpace(p.PromptText) == "" {
			return fmt.Errorf("op=submit: %w: prompt %d has empty promptText", domain.ErrInvalidArgument, i)
		}
		if strings.TrimSpace(p.OutputColumn) == "" {
			return fmt.Errorf("op=submit: %w: prompt %d has empty outputColumnName", domain.ErrInvalidArgument, i)
		}
		if _, ok := allowedProviders[p.Provider]; !ok {
			return fmt.Errorf("op=submit: %w: prompt %d has unknown provider %q", domain.ErrInvalidArgument, i, p.Provider)
		}
		if p.ModelID == "" {
			return fmt.Errorf("op=submit: %w: prompt %d has empty modelId", domain.ErrInvalidArgument, i)
		}
		if _, dup := seen[p.OutputColumn]; dup {
			return fmt.Errorf("op=submit: %w: duplicate output column %q", domain.ErrInvalidArgument, p.OutputColumn)
		}
		seen[p.OutputColumn] = struct{}{}
	}
	return nil
}

func publishEvent(ctx domain.Context, events domain.EventPublisher, evt domain.JobEvent) {
	if events == nil {
		return
	}
	if err := events.PublishJobEvent(ctx, evt); err != nil {
		slog.Warn("job event publish failed", slog.String("job_id", evt.JobID), slog.Any("error", err))
	}
}
